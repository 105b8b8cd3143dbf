// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot = "/loyalty_locks" // 所有客户锁的根节点
	// 顺序节点的序号是固定 10 位十进制后缀
	sequenceDigits = 10
)

var ErrLockTimeout = errors.New("timeout waiting for zookeeper lock")

// DistributedLock 是基于临时顺序节点的公平锁，每个资源一个实例，不可重入。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /loyalty_locks/cust-123
	lockNode string // 成功获取锁后，自己创建的节点路径
	wait     time.Duration
}

// NewDistributedLock 创建一个资源锁。wait 是最长等待时间，0 表示只受 ctx 控制。
func NewDistributedLock(conn *Conn, resourceID string, wait time.Duration) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	if err := conn.ensurePath(lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath, wait: wait}, nil
}

// Lock 尝试获取锁，获取不到时监听前一个节点并阻塞等待。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点，protected 前缀保证重连后能找回自己的节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")

	var deadline <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// 2. 获取全部子节点，按序号排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "list lock children")
		}
		prev, first, err := predecessor(children, myNodeName)
		if err != nil {
			l.abandon()
			return err
		}
		// 3. 自己是最小节点，获得锁
		if first {
			return nil
		}

		// 4. 监听前一个节点
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "watch previous node")
		}
		if !exists {
			continue
		}
		select {
		case <-eventChan:
			// 前一个节点删除或会话事件，都重新检查一次
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		case <-deadline:
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	return nil
}

func (l *DistributedLock) abandon() {
	_ = l.Unlock()
}

// sequenceOf 取出节点名末尾的序号。protected 节点带有 GUID 前缀，不能直接按名字排序。
func sequenceOf(name string) int64 {
	if len(name) < sequenceDigits {
		return -1
	}
	seq, err := strconv.ParseInt(name[len(name)-sequenceDigits:], 10, 64)
	if err != nil {
		return -1
	}
	return seq
}

// predecessor 返回排在 self 前面的节点；first 为 true 表示 self 就是最小节点。
func predecessor(children []string, self string) (prev string, first bool, err error) {
	sorted := append([]string(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sequenceOf(sorted[i]) < sequenceOf(sorted[j]) })
	for i, child := range sorted {
		if child != self {
			continue
		}
		if i == 0 {
			return "", true, nil
		}
		return sorted[i-1], false, nil
	}
	return "", false, errors.Errorf("lock node %s disappeared, session may have expired", self)
}
