// internal/zookeeper/conn.go
package zookeeper

import (
	"context"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
)

// Conn 是 ZooKeeper 会话。会话断开后其上的临时节点会被服务端删除，锁随之释放。
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群并等待会话建立。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("no zookeeper servers configured")
	}
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Ctx(context.Background()).Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper")
				return &Conn{Conn: c}, nil
			}
		case <-timeout:
			c.Close()
			return nil, errors.Errorf("zookeeper session not established within %s", sessionTimeout)
		}
	}
}

// ensurePath 逐级创建持久节点，已存在的节点忽略。
func (c *Conn) ensurePath(path string) error {
	for i := 1; i <= len(path); i++ {
		if i != len(path) && path[i] != '/' {
			continue
		}
		p := path[:i]
		exists, _, err := c.Exists(p)
		if err != nil {
			return errors.Wrapf(err, "check node %s", p)
		}
		if exists {
			continue
		}
		if _, err := c.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "create node %s", p)
		}
	}
	return nil
}
