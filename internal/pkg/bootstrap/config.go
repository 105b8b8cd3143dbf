// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/nacos"
)

const defaultConfigFile = "configs/loyalty-service.yaml"

// Config 是服务的完整配置。Engine 段保持为原始 YAML 节点，由业务服务自行解码和校验。
type Config struct {
	App    AppConfig   `yaml:"app"`
	Infra  InfraConfig `yaml:"infra"`
	Engine yaml.Node   `yaml:"engine"`
}

type AppConfig struct {
	Name             string        `yaml:"name"`
	Port             int           `yaml:"port"`
	LogLevel         string        `yaml:"logLevel"`
	LogPretty        bool          `yaml:"logPretty"`
	TraceSampleRatio float64       `yaml:"traceSampleRatio"`
	Storage          string        `yaml:"storage"`       // memory | mysql
	SnapshotStore    string        `yaml:"snapshotStore"` // memory | redis | mysql
	Lock             LockConfig    `yaml:"lock"`
	Dedup            DedupConfig   `yaml:"dedup"`
	Retry            RetryConfig   `yaml:"retry"`
	BatchParallelism int           `yaml:"batchParallelism"`
	RefreshEvery     time.Duration `yaml:"refreshEvery"`
	// SignalsService 是提供反馈/触达统计的协作服务在 Nacos 中的服务名，为空时不拉取
	SignalsService string        `yaml:"signalsService"`
	SignalsTimeout time.Duration `yaml:"signalsTimeout"`
}

type LockConfig struct {
	Backend string        `yaml:"backend"` // local | redis | zookeeper
	TTL     time.Duration `yaml:"ttl"`
	Wait    time.Duration `yaml:"wait"`
}

// DedupConfig 控制 Kafka 入站消息的去重表。
type DedupConfig struct {
	Backend string        `yaml:"backend"` // memory | redis
	TTL     time.Duration `yaml:"ttl"`
}

type RetryConfig struct {
	MaxTries   uint          `yaml:"maxTries"`
	MaxElapsed time.Duration `yaml:"maxElapsed"`
}

type InfraConfig struct {
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		GroupID     string   `yaml:"groupId"`
		VisitTopic  string   `yaml:"visitTopic"`
		PointsTopic string   `yaml:"pointsTopic"`
		EventTopic  string   `yaml:"eventTopic"`
		DLTTopic    string   `yaml:"dltTopic"`
	} `yaml:"kafka"`
	Zookeeper struct {
		Servers        []string      `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"sessionTimeout"`
	} `yaml:"zookeeper"`
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
		DataID      string `yaml:"dataId"`
	} `yaml:"nacos"`
}

var (
	currentConfig     atomic.Pointer[Config]
	listenersMu       sync.Mutex
	listeners         []func(*Config)
	nacosConfigClient *nacos.ConfigClient
)

// Init 加载配置：先读本地文件，再用环境变量覆盖基础设施地址，
// 如果配置了 Nacos 的 dataId，则以配置中心的内容为准并监听变更。
func Init() {
	logger.Init("bootstrap", "info", false)
	path := getEnv("CONFIG_FILE", defaultConfigFile)
	cfg, err := Load(path)
	if err != nil {
		logger.Ctx(context.Background()).Fatal().Err(err).Str("path", path).Msg("🛑 failed to load config")
	}

	if cfg.Infra.Nacos.ServerAddrs != "" && cfg.Infra.Nacos.DataID != "" {
		remote, err := initNacosConfig(cfg)
		if err != nil {
			logger.Ctx(context.Background()).Fatal().Err(err).Msg("🛑 failed to load config from nacos")
		}
		cfg = remote
	}

	logger.Init(cfg.App.Name, cfg.App.LogLevel, cfg.App.LogPretty)
	currentConfig.Store(cfg)
	logger.Ctx(context.Background()).Info().Str("path", path).Str("storage", cfg.App.Storage).
		Str("lock", cfg.App.Lock.Backend).Msg("✅ Config loaded")
}

// Load 从文件读取并解析配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，填充默认值并应用环境变量覆盖。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "loyalty-service"
	}
	if c.App.Port == 0 {
		c.App.Port = 8090
	}
	if c.App.Storage == "" {
		c.App.Storage = "memory"
	}
	if c.App.SnapshotStore == "" {
		c.App.SnapshotStore = "memory"
	}
	if c.App.Lock.Backend == "" {
		c.App.Lock.Backend = "local"
	}
	if c.App.Lock.TTL == 0 {
		c.App.Lock.TTL = 10 * time.Second
	}
	if c.App.Lock.Wait == 0 {
		c.App.Lock.Wait = 5 * time.Second
	}
	if c.App.Dedup.Backend == "" {
		c.App.Dedup.Backend = "memory"
	}
	if c.App.Dedup.TTL == 0 {
		c.App.Dedup.TTL = 72 * time.Hour
	}
	if c.App.Retry.MaxTries == 0 {
		c.App.Retry.MaxTries = 5
	}
	if c.App.Retry.MaxElapsed == 0 {
		c.App.Retry.MaxElapsed = 3 * time.Second
	}
	if c.App.BatchParallelism <= 0 {
		c.App.BatchParallelism = 8
	}
	if c.App.TraceSampleRatio <= 0 {
		c.App.TraceSampleRatio = 1
	}
	if c.App.SignalsTimeout == 0 {
		c.App.SignalsTimeout = 800 * time.Millisecond
	}
	if c.Infra.Kafka.GroupID == "" {
		c.Infra.Kafka.GroupID = "loyalty-service"
	}
	if c.Infra.Zookeeper.SessionTimeout == 0 {
		c.Infra.Zookeeper.SessionTimeout = 5 * time.Second
	}
	if c.Infra.Nacos.Group == "" {
		c.Infra.Nacos.Group = "DEFAULT_GROUP"
	}
}

// applyEnv 让部署环境覆盖基础设施地址，与 Kubernetes 的 env 注入方式保持一致。
func (c *Config) applyEnv() {
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if servers := getEnv("ZOOKEEPER_SERVERS", ""); servers != "" {
		c.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
}

// DecodeEngine 把 engine 段解码到 out，返回是否存在 engine 段。缺失时 out 保持不变。
func (c *Config) DecodeEngine(out any) (bool, error) {
	if c.Engine.Kind == 0 {
		return false, nil
	}
	if err := c.Engine.Decode(out); err != nil {
		return true, errors.Wrap(err, "decode engine config")
	}
	return true, nil
}

// GetCurrentConfig 返回当前生效的配置。Init 之前调用会得到只含默认值的配置。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// SetCurrentConfig 替换当前配置，主要用于测试和命令行工具。
func SetCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
}

// OnConfigChange 注册配置热更新回调。回调返回前新配置已经生效。
func OnConfigChange(fn func(*Config)) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	listeners = append(listeners, fn)
}

func applyRemote(content string) {
	cfg, err := Parse([]byte(content))
	if err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("🚨 rejected invalid config pushed by nacos")
		return
	}
	currentConfig.Store(cfg)
	listenersMu.Lock()
	fns := append([]func(*Config){}, listeners...)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
	logger.Ctx(context.Background()).Info().Msg("✅ Config reloaded from nacos")
}

func createNacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	return nacos.ParseServerConfigs(addrs)
}

func createNacosClientConfig(namespace string) constant.ClientConfig {
	return nacos.NewClientConfig(namespace)
}

func initNacosConfig(local *Config) (*Config, error) {
	n := local.Infra.Nacos
	serverConfigs, err := createNacosServerConfigs(n.ServerAddrs)
	if err != nil {
		return nil, err
	}
	clientConfig := createNacosClientConfig(n.Namespace)
	client, err := nacos.NewConfigClient(serverConfigs, &clientConfig, n.Group)
	if err != nil {
		return nil, err
	}
	content, err := client.Get(n.DataID)
	if err != nil {
		client.Close()
		return nil, err
	}
	cfg, err := Parse([]byte(content))
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := client.Listen(n.DataID, applyRemote); err != nil {
		client.Close()
		return nil, err
	}
	nacosConfigClient = client
	return cfg, nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
