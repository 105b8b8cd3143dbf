package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  name: loyalty-test
  port: 9000
  lock:
    backend: redis
    ttl: 3s
  retry:
    maxTries: 7
infra:
  redis:
    addrs: redis-a:6379
  kafka:
    brokers: [k1:9092, k2:9092]
    visitTopic: loyalty.visits
engine:
  ledger:
    pointsPerUnit: 50
`

func TestParseAppliesDefaultsAndValues(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "loyalty-test", cfg.App.Name)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "redis", cfg.App.Lock.Backend)
	assert.Equal(t, 3*time.Second, cfg.App.Lock.TTL)
	assert.Equal(t, 5*time.Second, cfg.App.Lock.Wait)
	assert.Equal(t, uint(7), cfg.App.Retry.MaxTries)
	assert.Equal(t, "memory", cfg.App.Dedup.Backend)
	assert.Equal(t, 72*time.Hour, cfg.App.Dedup.TTL)
	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Equal(t, 8, cfg.App.BatchParallelism)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "loyalty-service", cfg.Infra.Kafka.GroupID)
}

func TestParseEnvOverridesInfra(t *testing.T) {
	t.Setenv("REDIS_ADDRS", "redis-b:6379")
	t.Setenv("KAFKA_BROKERS", "k9:9092")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "redis-b:6379", cfg.Infra.Redis.Addrs)
	assert.Equal(t, []string{"k9:9092"}, cfg.Infra.Kafka.Brokers)
}

func TestDecodeEngine(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	var out struct {
		Ledger struct {
			PointsPerUnit int64 `yaml:"pointsPerUnit"`
		} `yaml:"ledger"`
	}
	present, err := cfg.DecodeEngine(&out)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, int64(50), out.Ledger.PointsPerUnit)

	empty, err := Parse([]byte("app:\n  name: x\n"))
	require.NoError(t, err)
	present, err = empty.DecodeEngine(&out)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("app: [unclosed"))
	assert.Error(t, err)
}
