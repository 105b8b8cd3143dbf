package loyalty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
)

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := bootstrap.Load("../../../configs/loyalty-service.yaml")
	require.NoError(t, err)

	ec, err := EngineConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultEngineConfig(), ec)
}

func TestBuildInMemory(t *testing.T) {
	cfg, err := bootstrap.Parse([]byte(`
app:
  storage: memory
  snapshotStore: memory
  lock:
    backend: local
engine:
  ledger:
    pointsPerUnit: 50
`))
	require.NoError(t, err)

	ctx := context.Background()
	rt, err := Build(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.Equal(t, int64(50), rt.Engines.Load().Config.Ledger.PointsPerUnit)
	require.NotNil(t, rt.Dedup)
	claimed, err := rt.Dedup.Claim(ctx, "visits:event:e-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = rt.Service.RegisterCustomer(ctx, "c-1")
	require.NoError(t, err)
	res, err := rt.Service.AddPoints(ctx, application.AddPointsRequest{CustomerID: "c-1", Points: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Loyalty.CurrentPoints)
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	for _, doc := range []string{
		"app: {storage: sqlite}",
		"app: {snapshotStore: etcd}",
		"app: {lock: {backend: consul}}",
		"app: {storage: memory, snapshotStore: mysql}",
		"app: {dedup: {backend: etcd}}",
	} {
		cfg, err := bootstrap.Parse([]byte(doc))
		require.NoError(t, err)
		_, err = Build(context.Background(), cfg, nil, nil)
		assert.Error(t, err, doc)
	}
}
