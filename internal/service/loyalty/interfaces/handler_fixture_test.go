package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/infrastructure/lock"
	"loyaltyhub/internal/service/loyalty/infrastructure/memory"
	"loyaltyhub/internal/service/loyalty/infrastructure/rule"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *application.LoyaltyService {
	t.Helper()
	engines, err := application.NewEngineHolder(domain.DefaultEngineConfig(), rule.NewCELCompilerAdapter())
	require.NoError(t, err)

	ledger := memory.NewLedgerStore()
	return application.NewLoyaltyService(application.Deps{
		Accounts:       ledger,
		Ledger:         ledger,
		Visits:         ledger,
		Segments:       memory.NewSegmentStore(),
		CustomSegments: memory.NewCustomSegmentStore(),
		Snapshots:      memory.NewSnapshotStore(),
		Locker:         lock.NewLocalLocker(),
		Engines:        engines,
		Tracer:         noop.NewTracerProvider().Tracer("test"),
	}, application.Options{
		Clock: func() time.Time { return testNow },
	})
}
