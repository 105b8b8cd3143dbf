// internal/service/loyalty/application/pipeline/persist.go
package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/codes"
)

// PersistHandler 写入本次重算的全部增量。账户保存放在最前面，版本冲突时其余写入都不会发生。
type PersistHandler struct {
	NextHandler
}

func (h *PersistHandler) Handle(rc *RecomputeContext) error {
	ctx, span := rc.Tracer.Start(rc.Ctx, "pipeline.Persist")
	err := persist(ctx, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist recompute results")
	}
	span.End()
	if err != nil {
		return err
	}
	return h.executeNext(rc)
}

func persist(ctx context.Context, rc *RecomputeContext) error {
	st := rc.Stores
	id := rc.Account.CustomerID
	if rc.accountDirty {
		if err := st.Accounts.Save(ctx, rc.Account); err != nil {
			return err
		}
	}
	if err := st.Segments.SaveAssignment(ctx, rc.Assignment); err != nil {
		return err
	}
	if rc.Movement != nil {
		if err := st.Segments.AppendMovement(ctx, *rc.Movement); err != nil {
			return err
		}
	}
	for _, r := range rc.CustomResults {
		if err := st.CustomSegments.SetMembership(ctx, r.SegmentID, id, r.Matched); err != nil {
			return err
		}
	}
	return st.Snapshots.Put(ctx, rc.Health)
}
