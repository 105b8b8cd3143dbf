// internal/service/loyalty/infrastructure/persistence/segment_repository.go
package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyhub/internal/service/loyalty/domain"
)

// GormSegmentRepository 保存 RFM 分群结果和分群变化。
type GormSegmentRepository struct {
	db *gorm.DB
}

func NewGormSegmentRepository(db *gorm.DB) *GormSegmentRepository {
	return &GormSegmentRepository{db: db}
}

var _ domain.SegmentRepository = (*GormSegmentRepository)(nil)

func (r *GormSegmentRepository) SaveAssignment(ctx context.Context, a domain.SegmentAssignment) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(fromDomainAssignment(a)).Error
	return errors.Wrap(err, "upsert segment assignment")
}

func (r *GormSegmentRepository) GetAssignment(ctx context.Context, customerID string) (*domain.SegmentAssignment, error) {
	var model SegmentAssignmentModel
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query segment assignment")
	}
	a := toDomainAssignment(&model)
	return &a, nil
}

func (r *GormSegmentRepository) ListAssignments(ctx context.Context) ([]domain.SegmentAssignment, error) {
	var models []*SegmentAssignmentModel
	if err := r.db.WithContext(ctx).Order("customer_id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list segment assignments")
	}
	out := make([]domain.SegmentAssignment, len(models))
	for i, m := range models {
		out[i] = toDomainAssignment(m)
	}
	return out, nil
}

func (r *GormSegmentRepository) AppendMovement(ctx context.Context, m domain.SegmentMovement) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(fromDomainMovement(m)).Error, "insert segment movement")
}

func (r *GormSegmentRepository) RecentMovements(ctx context.Context, limit int) ([]domain.SegmentMovement, error) {
	var models []*SegmentMovementModel
	if err := r.db.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list segment movements")
	}
	out := make([]domain.SegmentMovement, len(models))
	for i, m := range models {
		out[i] = toDomainMovement(m)
	}
	return out, nil
}

// GormCustomSegmentRepository 保存自定义分群定义和成员。
type GormCustomSegmentRepository struct {
	db *gorm.DB
}

func NewGormCustomSegmentRepository(db *gorm.DB) *GormCustomSegmentRepository {
	return &GormCustomSegmentRepository{db: db}
}

var _ domain.CustomSegmentRepository = (*GormCustomSegmentRepository)(nil)

func (r *GormCustomSegmentRepository) Create(ctx context.Context, def *domain.CustomSegmentDefinition, members []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fromDomainCustomSegment(def)).Error; err != nil {
			return errors.Wrap(err, "insert custom segment")
		}
		if len(members) == 0 {
			return nil
		}
		return errors.Wrap(tx.CreateInBatches(memberRows(def.ID, members), 500).Error, "insert custom segment members")
	})
}

func (r *GormCustomSegmentRepository) Get(ctx context.Context, id string) (*domain.CustomSegmentDefinition, error) {
	var model CustomSegmentModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSegmentNotFound
		}
		return nil, errors.Wrap(err, "query custom segment")
	}
	return toDomainCustomSegment(&model), nil
}

func (r *GormCustomSegmentRepository) List(ctx context.Context, activeOnly bool) ([]*domain.CustomSegmentDefinition, error) {
	q := r.db.WithContext(ctx).Order("created_at").Order("id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []*CustomSegmentModel
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list custom segments")
	}
	out := make([]*domain.CustomSegmentDefinition, len(models))
	for i, m := range models {
		out[i] = toDomainCustomSegment(m)
	}
	return out, nil
}

func (r *GormCustomSegmentRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&CustomSegmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": at})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update custom segment")
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *GormCustomSegmentRepository) ReplaceMembers(ctx context.Context, segmentID string, customerIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("segment_id = ?", segmentID).Delete(&CustomSegmentMemberModel{}).Error; err != nil {
			return errors.Wrap(err, "clear custom segment members")
		}
		if len(customerIDs) == 0 {
			return nil
		}
		return errors.Wrap(tx.CreateInBatches(memberRows(segmentID, customerIDs), 500).Error, "insert custom segment members")
	})
}

func memberRows(segmentID string, customerIDs []string) []CustomSegmentMemberModel {
	rows := make([]CustomSegmentMemberModel, len(customerIDs))
	for i, id := range customerIDs {
		rows[i] = CustomSegmentMemberModel{SegmentID: segmentID, CustomerID: id}
	}
	return rows
}

func (r *GormCustomSegmentRepository) SetMembership(ctx context.Context, segmentID, customerID string, member bool) error {
	row := CustomSegmentMemberModel{SegmentID: segmentID, CustomerID: customerID}
	db := r.db.WithContext(ctx)
	if member {
		return errors.Wrap(db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error, "add custom segment member")
	}
	return errors.Wrap(db.Where("segment_id = ? AND customer_id = ?", segmentID, customerID).
		Delete(&CustomSegmentMemberModel{}).Error, "remove custom segment member")
}

func (r *GormCustomSegmentRepository) Members(ctx context.Context, segmentID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&CustomSegmentMemberModel{}).
		Where("segment_id = ?", segmentID).
		Order("customer_id").
		Pluck("customer_id", &ids).Error
	return ids, errors.Wrap(err, "list custom segment members")
}

// GormSnapshotStore 把健康分快照保存在 MySQL 中，用于没有 Redis 的部署。
type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

var _ domain.HealthSnapshotStore = (*GormSnapshotStore)(nil)

func (s *GormSnapshotStore) Get(ctx context.Context, customerID string) (*domain.HealthSnapshot, error) {
	var model HealthSnapshotModel
	err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query health snapshot")
	}
	return toDomainSnapshot(&model), nil
}

func (s *GormSnapshotStore) Put(ctx context.Context, snap domain.HealthSnapshot) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(fromDomainSnapshot(snap)).Error
	return errors.Wrap(err, "upsert health snapshot")
}
