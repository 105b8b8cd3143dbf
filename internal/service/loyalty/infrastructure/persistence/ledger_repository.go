// internal/service/loyalty/infrastructure/persistence/ledger_repository.go
package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyhub/internal/service/loyalty/domain"
)

// GormLedgerRepository 是账户、账本和到店记录的 GORM 实现。
type GormLedgerRepository struct {
	db *gorm.DB
}

func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

var (
	_ domain.AccountRepository = (*GormLedgerRepository)(nil)
	_ domain.LedgerRepository  = (*GormLedgerRepository)(nil)
	_ domain.VisitRepository   = (*GormLedgerRepository)(nil)
)

func (r *GormLedgerRepository) Create(ctx context.Context, acc *domain.LoyaltyAccount) error {
	err := r.db.WithContext(ctx).Create(fromDomainAccount(acc)).Error
	if isDuplicateKey(err) {
		return domain.ErrAccountExists
	}
	return errors.Wrap(err, "insert loyalty account")
}

func (r *GormLedgerRepository) Get(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnknownCustomer
		}
		return nil, errors.Wrap(err, "query loyalty account")
	}
	return toDomainAccount(&model), nil
}

// casUpdate 以 version 作为条件更新账户，没有命中行时说明版本已被别人推进。
func casUpdate(tx *gorm.DB, acc *domain.LoyaltyAccount) error {
	res := tx.Model(&AccountModel{}).
		Where("customer_id = ? AND version = ?", acc.CustomerID, acc.Version).
		Updates(accountUpdates(acc, acc.Version+1))
	if res.Error != nil {
		return errors.Wrap(res.Error, "update loyalty account")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&AccountModel{}).Where("customer_id = ?", acc.CustomerID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check loyalty account")
		}
		if n == 0 {
			return domain.ErrUnknownCustomer
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *GormLedgerRepository) Save(ctx context.Context, acc *domain.LoyaltyAccount) error {
	if err := casUpdate(r.db.WithContext(ctx), acc); err != nil {
		return err
	}
	acc.Version++
	return nil
}

// Commit 在一个数据库事务内完成：锁定账户行 → 校验版本 → 更新账户 → 追加流水和到店记录。
func (r *GormLedgerRepository) Commit(ctx context.Context, m domain.LedgerMutation) error {
	acc := m.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ?", acc.CustomerID).
			First(&cur).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUnknownCustomer
			}
			return errors.Wrap(err, "lock loyalty account")
		}
		if cur.Version != acc.Version {
			return domain.ErrConcurrentModification
		}
		if err := casUpdate(tx, acc); err != nil {
			return err
		}
		if m.Transaction != nil {
			if err := tx.Create(fromDomainTransaction(m.Transaction)).Error; err != nil {
				return errors.Wrap(err, "insert loyalty transaction")
			}
		}
		if m.Visit != nil {
			if err := tx.Create(fromDomainVisit(m.Visit)).Error; err != nil {
				return errors.Wrap(err, "insert visit")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	acc.Version++
	return nil
}

func (r *GormLedgerRepository) ListCustomerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&AccountModel{}).
		Where("active = ?", true).
		Order("customer_id").
		Pluck("customer_id", &ids).Error
	return ids, errors.Wrap(err, "list customer ids")
}

func (r *GormLedgerRepository) List(ctx context.Context, f domain.AccountFilter) ([]*domain.LoyaltyAccount, error) {
	q := r.db.WithContext(ctx).Model(&AccountModel{})
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if f.Tier != "" {
		q = q.Where("tier_level = ?", string(f.Tier))
	}
	if f.Segment != "" {
		q = q.Where("segment = ?", string(f.Segment))
	}
	var models []*AccountModel
	if err := q.Order("customer_id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	out := make([]*domain.LoyaltyAccount, len(models))
	for i, m := range models {
		out[i] = toDomainAccount(m)
	}
	return out, nil
}

func (r *GormLedgerRepository) History(ctx context.Context, customerID string) ([]*domain.LoyaltyTransaction, error) {
	var models []*TransactionModel
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("seq").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "query ledger history")
	}
	return toDomainTransactions(models), nil
}

func (r *GormLedgerRepository) Recent(ctx context.Context, customerID string, limit int) ([]*domain.LoyaltyTransaction, error) {
	var models []*TransactionModel
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).
		Order("seq DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query recent transactions")
	}
	return toDomainTransactions(models), nil
}

func toDomainTransactions(models []*TransactionModel) []*domain.LoyaltyTransaction {
	out := make([]*domain.LoyaltyTransaction, len(models))
	for i, m := range models {
		out[i] = toDomainTransaction(m)
	}
	return out
}

// typeSum 是按流水类型聚合的一行结果。
type typeSum struct {
	Type  string
	Total int64
}

func (r *GormLedgerRepository) Activity(ctx context.Context, customerID string, since time.Time) (domain.LedgerActivity, error) {
	var out domain.LedgerActivity
	var sums []typeSum
	err := r.db.WithContext(ctx).Model(&TransactionModel{}).
		Select("type, SUM(points_change) AS total").
		Where("customer_id = ?", customerID).
		Group("type").
		Scan(&sums).Error
	if err != nil {
		return out, errors.Wrap(err, "aggregate customer ledger")
	}
	for _, s := range sums {
		out.AddTypeSum(domain.TransactionType(s.Type), s.Total)
	}
	err = r.db.WithContext(ctx).Model(&TransactionModel{}).
		Where("customer_id = ? AND type IN ? AND created_at >= ?", customerID,
			[]string{string(domain.TxRedeemedDiscount), string(domain.TxRedeemedItem)}, since).
		Count(&out.RedemptionsLast90Days).Error
	return out, errors.Wrap(err, "count recent redemptions")
}

func (r *GormLedgerRepository) Totals(ctx context.Context, f domain.LedgerFilter) (domain.LedgerTotals, error) {
	var out domain.LedgerTotals
	q := r.db.WithContext(ctx).Model(&TransactionModel{}).Select("type, SUM(points_change) AS total")
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	var sums []typeSum
	if err := q.Group("type").Scan(&sums).Error; err != nil {
		return out, errors.Wrap(err, "aggregate ledger totals")
	}
	for _, s := range sums {
		out.AddTypeSum(domain.TransactionType(s.Type), s.Total)
	}
	return out, nil
}

func (r *GormLedgerRepository) ListSince(ctx context.Context, customerID string, since time.Time) ([]*domain.Visit, error) {
	var models []*VisitModel
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND visited_at >= ?", customerID, since).
		Order("visited_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query visits")
	}
	out := make([]*domain.Visit, len(models))
	for i, m := range models {
		out[i] = toDomainVisit(m)
	}
	return out, nil
}
