package store

import (
	"context"
	"errors"
	"time"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Store of a MySQL, Postgres or SQLite database.
type GormStore struct {
	db *gorm.DB
}

// NewGorm returns a Store over an opened and migrated database.
func NewGorm(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

func (s *GormStore) ActiveAmounts(ctx context.Context, lo, hi int64) ([]int64, error) {
	var amounts []int64
	err := s.db.WithContext(ctx).Model(&db.Payment{}).
		Where("status = ? AND expected_amount BETWEEN ? AND ?", db.PaymentInitiated, lo, hi).
		Pluck("expected_amount", &amounts).Error
	if err != nil {
		return nil, errcode.Wrap(errcode.StorageFailure, err, "load active payment amounts")
	}
	return amounts, nil
}

func (s *GormStore) CreateOrder(ctx context.Context, order *db.Order, lines []db.OrderLine, payment *db.Payment) error {
	if payment.Status == db.PaymentInitiated {
		active := payment.ExpectedAmount
		payment.ActiveAmount = &active
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		return tx.Create(payment).Error
	})
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return errcode.Wrap(errcode.AllocationConflict, err, "expected amount taken by a concurrent order")
	}
	return errcode.Wrap(errcode.StorageFailure, err, "failed to create order")
}

func (s *GormStore) Order(ctx context.Context, orderID string) (*db.Order, error) {
	var order db.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("order")
		}
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to load order")
	}
	return &order, nil
}

func (s *GormStore) OrderLines(ctx context.Context, orderID string) ([]db.OrderLine, error) {
	var lines []db.OrderLine
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&lines).Error; err != nil {
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to load order lines")
	}
	return lines, nil
}

func (s *GormStore) PaymentByOrder(ctx context.Context, orderID string) (*db.Payment, error) {
	var payment db.Payment
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("payment")
		}
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to load payment")
	}
	return &payment, nil
}

func (s *GormStore) Confirm(ctx context.Context, c Confirmation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment db.Payment
		if err := tx.Where("id = ? AND order_id = ?", c.PaymentID, c.OrderID).Take(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("payment")
			}
			return err
		}

		res := tx.Model(&db.Payment{}).
			Where("id = ? AND status = ?", c.PaymentID, db.PaymentInitiated).
			Updates(map[string]any{
				"status":          db.PaymentConfirmed,
				"active_amount":   nil,
				"tx_hash":         c.TxHash,
				"sender_address":  c.Sender,
				"received_amount": c.ReceivedAmount.String(),
				"block_number":    c.BlockNumber,
				"block_timestamp": c.BlockTime.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errConfirmConflict
		}

		var order db.Order
		if err := tx.Where("id = ?", c.OrderID).Take(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("order")
			}
			return err
		}
		res = tx.Model(&db.Order{}).
			Where("id = ? AND status = ?", c.OrderID, db.OrderPendingPayment).
			Update("status", db.OrderConfirmed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errcode.New(errcode.ConfirmConflict, "order not in pending_payment state")
		}

		evt, err := confirmedEvent(&order, &payment, c)
		if err != nil {
			return err
		}
		return tx.Create(evt).Error
	})

	var e *errcode.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return e
	case isDuplicateKey(err):
		return errTxAlreadyUsed
	default:
		return errcode.Wrap(errcode.StorageFailure, err, "failed to confirm payment")
	}
}

func (s *GormStore) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	var expired int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		query := tx.Model(&db.Order{}).
			Where("status = ? AND expires_at < ?", db.OrderPendingPayment, now.UTC()).
			Order("expires_at")
		if limit > 0 {
			query = query.Limit(limit)
		}
		err := query.Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}

		err = tx.Model(&db.Payment{}).
			Where("order_id IN ? AND status = ?", ids, db.PaymentInitiated).
			Updates(map[string]any{"status": db.PaymentFailed, "active_amount": nil}).Error
		if err != nil {
			return err
		}

		res := tx.Model(&db.Order{}).
			Where("id IN ? AND status = ?", ids, db.OrderPendingPayment).
			Update("status", db.OrderExpired)
		expired = int(res.RowsAffected)
		return res.Error
	})
	if err != nil {
		return 0, errcode.Wrap(errcode.StorageFailure, err, "failed to expire stale orders")
	}
	return expired, nil
}

func (s *GormStore) OpenPayments(ctx context.Context) ([]db.Payment, error) {
	var payments []db.Payment
	err := s.db.WithContext(ctx).
		Where("status = ?", db.PaymentInitiated).
		Order("created_at").
		Find(&payments).Error
	if err != nil {
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to list open payments")
	}
	return payments, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "database unavailable")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "database unavailable")
	}
	return nil
}

// ClaimEvents leases up to limit due outbox rows to the caller. A claimed row
// that is neither marked sent nor failed becomes due again after lease.
func (s *GormStore) ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]db.OutboxEvent, error) {
	var rows []db.OutboxEvent
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() != "sqlite" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		err := query.Where("status IN ? AND next_retry <= ?", []db.OutboxStatus{db.OutboxPending, db.OutboxProcessing}, now).
			Order("id").
			Limit(limit).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]uint64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		return tx.Model(&db.OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"status": db.OutboxProcessing, "next_retry": now.Add(lease)}).Error
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to claim outbox events")
	}
	return rows, nil
}

func (s *GormStore) MarkEventSent(ctx context.Context, id uint64) error {
	err := s.db.WithContext(ctx).Model(&db.OutboxEvent{}).
		Where("id = ?", id).
		Update("status", db.OutboxSent).Error
	if err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "failed to mark event sent")
	}
	return nil
}

func (s *GormStore) MarkEventFailed(ctx context.Context, id uint64, nextRetry time.Time) error {
	err := s.db.WithContext(ctx).Model(&db.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     db.OutboxPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"next_retry": nextRetry,
		}).Error
	if err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "failed to reschedule event")
	}
	return nil
}
