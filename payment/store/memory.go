package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
)

// MemoryStore keeps everything in process memory. It enforces the same
// invariants as the database store, so it is only correct for a single
// running instance.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]db.Order
	lines    map[string][]db.OrderLine
	payments map[string]db.Payment // by order id
	active   map[int64]string      // expected amount -> payment id, initiated payments only
	txHashes map[string]string     // tx hash -> payment id
	outbox   []db.OutboxEvent
	nextLine uint64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]db.Order),
		lines:    make(map[string][]db.OrderLine),
		payments: make(map[string]db.Payment),
		active:   make(map[int64]string),
		txHashes: make(map[string]string),
	}
}

func (m *MemoryStore) ActiveAmounts(ctx context.Context, lo, hi int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var amounts []int64
	for amount := range m.active {
		if amount >= lo && amount <= hi {
			amounts = append(amounts, amount)
		}
	}
	return amounts, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *db.Order, lines []db.OrderLine, payment *db.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return errcode.New(errcode.StorageFailure, "duplicate order id")
	}
	if _, ok := m.payments[payment.OrderID]; ok {
		return errcode.New(errcode.StorageFailure, "order already has a payment")
	}
	if payment.Status == db.PaymentInitiated {
		if _, taken := m.active[payment.ExpectedAmount]; taken {
			return errcode.New(errcode.AllocationConflict, "expected amount taken by a concurrent order")
		}
		active := payment.ExpectedAmount
		payment.ActiveAmount = &active
		m.active[active] = payment.ID
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	payment.CreatedAt, payment.UpdatedAt = now, now

	stored := make([]db.OrderLine, len(lines))
	for i := range lines {
		m.nextLine++
		lines[i].ID = m.nextLine
		stored[i] = lines[i]
	}

	m.orders[order.ID] = *order
	m.lines[order.ID] = stored
	m.payments[payment.OrderID] = *payment
	return nil
}

func (m *MemoryStore) Order(ctx context.Context, orderID string) (*db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, notFound("order")
	}
	return &order, nil
}

func (m *MemoryStore) OrderLines(ctx context.Context, orderID string) ([]db.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]db.OrderLine(nil), m.lines[orderID]...), nil
}

func (m *MemoryStore) PaymentByOrder(ctx context.Context, orderID string) (*db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[orderID]
	if !ok {
		return nil, notFound("payment")
	}
	return &payment, nil
}

func (m *MemoryStore) Confirm(ctx context.Context, c Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[c.OrderID]
	if !ok || payment.ID != c.PaymentID {
		return notFound("payment")
	}
	if payment.Status != db.PaymentInitiated {
		return errConfirmConflict
	}
	order, ok := m.orders[c.OrderID]
	if !ok {
		return notFound("order")
	}
	if order.Status != db.OrderPendingPayment {
		return errcode.New(errcode.ConfirmConflict, "order not in pending_payment state")
	}
	if _, used := m.txHashes[c.TxHash]; used {
		return errTxAlreadyUsed
	}

	evt, err := confirmedEvent(&order, &payment, c)
	if err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "failed to confirm payment")
	}

	now := time.Now().UTC()
	txHash, sender, received := c.TxHash, c.Sender, c.ReceivedAmount.String()
	blockNumber, blockTime := c.BlockNumber, c.BlockTime.UTC()

	delete(m.active, payment.ExpectedAmount)
	payment.Status = db.PaymentConfirmed
	payment.ActiveAmount = nil
	payment.TxHash = &txHash
	payment.SenderAddress = &sender
	payment.ReceivedAmount = &received
	payment.BlockNumber = &blockNumber
	payment.BlockTimestamp = &blockTime
	payment.UpdatedAt = now
	m.payments[c.OrderID] = payment
	m.txHashes[txHash] = payment.ID

	order.Status = db.OrderConfirmed
	order.UpdatedAt = now
	m.orders[c.OrderID] = order

	evt.ID = uint64(len(m.outbox) + 1)
	evt.CreatedAt, evt.UpdatedAt = now, now
	m.outbox = append(m.outbox, *evt)
	return nil
}

func (m *MemoryStore) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []db.Order
	for _, order := range m.orders {
		if order.Status == db.OrderPendingPayment && order.ExpiresAt.Before(now) {
			stale = append(stale, order)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	for _, order := range stale {
		if payment, ok := m.payments[order.ID]; ok && payment.Status == db.PaymentInitiated {
			delete(m.active, payment.ExpectedAmount)
			payment.Status = db.PaymentFailed
			payment.ActiveAmount = nil
			payment.UpdatedAt = now
			m.payments[order.ID] = payment
		}
		order.Status = db.OrderExpired
		order.UpdatedAt = now
		m.orders[order.ID] = order
	}
	return len(stale), nil
}

func (m *MemoryStore) OpenPayments(ctx context.Context) ([]db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []db.Payment
	for _, payment := range m.payments {
		if payment.Status == db.PaymentInitiated {
			open = append(open, payment)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]db.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var claimed []db.OutboxEvent
	for i := range m.outbox {
		if len(claimed) == limit {
			break
		}
		evt := &m.outbox[i]
		if evt.Status == db.OutboxSent || evt.NextRetry.After(now) {
			continue
		}
		evt.Status = db.OutboxProcessing
		evt.NextRetry = now.Add(lease)
		claimed = append(claimed, *evt)
	}
	return claimed, nil
}

func (m *MemoryStore) MarkEventSent(ctx context.Context, id uint64) error {
	return m.updateEvent(id, func(evt *db.OutboxEvent) {
		evt.Status = db.OutboxSent
	})
}

func (m *MemoryStore) MarkEventFailed(ctx context.Context, id uint64, nextRetry time.Time) error {
	return m.updateEvent(id, func(evt *db.OutboxEvent) {
		evt.Status = db.OutboxPending
		evt.Attempts++
		evt.NextRetry = nextRetry
	})
}

func (m *MemoryStore) updateEvent(id uint64, fn func(*db.OutboxEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			fn(&m.outbox[i])
			m.outbox[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return errcode.Newf(errcode.StorageFailure, "outbox event %d not found", id)
}
