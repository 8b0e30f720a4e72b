// Package order creates orders whose expected settlement amount is unique
// among all open payments, so that an incoming transfer to the shared
// receiving address can be attributed by its amount alone.
package order

import (
	"context"
	"log/slog"
	"math"
	"math/big"
	"time"

	"go-settlement/payment/catalog"
	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/store"
	"go-settlement/utils"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxAttempts bounds the snapshot-then-insert loop.
	MaxAttempts = 3
	// MaxOffset is the largest amount added to a cart total.
	MaxOffset = 999

	DefaultTTL = 30 * time.Minute
)

type Item struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type request struct {
	Email string `validate:"required,email,max=255"`
	Items []Item `validate:"required,min=1,dive"`
}

type Config struct {
	ReceivingAddress string
	TokenContract    string
	ProviderTag      string
	TTL              time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Created struct {
	OrderID          string
	PaymentID        string
	TotalAmount      int64
	ExpectedAmount   int64
	ReceivingAddress string
	TokenContract    string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

type Allocator struct {
	store    store.Store
	catalog  catalog.Catalog
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAllocator(s store.Store, c catalog.Catalog, cfg Config, logger *slog.Logger) *Allocator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Allocator{
		store:    s,
		catalog:  c,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateOrder prices the cart from the catalog and persists an order with an
// initiated payment whose expected amount no other open payment holds.
func (a *Allocator) CreateOrder(ctx context.Context, email string, items []Item) (*Created, error) {
	if err := a.validate.Struct(request{Email: email, Items: items}); err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, err, "invalid order request")
	}

	lines, total, err := a.price(ctx, items)
	if err != nil {
		return nil, err
	}

	var lastConflict error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		created, err := a.allocate(ctx, email, total, lines)
		if err == nil {
			a.logger.Info("order created", "order_id", created.OrderID,
				"expected_amount", created.ExpectedAmount, "attempt", attempt)
			return created, nil
		}
		if errcode.KindOf(err) != errcode.AllocationConflict {
			a.logger.Warn("order creation failed", "total", total, "kind", errcode.KindOf(err), "err", err)
			return nil, err
		}
		lastConflict = err
		a.logger.Debug("expected amount taken concurrently, retrying", "total", total, "attempt", attempt)
	}

	a.logger.Warn("order creation gave up after repeated conflicts", "total", total, "attempts", MaxAttempts)
	return nil, errcode.Wrap(errcode.StorageFailure, lastConflict, "could not reserve a unique amount, try again")
}

// price resolves every item against the catalog and returns the order lines
// and their total. Items naming the same product stay separate lines.
func (a *Allocator) price(ctx context.Context, items []Item) ([]db.OrderLine, int64, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}

	products, err := a.catalog.Resolve(ctx, ids)
	if err != nil {
		if errcode.KindOf(err) == "" {
			err = errcode.Wrap(errcode.StorageFailure, err, "failed to load products")
		}
		return nil, 0, err
	}

	total := new(big.Int)
	lines := make([]db.OrderLine, 0, len(items))
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, 0, errcode.Newf(errcode.ProductNotFound, "product %q not found", it.ProductID)
		}
		if !p.Active {
			return nil, 0, errcode.Newf(errcode.ProductInactive, "product %q is not available", it.ProductID)
		}

		lineTotal := new(big.Int).Mul(big.NewInt(p.UnitPrice), big.NewInt(it.Quantity))
		if !lineTotal.IsInt64() {
			return nil, 0, errcode.Newf(errcode.InvalidInput, "quantity of %q too large", it.ProductID)
		}
		total.Add(total, lineTotal)

		lines = append(lines, db.OrderLine{
			ProductID: p.ID,
			Quantity:  it.Quantity,
			UnitPrice: p.UnitPrice,
			LineTotal: lineTotal.Int64(),
		})
	}

	// total + MaxOffset must still fit
	if total.Sign() <= 0 || total.Cmp(big.NewInt(math.MaxInt64-MaxOffset)) > 0 {
		return nil, 0, errcode.New(errcode.InvalidInput, "order total out of range")
	}
	return lines, total.Int64(), nil
}

// allocate runs one snapshot-then-insert attempt.
func (a *Allocator) allocate(ctx context.Context, email string, total int64, lines []db.OrderLine) (*Created, error) {
	lo, hi := total+1, total+MaxOffset
	used, err := a.store.ActiveAmounts(ctx, lo, hi)
	if err != nil {
		return nil, err
	}

	set := NewIntervalSet()
	for _, amount := range used {
		set.Add(amount)
	}
	expected := set.NextMissing(lo)
	if expected > hi {
		return nil, errcode.Newf(errcode.OffsetExhausted, "all %d offsets above %d are in use", MaxOffset, total)
	}

	// block timestamps have second resolution
	now := a.cfg.Clock().UTC().Truncate(time.Second)
	order := &db.Order{
		ID:          utils.GenerateUUID(),
		BuyerEmail:  email,
		Status:      db.OrderPendingPayment,
		TotalAmount: total,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.cfg.TTL),
	}

	attemptLines := make([]db.OrderLine, len(lines))
	for i, l := range lines {
		l.OrderID = order.ID
		attemptLines[i] = l
	}

	payment := &db.Payment{
		ID:               utils.GenerateUUID(),
		OrderID:          order.ID,
		ProviderTag:      a.cfg.ProviderTag,
		ExpectedAmount:   expected,
		ReceivingAddress: a.cfg.ReceivingAddress,
		Status:           db.PaymentInitiated,
	}

	if err := a.store.CreateOrder(ctx, order, attemptLines, payment); err != nil {
		if errcode.KindOf(err) == "" {
			err = errcode.Wrap(errcode.StorageFailure, err, "failed to create order")
		}
		return nil, err
	}

	return &Created{
		OrderID:          order.ID,
		PaymentID:        payment.ID,
		TotalAmount:      total,
		ExpectedAmount:   expected,
		ReceivingAddress: payment.ReceivingAddress,
		TokenContract:    a.cfg.TokenContract,
		CreatedAt:        order.CreatedAt,
		ExpiresAt:        order.ExpiresAt,
	}, nil
}
