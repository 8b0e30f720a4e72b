// Package payment assembles the settlement core from configuration. Both the
// HTTP service and the operator CLI run on a System.
package payment

import (
	"context"
	"fmt"

	"go-settlement/config"
	"go-settlement/log"
	"go-settlement/payment/catalog"
	"go-settlement/payment/db"
	"go-settlement/payment/events"
	"go-settlement/payment/ledger"
	"go-settlement/payment/order"
	"go-settlement/payment/store"
	"go-settlement/payment/verify"

	"github.com/ethereum/go-ethereum/common"
)

// Backend is a Store that also carries the confirmation outbox.
type Backend interface {
	store.Store
	events.Outbox
}

type System struct {
	Store     Backend
	Catalog   catalog.Catalog
	Ledger    ledger.Client
	Allocator *order.Allocator
	Verifier  *verify.Verifier

	closers []func()
}

// Open connects storage and the chain node named by cfg. Without an RPC URL
// the system still serves orders, but every verification fails with
// LedgerUnavailable.
func Open(ctx context.Context, cfg *config.Config) (*System, error) {
	sys := &System{}

	if cfg.DBDriver == "memory" {
		products := make([]catalog.Product, 0, len(cfg.Products))
		for _, s := range cfg.Products {
			p, err := catalog.ParseProduct(s)
			if err != nil {
				return nil, err
			}
			products = append(products, p)
		}
		sys.Store = store.NewMemory()
		sys.Catalog = catalog.NewStatic(products...)
	} else {
		gdb, err := db.Open(cfg.DBDriver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			sys.closers = append(sys.closers, func() { sqlDB.Close() })
		}
		if err := db.Sync(gdb); err != nil {
			sys.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		sys.Store = store.NewGorm(gdb)
		sys.Catalog = catalog.NewGorm(gdb)
	}

	if cfg.RPCURL == "" {
		sys.Ledger = ledger.Offline{}
	} else {
		ec, err := ledger.Dial(ctx, cfg.RPCURL, cfg.LedgerTimeout, cfg.BlockCacheSize, log.New("LDGR"))
		if err != nil {
			sys.Close()
			return nil, err
		}
		sys.Ledger = ec
		sys.closers = append(sys.closers, ec.Close)
	}

	sys.Allocator = order.NewAllocator(sys.Store, sys.Catalog, order.Config{
		ReceivingAddress: common.HexToAddress(cfg.ReceivingAddress).Hex(),
		TokenContract:    common.HexToAddress(cfg.TokenContract).Hex(),
		ProviderTag:      cfg.ProviderTag,
		TTL:              cfg.OrderTTL,
	}, log.New("ORDR"))

	sys.Verifier = verify.New(sys.Store, sys.Ledger, verify.Config{
		TokenContract:    common.HexToAddress(cfg.TokenContract),
		MinConfirmations: cfg.MinConfirmations,
	}, log.New("VRFY"))

	return sys, nil
}

// Publisher returns the broker publisher when a RabbitMQ URL is configured
// and a logging publisher otherwise.
func Publisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.RabbitURL == "" {
		return events.LogPublisher{Logger: log.New("EVNT")}, nil
	}
	p, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.EventsExchange)
	if err != nil {
		return nil, fmt.Errorf("connect to event broker: %w", err)
	}
	return p, nil
}

// Close releases the node connection and the database pool.
func (s *System) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
