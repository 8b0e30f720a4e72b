package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go-settlement/config"
	"go-settlement/log"
	"go-settlement/payment"
	"go-settlement/payment/catalog"
	"go-settlement/payment/order"
	"go-settlement/payment/sweeper"
	"go-settlement/web/middleware"
)

const commandTimeout = time.Minute

// withSystem validates the options and hands fn an opened system.
func withSystem(cfg *config.Config, fn func(ctx context.Context, sys *payment.System) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sys, err := payment.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Close()
	return fn(ctx, sys)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseItem reads "product_id[:quantity]". Quantity defaults to 1.
func parseItem(s string) (order.Item, error) {
	id, qty, ok := strings.Cut(s, ":")
	if !ok {
		return order.Item{ProductID: s, Quantity: 1}, nil
	}
	n, err := strconv.ParseInt(qty, 10, 64)
	if err != nil {
		return order.Item{}, fmt.Errorf("item %q: bad quantity: %w", s, err)
	}
	return order.Item{ProductID: id, Quantity: n}, nil
}

type createOrderCmd struct {
	cfg *config.Config
	out io.Writer

	Email string   `long:"email" required:"true" description:"Buyer email"`
	Items []string `long:"item" required:"true" description:"Cart line product_id[:quantity]; may repeat"`
}

func (c *createOrderCmd) Execute(args []string) error {
	items := make([]order.Item, 0, len(c.Items))
	for _, s := range c.Items {
		item, err := parseItem(s)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	return withSystem(c.cfg, func(ctx context.Context, sys *payment.System) error {
		created, err := sys.Allocator.CreateOrder(ctx, c.Email, items)
		if err != nil {
			return err
		}
		return printJSON(c.out, created)
	})
}

type verifyCmd struct {
	cfg *config.Config
	out io.Writer

	OrderID string `long:"order" required:"true" description:"Order id"`
	TxHash  string `long:"tx" required:"true" description:"Transaction hash, 0x-prefixed"`
}

func (c *verifyCmd) Execute(args []string) error {
	return withSystem(c.cfg, func(ctx context.Context, sys *payment.System) error {
		res, err := sys.Verifier.VerifyPayment(ctx, c.OrderID, c.TxHash)
		if err != nil {
			return err
		}
		return printJSON(c.out, res)
	})
}

type sweepCmd struct {
	cfg *config.Config
	out io.Writer
}

func (c *sweepCmd) Execute(args []string) error {
	return withSystem(c.cfg, func(ctx context.Context, sys *payment.System) error {
		n, err := sweeper.New(sys.Store, 0, log.New("SWEP")).Sweep(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.out, "expired %d orders\n", n)
		return err
	})
}

type openPaymentsCmd struct {
	cfg *config.Config
	out io.Writer
}

func (c *openPaymentsCmd) Execute(args []string) error {
	return withSystem(c.cfg, func(ctx context.Context, sys *payment.System) error {
		payments, err := sys.Store.OpenPayments(ctx)
		if err != nil {
			return err
		}
		for _, p := range payments {
			_, err := fmt.Fprintf(c.out, "%s\t%s\t%d\t%s\n", p.OrderID, p.ID, p.ExpectedAmount, p.CreatedAt.UTC().Format(time.RFC3339))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type addProductCmd struct {
	cfg *config.Config
	out io.Writer

	ID       string `long:"id" required:"true" description:"Product id"`
	Name     string `long:"name" description:"Display name"`
	Price    int64  `long:"price" required:"true" description:"Unit price in token minor units"`
	Inactive bool   `long:"inactive" description:"Keep the product out of sale"`
}

func (c *addProductCmd) Execute(args []string) error {
	return withSystem(c.cfg, func(ctx context.Context, sys *payment.System) error {
		p := catalog.Product{ID: c.ID, Name: c.Name, UnitPrice: c.Price, Active: !c.Inactive}
		if err := sys.Catalog.Add(ctx, p); err != nil {
			return err
		}
		_, err := fmt.Fprintf(c.out, "saved product %s\n", p.ID)
		return err
	})
}

type adminTokenCmd struct {
	cfg *config.Config
	out io.Writer

	TTL time.Duration `long:"ttl" default:"1h" description:"Token lifetime"`
}

func (c *adminTokenCmd) Execute(args []string) error {
	token, err := middleware.NewAdminToken(c.cfg.AdminSecret, c.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, token)
	return err
}
