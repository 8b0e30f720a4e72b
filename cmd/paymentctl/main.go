// paymentctl drives the settlement core from the command line, against the
// same storage and chain node as the payment service.
package main

import (
	"errors"
	"io"
	"os"

	"go-settlement/config"
	"go-settlement/log"
	"go-settlement/utils"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	utils.LoadEnv()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// run parses args and executes the chosen command, writing its result to out.
// Errors are printed by the parser.
func run(args []string, out io.Writer) error {
	// keep stdout for command output
	log.SetLevel("warn")

	var cfg config.Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.SubcommandsOptional = false

	cmds := []struct {
		name, short string
		data        any
	}{
		{"create-order", "Price a cart and open an order with a unique expected amount", &createOrderCmd{cfg: &cfg, out: out}},
		{"verify", "Verify a transaction against an order and confirm it", &verifyCmd{cfg: &cfg, out: out}},
		{"sweep", "Expire overdue orders now", &sweepCmd{cfg: &cfg, out: out}},
		{"open-payments", "List payments still waiting for a transfer", &openPaymentsCmd{cfg: &cfg, out: out}},
		{"add-product", "Create or replace a catalog product", &addProductCmd{cfg: &cfg, out: out}},
		{"admin-token", "Mint a bearer token for the admin routes", &adminTokenCmd{cfg: &cfg, out: out}},
	}
	for _, c := range cmds {
		if _, err := parser.AddCommand(c.name, c.short, "", c.data); err != nil {
			return err
		}
	}

	_, err := parser.ParseArgs(args)
	return err
}
