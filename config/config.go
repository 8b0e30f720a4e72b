package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
)

// Config holds every option of the payment service. Values come from, in
// increasing priority: defaults, an optional INI file, the environment
// (a .env file is loaded into it first) and command line flags.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" env:"SETTLEMENT_CONFIG" description:"Path to an INI configuration file"`

	HTTPAddr        string        `long:"httpaddr" env:"HTTP_ADDR" default:":8080" description:"Interface/port the HTTP API listens on"`
	ShutdownTimeout time.Duration `long:"shutdowntimeout" env:"SHUTDOWN_TIMEOUT" default:"10s" description:"Grace period for in-flight requests on shutdown"`

	DBDriver string `long:"dbdriver" env:"DB_DRIVER" default:"mysql" choice:"mysql" choice:"postgres" choice:"sqlite" choice:"memory" description:"Storage backend"`
	DSN      string `long:"dsn" env:"DB" description:"Data source name of the database (file path for sqlite)"`

	RPCURL           string        `long:"rpcurl" env:"POLYGON_RPC_URL" description:"JSON-RPC endpoint of the chain node"`
	TokenContract    string        `long:"tokencontract" env:"USDT_CONTRACT_ADDRESS" description:"Address of the settlement token contract"`
	ReceivingAddress string        `long:"receivingwallet" env:"CRYPTO_RECEIVING_WALLET" description:"Address every order is paid to"`
	TokenDecimals    int32         `long:"tokendecimals" env:"TOKEN_DECIMALS" default:"6" description:"Decimals of the settlement token"`
	ChainID          int64         `long:"chainid" env:"CHAIN_ID" default:"137" description:"Chain id used in payment URIs"`
	ProviderTag      string        `long:"providertag" env:"PAYMENT_PROVIDER" default:"crypto_direct" description:"Provider tag stored on payments"`
	MinConfirmations uint64        `long:"minconfirmations" env:"MIN_CONFIRMATIONS" default:"3" description:"Blocks required on top of the payment block"`
	OrderTTL         time.Duration `long:"orderttl" env:"ORDER_TTL" default:"30m" description:"How long an order stays payable"`
	LedgerTimeout    time.Duration `long:"ledgertimeout" env:"LEDGER_TIMEOUT" default:"10s" description:"Timeout of a single chain node call"`
	BlockCacheSize   int           `long:"blockcachesize" env:"BLOCK_CACHE_SIZE" default:"1024" description:"Number of block timestamps kept in memory"`

	RabbitURL      string        `long:"rabbiturl" env:"RABBIT_URL" description:"AMQP URL for payment events; empty logs events instead"`
	EventsExchange string        `long:"exchange" env:"EVENTS_EXCHANGE" default:"payments.events" description:"Exchange payment events are published to"`
	OutboxInterval time.Duration `long:"outboxinterval" env:"OUTBOX_INTERVAL" default:"2s" description:"Outbox polling interval"`
	OutboxBatch    int           `long:"outboxbatch" env:"OUTBOX_BATCH" default:"32" description:"Outbox rows claimed per poll"`
	SweepInterval  time.Duration `long:"sweepinterval" env:"SWEEP_INTERVAL" default:"1m" description:"Interval of the expired order sweeper; 0 disables it"`

	Products []string `long:"product" env:"PRODUCTS" env-delim:";" description:"Product id:price[:name] to seed the memory catalog with; may repeat"`

	AdminSecret string `long:"adminsecret" env:"ADMIN_SECRET" default-mask:"-" description:"HMAC secret of admin bearer tokens"`
	RateLimit   int    `long:"ratelimit" env:"RATE_LIMIT" default:"15" description:"Requests per minute per client IP on public routes"`

	LogFile  string `long:"logfile" env:"LOG_FILE" default:"logs/settlement.log" description:"Log file; empty logs to stdout only"`
	LogLevel string `short:"d" long:"debuglevel" env:"LOG_LEVEL" default:"info" description:"Logging level {debug, info, warn, error}"`
}

// Load parses args (without the program name) on top of the environment.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		file := cfg.ConfigFile
		cfg = Config{}
		fromFile, err := readFile(&cfg, file)
		if err != nil {
			return nil, err
		}

		// file values stand in for the tag defaults, so the environment and
		// flags still override them
		parser = flags.NewParser(&cfg, flags.Default)
		for _, name := range fromFile {
			if opt := parser.FindOptionByLongName(name); opt != nil {
				opt.Default = nil
			}
		}
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readFile loads the INI file into cfg and returns the long names of the
// options it set.
func readFile(cfg *Config, file string) ([]string, error) {
	parser := flags.NewParser(cfg, flags.None)
	if err := flags.NewIniParser(parser).ParseFile(file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", file, err)
	}

	var names []string
	var walk func(g *flags.Group)
	walk = func(g *flags.Group) {
		for _, opt := range g.Options() {
			if opt.IsSet() {
				names = append(names, opt.LongName)
			}
		}
		for _, child := range g.Groups() {
			walk(child)
		}
	}
	walk(parser.Group)
	return names, nil
}

// Validate checks the options the core cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.ReceivingAddress) {
		errs = append(errs, fmt.Errorf("receiving wallet %q is not a hex address", c.ReceivingAddress))
	}
	if !common.IsHexAddress(c.TokenContract) {
		errs = append(errs, fmt.Errorf("token contract %q is not a hex address", c.TokenContract))
	}
	if c.DBDriver != "memory" && c.DSN == "" {
		errs = append(errs, errors.New("dsn is required for the "+c.DBDriver+" driver"))
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		errs = append(errs, fmt.Errorf("token decimals %d out of range", c.TokenDecimals))
	}
	if c.OrderTTL <= 0 {
		errs = append(errs, errors.New("order ttl must be positive"))
	}
	if c.OutboxInterval <= 0 {
		errs = append(errs, errors.New("outbox interval must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweep interval must not be negative"))
	}
	return errors.Join(errs...)
}
