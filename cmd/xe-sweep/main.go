// xe-sweep runs the XE contract reconciliation sweep outside the API server:
// once for cron-style scheduling, or in a loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/yourusername/gpay-xe/config"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/sweeper"
	"github.com/yourusername/gpay-xe/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	once            bool
	interval        time.Duration
	concurrency     int
	approvalTimeout time.Duration
}

func parseFlags(args []string, cfg *config.Config) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("xe-sweep", pflag.ContinueOnError)
	flagSet.BoolVar(&opts.once, "once", false, "run a single tick, print its result and exit")
	flagSet.DurationVar(&opts.interval, "interval", cfg.SweepInterval, "time between ticks when looping")
	flagSet.IntVar(&opts.concurrency, "concurrency", cfg.SweepConcurrency, "parallel approval calls per tick")
	flagSet.DurationVar(&opts.approvalTimeout, "approval-timeout", cfg.ApprovalTimeout, "timeout for one XE approve call")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if len(flagSet.Args()) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	if opts.interval <= 0 {
		return nil, fmt.Errorf("--interval must be positive, got %s", opts.interval)
	}
	if opts.concurrency < 1 {
		return nil, fmt.Errorf("--concurrency must be at least 1, got %d", opts.concurrency)
	}
	return opts, nil
}

func run(args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	opts, err := parseFlags(args, cfg)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log, err := config.InitLogger(cfg)
	if err != nil {
		return err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	sw := sweeper.New(
		contracts.NewStore(db),
		utils.NewXEClient(cfg.XEBaseURL, cfg.XEAccountNumber, cfg.XEAPIKey, cfg.XETimeout),
		log,
		sweeper.Options{ApprovalTimeout: opts.approvalTimeout, Concurrency: opts.concurrency},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.once {
		res, err := sw.Tick(ctx)
		if err != nil {
			return fmt.Errorf("sweep tick: %w", err)
		}
		return json.NewEncoder(os.Stdout).Encode(res)
	}

	sw.Run(ctx, opts.interval)
	return nil
}
