package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/sleepinganth/SPY/internal/config"
	"github.com/sleepinganth/SPY/internal/driver"
	"github.com/sleepinganth/SPY/internal/indicator"
	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/metrics"
	"github.com/sleepinganth/SPY/internal/position"
	"github.com/sleepinganth/SPY/internal/schedule"
	"github.com/sleepinganth/SPY/internal/strategy"
	"github.com/sleepinganth/SPY/internal/util"
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "trader",
		Usage: "run configured intraday option strategies",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "internal/config/config.yaml", Usage: "path to YAML config"},
			&cli.StringFlag{Name: "only", Usage: "run only the named strategy instance"},
			&cli.BoolFlag{Name: "paper", Usage: "force the paper gateway regardless of config"},
			&cli.StringFlag{Name: "ticker", Usage: "override the ticker for every selected strategy"},
			&cli.IntFlag{Name: "contracts", Usage: "override the contract count for every selected strategy"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	var log zerolog.Logger
	if cfg.App.LogFile != "" {
		log = util.NewFileLogger(cfg.App.LogFile, cfg.App.LogLevel)
	} else {
		log = util.NewLogger(cfg.App.LogLevel)
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	rec, closeRec, err := buildRecorder(cfg.Journal)
	if err != nil {
		return err
	}
	defer closeRec()

	ctx, cancel := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	only := cmd.String("only")
	forcePaper := cmd.Bool("paper")
	tickerOverride := cmd.String("ticker")
	contractsOverride := int(cmd.Int("contracts"))

	var wg sync.WaitGroup
	started := 0
	for i, sc := range cfg.Strategies {
		if only != "" && sc.Name != only {
			continue
		}
		if tickerOverride != "" {
			sc.Ticker = tickerOverride
		}
		if contractsOverride > 0 {
			sc.Contracts = contractsOverride
		}
		d, err := buildDriver(cfg, sc, i, forcePaper, rec, log)
		if err != nil {
			return err
		}
		started++
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				log.Error().Err(err).Str("strategy", name).Msg("strategy stopped")
				cancel()
			}
		}(sc.Name)
	}
	if started == 0 {
		return fmt.Errorf("no strategy matched %q", only)
	}

	log.Info().Int("strategies", started).Msg("trader started")
	wg.Wait()
	log.Info().Msg("all strategies stopped")
	return nil
}

// buildDriver assembles one strategy instance with its own gateway session
// and a distinct client identity so broker sessions never collide.
func buildDriver(cfg *config.Config, sc config.Strategy, idx int, forcePaper bool, rec journal.Recorder, log zerolog.Logger) (*driver.Driver, error) {
	gates, err := schedule.New(sc.Session)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", sc.Name, err)
	}

	var gw market.Gateway
	provider := strings.ToLower(cfg.Gateway.Provider)
	if forcePaper || cfg.Gateway.PaperTrading || provider == "paper" || provider == "" {
		gw = market.NewPaperGateway(nil)
	} else {
		gw = market.NewWSGateway(
			cfg.Gateway.URL,
			cfg.Gateway.ClientIDBase+idx,
			cfg.Gateway.MaxRetries,
			time.Duration(cfg.Gateway.RetryBackoffMs)*time.Millisecond,
			gates.Location(),
			log,
		)
	}

	det := strategy.Build(sc.Mode, strategy.Params{
		TouchThreshold: sc.Thresholds.Touch,
		RangeBars:      sc.Thresholds.RangeBars,
		StructureBars:  sc.Thresholds.StructureBars,
		RSIOversold:    sc.Thresholds.RSIOversold,
		RSIOverbought:  sc.Thresholds.RSIOverbought,
	})

	mgr := position.NewManager(position.Config{
		Strategy:   sc.Name,
		Ticker:     sc.Ticker,
		Contracts:  sc.Contracts,
		MoveTarget: sc.MoveTarget,
		ITMOffset:  sc.ITMOffset,
	}, gw, position.NewBook(sc.AllowHedging), rec, log)

	return driver.New(driver.Config{
		Name:         sc.Name,
		Ticker:       sc.Ticker,
		Lookback:     time.Duration(sc.LookbackHours) * time.Hour,
		BarInterval:  time.Duration(sc.BarIntervalMin) * time.Minute,
		TickInterval: time.Duration(sc.PollIntervalMs) * time.Millisecond,
		Indicators: indicator.Params{
			EMAShort:    sc.Indicators.EMAShort,
			EMALong:     sc.Indicators.EMALong,
			RSIPeriod:   sc.Indicators.RSIPeriod,
			ATRPeriod:   sc.Indicators.ATRPeriod,
			KeltnerMult: sc.Indicators.KeltnerMult,
		},
	}, gw, gates, det, mgr, log), nil
}

func buildRecorder(jc config.Journal) (journal.Recorder, func(), error) {
	ledger := journal.NewLedger(64)
	if jc.FillsPath == "" {
		return ledger, func() {}, nil
	}
	file, err := journal.NewJSONLRecorder(jc.FillsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.Tee{ledger, file}, func() { _ = file.Close() }, nil
}
