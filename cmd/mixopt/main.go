package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/app"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/engine"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/andresuchdata/mixopt/pkg/logger"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error().Err(err).Msg("mixopt failed")
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mixopt",
		Usage: "Reallocate stock across packaging options to maximize margin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML file overriding the embedded defaults",
				EnvVars: []string{"MIXOPT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error); defaults to log_level from the config",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: console or json",
				Value: "console",
			},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			optimizeCommand(),
			batchCommand(),
			datesCommand(),
			potentialCommand(),
			fetchCommand(),
			serveCommand(),
			migrateCommand(),
		},
	}
}

func loadConfig(c *cli.Context) error {
	cfg, err := config.LoadFrom(c.String("config"))
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger.Init(level, c.String("log-format"))

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

func openApp(c *cli.Context) (*app.App, error) {
	return app.New(configFrom(c))
}

// exitCode separates input problems (2) and infeasible models (3) from
// other failures (1).
func exitCode(err error) int {
	var infeasible *domain.InfeasibleModelError
	switch {
	case domain.IsInputError(err):
		return 2
	case errors.As(err, &infeasible):
		return 3
	default:
		return 1
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "type",
			Usage: "Stock type to optimize; defaults to inputs.stock_type",
		},
		&cli.StringFlag{
			Name:  "objective",
			Usage: "maximize_margin or minimize_cost",
		},
		&cli.Float64Flag{
			Name:    "limit",
			Aliases: []string{"limite-realocacao"},
			Usage:   "Reallocation limit: a SKU may reach at most limit times its original stock",
		},
		&cli.BoolFlag{
			Name:    "honor-orders",
			Aliases: []string{"atender-pedidos"},
			Usage:   "Reserve stock for open orders before reallocating the surplus",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Report format: csv or xlsx; defaults to output.format",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Report directory; defaults to output.dir",
		},
	}
}

// requestFromFlags collects the overrides given on the command line.
func requestFromFlags(c *cli.Context) engine.Request {
	req := engine.Request{
		StockType: c.String("type"),
		Objective: domain.Objective(strings.ToLower(c.String("objective"))),
	}
	if req.StockType == "" {
		req.StockType = configFrom(c).Inputs.StockType
	}
	if c.IsSet("limit") {
		l := c.Float64("limit")
		req.ReallocationLimit = &l
	}
	if c.IsSet("honor-orders") {
		h := c.Bool("honor-orders")
		req.HonorOrders = &h
	}
	return req
}

func parseDates(raw []string) ([]time.Time, error) {
	var dates []time.Time
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, err := normalize.ParseDate(part)
			if err != nil {
				return nil, fmt.Errorf("%w: date %q", domain.ErrInvalidRequest, part)
			}
			dates = append(dates, d)
		}
	}
	return dates, nil
}
