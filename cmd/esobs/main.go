// Command esobs inspects an observation store: its record stores, their
// records and the data source descriptions kept next to them.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/denismitr/esobs"
	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/docstore/elastic"
	"github.com/denismitr/esobs/internal/docstore/memstore"
	"github.com/denismitr/esobs/internal/logger"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
		EnvVars: []string{"ESOBS_CONFIG"},
	}
	esFlag = &cli.StringSliceFlag{
		Name:    "es",
		Usage:   "Elasticsearch address, overrides the configuration file",
		EnvVars: []string{"ESOBS_ES"},
	}
	prefixFlag = &cli.StringFlag{
		Name:  "prefix",
		Usage: "Index prefix of the store",
	}
	memoryFlag = &cli.BoolFlag{
		Name:  "memory",
		Usage: "Use an empty in-memory backend instead of Elasticsearch",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "trace, debug, info, warn, error or disabled",
	}
)

// openBackend builds the document store backend from flags and file
// configuration.
var openBackend = func(c *cli.Context, fc *fileConfig) (docstore.Backend, error) {
	if c.Bool(memoryFlag.Name) {
		return memstore.New(), nil
	}

	cfg := fc.elasticConfig()
	if addrs := c.StringSlice(esFlag.Name); len(addrs) > 0 {
		cfg.Addresses = addrs
	}

	l := logger.Component("elastic")
	cfg.Logger = &l

	return elastic.New(cfg)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "esobs",
		Usage: "inspect an Elasticsearch observation store",
		Flags: []cli.Flag{configFlag, esFlag, prefixFlag, memoryFlag, logLevelFlag},
		Before: func(*cli.Context) error {
			logger.Configure()
			return nil
		},
		Commands: []*cli.Command{
			storesCommand,
			countCommand,
			rangeCommand,
			dumpCommand,
			describeCommand,
		},
	}
}

// withStore opens the store for the duration of fn.
func withStore(c *cli.Context, fn func(ctx context.Context, s *esobs.Store) error) error {
	fc, err := loadConfig(c.String(configFlag.Name))
	if err != nil {
		return err
	}

	level := fc.Log.Level
	if c.IsSet(logLevelFlag.Name) {
		level = c.String(logLevelFlag.Name)
	}
	if err := logger.SetLevel(level); err != nil {
		return err
	}
	if fc.Log.JSON {
		logger.SetJSONWriter(os.Stderr)
	}

	cfg, err := fc.storeConfig()
	if err != nil {
		return err
	}
	if p := c.String(prefixFlag.Name); p != "" {
		cfg.IndexPrefix = p
	}

	backend, err := openBackend(c, fc)
	if err != nil {
		return err
	}

	s, err := esobs.New(backend, cfg)
	if err != nil {
		return err
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.Open(ctx); err != nil {
		return err
	}

	runErr := fn(ctx, s)
	if err := s.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
