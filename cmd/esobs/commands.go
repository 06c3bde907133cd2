package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/denismitr/esobs"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var errStopScan = errors.New("limit reached")

var (
	producerFlag = &cli.StringSliceFlag{
		Name:  "producer",
		Usage: "Producer id to select, may contain * and ? wildcards",
	}
	fromFlag = &cli.Float64Flag{
		Name:  "from",
		Usage: "Lowest timestamp in seconds since epoch",
	}
	toFlag = &cli.Float64Flag{
		Name:  "to",
		Usage: "Highest timestamp in seconds since epoch",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Stop after this many records, 0 for all",
	}
	pageSizeFlag = &cli.IntFlag{
		Name:  "page-size",
		Usage: "Records fetched per scroll page",
	}
	atFlag = &cli.Float64Flag{
		Name:  "at",
		Usage: "Show the description valid at this time instead of the latest",
	}
	historyFlag = &cli.BoolFlag{
		Name:  "history",
		Usage: "List every description version",
	}

	storesCommand = &cli.Command{
		Name:   "stores",
		Usage:  "List record stores",
		Action: listStores,
	}
	countCommand = &cli.Command{
		Name:      "count",
		Usage:     "Count records of a record type",
		ArgsUsage: "<record type>",
		Flags:     []cli.Flag{producerFlag, fromFlag, toFlag},
		Action:    countRecords,
	}
	rangeCommand = &cli.Command{
		Name:      "range",
		Usage:     "Show the time span and producers of a record type",
		ArgsUsage: "<record type>",
		Action:    showRange,
	}
	dumpCommand = &cli.Command{
		Name:      "dump",
		Usage:     "Print records as JSON lines, oldest first",
		ArgsUsage: "<record type>",
		Flags:     []cli.Flag{producerFlag, fromFlag, toFlag, limitFlag, pageSizeFlag},
		Action:    dumpRecords,
	}
	describeCommand = &cli.Command{
		Name:      "describe",
		Usage:     "Show the description of a data source",
		ArgsUsage: "<unique id>",
		Flags:     []cli.Flag{atFlag, historyFlag},
		Action:    describe,
	}
)

func filterFromFlags(c *cli.Context) (esobs.Filter, error) {
	if c.NArg() != 1 {
		return esobs.Filter{}, errors.Errorf("%s takes exactly one record type", c.Command.Name)
	}

	f := esobs.Filter{
		RecordType:  c.Args().First(),
		ProducerIDs: c.StringSlice(producerFlag.Name),
	}

	if c.IsSet(fromFlag.Name) || c.IsSet(toFlag.Name) {
		tr := esobs.AllTimes()
		if c.IsSet(fromFlag.Name) {
			tr.From = c.Float64(fromFlag.Name)
		}
		if c.IsSet(toFlag.Name) {
			tr.To = c.Float64(toFlag.Name)
		}
		f.TimeRange = &tr
	}

	if c.IsSet(pageSizeFlag.Name) {
		f.PageSize = c.Int(pageSizeFlag.Name)
	}

	return f, nil
}

func listStores(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *esobs.Store) error {
		stores, err := s.RecordStores(ctx)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(stores))
		for name := range stores {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(c.App.Writer)
		table.SetHeader([]string{"Name", "Index", "Fields", "Encoding"})
		for _, name := range names {
			rs := stores[name]
			fields := make([]string, 0, len(rs.Structure.Fields))
			for _, f := range rs.Structure.Fields {
				fields = append(fields, f.Name)
			}
			table.Append([]string{rs.Name, rs.Index, strings.Join(fields, ","), rs.Encoding.Kind})
		}
		table.Render()

		return nil
	})
}

func countRecords(c *cli.Context) error {
	f, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	return withStore(c, func(ctx context.Context, s *esobs.Store) error {
		n, err := s.CountRecords(ctx, f)
		if err != nil {
			return err
		}

		fmt.Fprintln(c.App.Writer, n)
		return nil
	})
}

func showRange(c *cli.Context) error {
	f, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	return withStore(c, func(ctx context.Context, s *esobs.Store) error {
		tr, err := s.TimeRange(ctx, f.RecordType)
		if err != nil {
			return err
		}

		producers, err := s.ProducerIDs(ctx, f.RecordType)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(c.App.Writer)
		table.SetHeader([]string{"From", "To", "Producers"})
		table.Append([]string{formatTime(tr.From), formatTime(tr.To), strings.Join(producers, ",")})
		table.Render()

		return nil
	})
}

type dumpLine struct {
	RecordType string      `json:"recordType"`
	ProducerID string      `json:"producerID"`
	Timestamp  float64     `json:"timestamp"`
	Data       interface{} `json:"data"`
}

func dumpRecords(c *cli.Context) error {
	f, err := filterFromFlags(c)
	if err != nil {
		return err
	}
	limit := c.Int(limitFlag.Name)

	return withStore(c, func(ctx context.Context, s *esobs.Store) error {
		enc := json.NewEncoder(c.App.Writer)

		var n int
		err := s.ScanRecords(ctx, f, func(r *esobs.Record) error {
			if err := enc.Encode(dumpLine{
				RecordType: r.Key.RecordType,
				ProducerID: r.Key.ProducerID,
				Timestamp:  r.Key.Timestamp,
				Data:       r.Data,
			}); err != nil {
				return err
			}

			n++
			if limit > 0 && n >= limit {
				return errStopScan
			}
			return nil
		})

		if errors.Is(err, errStopScan) {
			return nil
		}
		return err
	})
}

func describe(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("describe takes exactly one unique id")
	}
	uid := c.Args().First()

	return withStore(c, func(ctx context.Context, s *esobs.Store) error {
		var descs []*esobs.Description

		switch {
		case c.Bool(historyFlag.Name):
			history, err := s.DescriptionHistory(ctx, uid)
			if err != nil {
				return err
			}
			descs = history
		case c.IsSet(atFlag.Name):
			d, err := s.DescriptionAt(ctx, uid, c.Float64(atFlag.Name))
			if err != nil {
				return err
			}
			descs = append(descs, d)
		default:
			d, err := s.LatestDescription(ctx, uid)
			if err != nil {
				return err
			}
			descs = append(descs, d)
		}

		table := tablewriter.NewWriter(c.App.Writer)
		table.SetHeader([]string{"Valid From", "Name", "Definition", "Outputs"})
		for _, d := range descs {
			table.Append([]string{formatTime(d.ValidFrom), d.Name, d.Definition, strings.Join(d.Outputs, ",")})
		}
		table.Render()

		return nil
	})
}

func formatTime(t float64) string {
	if math.IsNaN(t) {
		return "-"
	}
	return strconv.FormatFloat(t, 'f', -1, 64)
}
