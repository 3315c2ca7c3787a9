package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/export"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

// errExit ends the interactive shell.
var errExit = errors.New("exit")

// Store is the read side of *store.Store used by the CLI.
type Store interface {
	ListDevices(ctx context.Context) ([]types.Device, error)
	Readings(ctx context.Context, q store.ReadingQuery) ([]types.StoredReading, error)
	CountDevices(ctx context.Context) (int, error)
	CountReadings(ctx context.Context, deviceID string) (int, error)
}

type command struct {
	name  string
	usage string
	help  string
	run   func(c *cli, ctx context.Context, args []string) error
}

// commands is filled in init because help refers back to it.
var commands []command

func init() {
	commands = []command{
		{"devices", "devices", "list registered devices", (*cli).devices},
		{"readings", "readings <device> [limit]", "show the newest readings of a device", (*cli).readings},
		{"count", "count", "count devices and readings", (*cli).count},
		{"export", "export <file.parquet> [device]", "write readings to a Parquet file", (*cli).export},
		{"help", "help", "show this help", (*cli).help},
		{"exit", "exit", "leave the shell", func(*cli, context.Context, []string) error { return errExit }},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

type cli struct {
	store Store
	out   io.Writer
}

// exec runs one command line.
func (c *cli) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := lookup(fields[0])
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(c, ctx, fields[1:])
}

func (c *cli) devices(ctx context.Context, _ []string) error {
	devices, err := c.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "no devices")
		return nil
	}

	table := c.table("DEVICE", "REGISTERED")
	for _, d := range devices {
		table.Append([]string{d.DeviceID, d.RegisteredAt.UTC().Format(time.RFC3339)})
	}
	table.Render()
	return nil
}

func (c *cli) readings(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.NewValidation("readings", "usage: readings <device> [limit]")
	}
	q := store.ReadingQuery{DeviceID: args[0], Limit: 20}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return errors.NewValidation("limit", "must be a positive integer")
		}
		q.Limit = n
	}

	readings, err := c.store.Readings(ctx, q)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintf(c.out, "no readings for %s\n", args[0])
		return nil
	}

	table := c.table("TIME", "TEMPERATURE", "HUMIDITY", "RAIN PULSES", "ANOMALOUS")
	for _, r := range readings {
		table.Append([]string{
			time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			formatFloat(r.Temperature),
			formatFloat(r.Humidity),
			formatFloat(r.RainPulses),
			strconv.FormatBool(r.Anomalous),
		})
	}
	table.Render()
	return nil
}

func (c *cli) count(ctx context.Context, _ []string) error {
	devices, err := c.store.CountDevices(ctx)
	if err != nil {
		return err
	}
	readings, err := c.store.CountReadings(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "devices:  %d\nreadings: %d\n", devices, readings)
	return nil
}

func (c *cli) export(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.NewValidation("export", "usage: export <file.parquet> [device]")
	}
	device := ""
	if len(args) == 2 {
		device = args[1]
	}

	n, err := export.Readings(ctx, c.store, args[0], device, export.DefaultOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %d readings to %s\n", n, args[0])
	return nil
}

func (c *cli) help(context.Context, []string) error {
	table := c.table("COMMAND", "DESCRIPTION")
	for _, cmd := range commands {
		table.Append([]string{cmd.usage, cmd.help})
	}
	table.Render()
	return nil
}

func (c *cli) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(c.out)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetBorder(false)
	t.SetColumnSeparator("")
	t.SetHeaderLine(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
