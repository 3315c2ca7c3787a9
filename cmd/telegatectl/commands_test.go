package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/export"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

type fakeStore struct {
	devices  []types.Device
	readings []types.StoredReading
	lastQ    store.ReadingQuery
}

func (f *fakeStore) ListDevices(context.Context) ([]types.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) Readings(_ context.Context, q store.ReadingQuery) ([]types.StoredReading, error) {
	f.lastQ = q
	var out []types.StoredReading
	for _, r := range f.readings {
		if q.DeviceID == "" || r.DeviceID == q.DeviceID {
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountDevices(context.Context) (int, error) {
	return len(f.devices), nil
}

func (f *fakeStore) CountReadings(context.Context, string) (int, error) {
	return len(f.readings), nil
}

func newTestCLI() (*cli, *fakeStore, *bytes.Buffer) {
	st := &fakeStore{
		devices: []types.Device{
			{DeviceID: "dev-1", RegisteredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
			{DeviceID: "dev-2", RegisteredAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)},
		},
		readings: []types.StoredReading{
			{DeviceID: "dev-1", Timestamp: 1714557600, Temperature: 18.5, Humidity: 70, RainPulses: 1},
			{DeviceID: "dev-1", Timestamp: 1714557540, Temperature: 18.25, Humidity: 71},
			{DeviceID: "dev-2", Timestamp: 1714557600, Temperature: 20, Humidity: 55, Anomalous: true},
		},
	}
	out := &bytes.Buffer{}
	return &cli{store: st, out: out}, st, out
}

func TestExec(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{"empty line", "   ", nil, false},
		{"devices", "devices", []string{"dev-1", "dev-2", "2024-05-01T10:00:00Z"}, false},
		{"readings", "readings dev-1", []string{"18.5", "18.25", "2024-05-01T10:00:00Z"}, false},
		{"readings limit", "readings dev-1 1", []string{"18.5"}, false},
		{"readings unknown", "readings dev-9", []string{"no readings for dev-9"}, false},
		{"readings missing device", "readings", nil, true},
		{"readings bad limit", "readings dev-1 zero", nil, true},
		{"count", "count", []string{"devices:  2", "readings: 3"}, false},
		{"help", "help", []string{"readings <device> [limit]", "export <file.parquet> [device]"}, false},
		{"unknown", "frobnicate", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, out := newTestCLI()
			err := c.exec(context.Background(), tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("exec(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestExec_ReadingsLimit(t *testing.T) {
	c, st, _ := newTestCLI()

	if err := c.exec(context.Background(), "readings dev-1"); err != nil {
		t.Fatal(err)
	}
	if st.lastQ.Limit != 20 {
		t.Errorf("default limit = %d, want 20", st.lastQ.Limit)
	}

	if err := c.exec(context.Background(), "readings dev-1 5"); err != nil {
		t.Fatal(err)
	}
	if st.lastQ.Limit != 5 || st.lastQ.DeviceID != "dev-1" {
		t.Errorf("query = %+v", st.lastQ)
	}
}

func TestExec_Exit(t *testing.T) {
	c, _, _ := newTestCLI()
	if err := c.exec(context.Background(), "exit"); !errors.Is(err, errExit) {
		t.Errorf("exit returned %v", err)
	}
}

func TestExec_Export(t *testing.T) {
	c, _, out := newTestCLI()
	path := filepath.Join(t.TempDir(), "dev1.parquet")

	if err := c.exec(context.Background(), "export "+path+" dev-1"); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "wrote 2 readings") {
		t.Errorf("unexpected output: %s", out.String())
	}

	got, err := export.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("exported %d rows, want 2", len(got))
	}
}

func TestBatch(t *testing.T) {
	c, _, out := newTestCLI()

	in := strings.NewReader("# inventory\ncount\n\ndevices\nexit\nfrobnicate\n")
	if err := c.batch(context.Background(), in); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !strings.Contains(out.String(), "readings: 3") || !strings.Contains(out.String(), "dev-2") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestBatch_StopsOnError(t *testing.T) {
	c, _, out := newTestCLI()

	err := c.batch(context.Background(), strings.NewReader("readings\ncount\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if strings.Contains(out.String(), "readings: 3") {
		t.Error("batch continued after an error")
	}
}

func TestCompleter(t *testing.T) {
	complete := completer([]string{"dev-1", "dev-2", "sensor-7"})

	texts := func(input string) []string {
		buf := prompt.NewBuffer()
		buf.InsertText(input, false, true)
		var out []string
		for _, s := range complete(*buf.Document()) {
			out = append(out, s.Text)
		}
		return out
	}

	tests := []struct {
		input string
		want  []string
	}{
		{"re", []string{"readings"}},
		{"e", []string{"export", "exit"}},
		{"readings ", []string{"dev-1", "dev-2", "sensor-7"}},
		{"readings dev", []string{"dev-1", "dev-2"}},
		{"readings dev-1 ", nil},
		{"export out.parquet s", []string{"sensor-7"}},
		{"count ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := texts(tt.input)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("completer(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
