package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"budget/internal/config"
	"budget/internal/log"
)

const budgetYAML = `
rates:
  CAD: 1
  USD: "1.25"
dates: [2024-01-01, 2024-01-02]
frequencies: [Once, Monthly]
transactions:
  - start: 2024-01-01
    description: Rent
    currency: CAD
    amount: -1500
    frequency: Monthly
    account: RBC
  - start: 2024-01-02
    description: Refund
    currency: USD
    amount: 20
    frequency: Once
`

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budget.yaml")
	if err := os.WriteFile(path, []byte(budgetYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		DataBackend:    backend,
		DataFile:       path,
		SQLiteDBPath:   filepath.Join(t.TempDir(), "budget.db"),
		MarkerAccounts: []string{"RBC", "CIBC"},
		SortTieBreak:   "row",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func TestRun_UpdateMemory(t *testing.T) {
	cfg := testConfig(t, "memory")
	var out bytes.Buffer
	if err := run(context.Background(), cfg, testLogger(), command{name: "update"}, &out); err != nil {
		t.Fatalf("run(update) error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"2024-01-01", "($1,500.00)", "2024-01-02", "$25.00"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}
}

func TestRun_ImportThenUpdateSQLite(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()
	logger := testLogger()

	if err := run(ctx, cfg, logger, command{name: "import", args: []string{cfg.DataFile}}, io.Discard); err != nil {
		t.Fatalf("run(import) error = %v", err)
	}
	if err := run(ctx, cfg, logger, command{name: "update"}, io.Discard); err != nil {
		t.Fatalf("run(update) error = %v", err)
	}
	if err := run(ctx, cfg, logger, command{name: "sort"}, io.Discard); err != nil {
		t.Fatalf("run(sort) error = %v", err)
	}

	var out bytes.Buffer
	if err := run(ctx, cfg, logger, command{name: "history", limit: 5}, &out); err != nil {
		t.Fatalf("run(history) error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("history has %d lines, want header and 2 runs:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "sort") || !strings.Contains(lines[2], "update") {
		t.Errorf("history = %q, want newest first", lines)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     command
		wantErr string
	}{
		{name: "unknown command", cmd: command{name: "rebuild"}, wantErr: "unknown command"},
		{name: "import on memory", cmd: command{name: "import", args: []string{"x.yaml"}}, wantErr: "cannot import"},
		{name: "import without file", cmd: command{name: "import"}, wantErr: "exactly one"},
		{name: "request bad op", cmd: command{name: "request", args: []string{"rebuild"}}, wantErr: "update or sort"},
		{name: "request without broker", cmd: command{name: "request", args: []string{"sort"}}, wantErr: "AMQP_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), testConfig(t, "memory"), testLogger(), tt.cmd, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
