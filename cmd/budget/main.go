package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"budget/internal/amqp"
	"budget/internal/backend"
	"budget/internal/cli"
	"budget/internal/config"
	"budget/internal/core"
	"budget/internal/log"
	"budget/internal/sheets/memory"
)

const usage = `usage: budget [flags] <command> [args]

commands:
  update        recompute the recurring subtotals and sort the catalog
  sort          sort the catalog by frequency rank
  import FILE   load a YAML budget file into the sqlite backend
  request OP    ask a budget-worker to run OP (update or sort)
  history       list recent runs

flags:
`

// resultPrinter is implemented by sinks that keep results in memory.
type resultPrinter interface {
	Results() []core.DailyResult
}

func main() {
	cli.LoadEnvFile()

	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	limit := fs.Int("n", 10, "number of runs listed by history")
	timeout := fs.Duration("timeout", 5*time.Minute, "maximum duration of the command")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := run(ctx, cfg, logger, command{name: fs.Arg(0), args: fs.Args()[1:], limit: *limit}, os.Stdout); err != nil {
		logger.Error("Command failed", "command", fs.Arg(0), "error", err)
		os.Exit(1)
	}
}

type command struct {
	name  string
	args  []string
	limit int
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, cmd command, out io.Writer) error {
	if cmd.name == "request" {
		return requestRun(ctx, cfg, logger, cmd.args)
	}

	b, err := cli.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Failed to close backend", "error", err)
		}
	}()

	switch cmd.name {
	case core.OpUpdateBudget, core.OpSortCatalog:
		svc := cli.NewBudgetService(cfg, b, logger)
		var rec core.RunRecord
		if cmd.name == core.OpUpdateBudget {
			rec, err = svc.UpdateBudget(ctx)
		} else {
			rec, err = svc.SortCatalog(ctx)
		}
		logger.Info("Run finished", log.NewFields().WithRun(rec).ToSlice()...)
		if err != nil {
			return err
		}
		if p, ok := b.Sink.(resultPrinter); ok && cmd.name == core.OpUpdateBudget {
			printResults(out, p.Results())
		}
		return nil
	case "import":
		return importFile(ctx, b, logger, cmd.args)
	case "history":
		return printHistory(ctx, b, out, cmd.limit)
	default:
		return fmt.Errorf("unknown command %q", cmd.name)
	}
}

func importFile(ctx context.Context, b *backend.Backend, logger *log.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("import needs exactly one YAML file")
	}
	if b.Importer == nil {
		return fmt.Errorf("the %s backend cannot import budget files", b.Type)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read budget file: %w", err)
	}
	snap, err := memory.ParseBudgetFile(data)
	if err != nil {
		return fmt.Errorf("parse budget file %s: %w", args[0], err)
	}
	if err := b.Importer.ReplaceSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("import budget: %w", err)
	}
	logger.Info("Imported budget file",
		"file", args[0],
		log.FieldDates, len(snap.Dates),
		log.FieldTransactions, len(snap.Catalog))
	return nil
}

func requestRun(ctx context.Context, cfg *config.Config, logger *log.Logger, args []string) error {
	if len(args) != 1 || (args[0] != core.OpUpdateBudget && args[0] != core.OpSortCatalog) {
		return errors.New("request needs one operation: update or sort")
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required to request a run")
	}
	client, err := amqp.NewClient(amqp.Config{
		URL:         cfg.AMQPURL,
		Exchange:    cfg.AMQPExchange,
		Queue:       cfg.AMQPQueue,
		ProgressKey: cfg.AMQPProgressKey,
	}, logger.For(log.ComponentAMQP))
	if err != nil {
		return fmt.Errorf("connect to AMQP: %w", err)
	}
	defer client.Close()

	msg, err := client.PublishRunRequest(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("Run requested", log.FieldRequestID, msg.ID, log.FieldOperation, msg.Operation)
	return nil
}

func printResults(out io.Writer, results []core.DailyResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "DATE\tTOTAL\tMATCHES")
	for _, r := range results {
		date := "-"
		if !r.Date.IsZero() {
			date = r.Date.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", date, core.FormatCurrency(r.Total), r.Matches)
	}
}

func printHistory(ctx context.Context, b *backend.Backend, out io.Writer, limit int) error {
	if b.History == nil {
		return fmt.Errorf("the %s backend keeps no run history", b.Type)
	}
	runs, err := b.History.RecentRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "STARTED\tOPERATION\tDATES\tTRANSACTIONS\tMATCHES\tDURATION\tERROR")
	for _, r := range runs {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.Started.Format(time.RFC3339), r.Operation, r.Dates, r.Transactions, r.Matches, r.Duration().Round(time.Millisecond), errText)
	}
	return nil
}
