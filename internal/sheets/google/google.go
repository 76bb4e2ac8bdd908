package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budget/internal/cache"
	"budget/internal/core"
	ports "budget/internal/sheets"
)

// Default named ranges of the budget spreadsheet.
const (
	DefaultCurrenciesRange   = "Currencies"
	DefaultBudgetDatesRange  = "BudgetDates"
	DefaultSubtotalsRange    = "BudgetRecurringSubtotals"
	DefaultTransactionsRange = "RecurringTransactions"
	DefaultFrequenciesRange  = "TransactionFrequencies"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 30 * time.Second
	gridCacheSize        = 32
	gridCacheTTL         = 10 * time.Minute
)

// Ensure interface conformance
var (
	_ ports.BudgetSource           = (*Client)(nil)
	_ ports.BudgetSink             = (*Client)(nil)
	_ ports.DailyResultBatchWriter = (*Client)(nil)
)

// Ranges names the ranges the client reads and writes.
type Ranges struct {
	Currencies   string
	BudgetDates  string
	Subtotals    string
	Transactions string
	Frequencies  string
}

// DefaultRanges returns the standard named ranges.
func DefaultRanges() Ranges {
	return Ranges{
		Currencies:   DefaultCurrenciesRange,
		BudgetDates:  DefaultBudgetDatesRange,
		Subtotals:    DefaultSubtotalsRange,
		Transactions: DefaultTransactionsRange,
		Frequencies:  DefaultFrequenciesRange,
	}
}

func (r Ranges) withDefaults() Ranges {
	d := DefaultRanges()
	if r.Currencies == "" {
		r.Currencies = d.Currencies
	}
	if r.BudgetDates == "" {
		r.BudgetDates = d.BudgetDates
	}
	if r.Subtotals == "" {
		r.Subtotals = d.Subtotals
	}
	if r.Transactions == "" {
		r.Transactions = d.Transactions
	}
	if r.Frequencies == "" {
		r.Frequencies = d.Frequencies
	}
	return r
}

// Config holds the settings of a Sheets client. Exactly one credential kind
// is used: the service account when set, otherwise the OAuth client and token.
type Config struct {
	SpreadsheetID      string
	Ranges             Ranges
	ServiceAccountJSON []byte
	OAuthClientJSON    []byte
	OAuthTokenJSON     []byte
	// RetryAttempts bounds the attempts of a rate-limited request.
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Client reads the budget inputs from a spreadsheet and writes the results
// back into it.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ranges        Ranges
	logger        *slog.Logger
	retryAttempts uint
	retryDelay    time.Duration

	// grids caches named range coordinates for gridCacheTTL.
	grids *cache.LRUCache[*gsheet.GridRange]

	mu sync.Mutex
	// formulas holds the formula rendering of the catalog rows of the last
	// TransactionCatalog call, indexed by Transaction.Row.
	formulas [][]any
}

// New creates a Sheets client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, cfg, logger), nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		ranges:        cfg.Ranges.withDefaults(),
		logger:        logger,
		retryAttempts: attempts,
		retryDelay:    delay,
		grids:         cache.NewLRUCache[*gsheet.GridRange](gridCacheSize, gridCacheTTL),
	}
}

// newSheetsService initializes a Sheets Service from service account or OAuth
// credentials.
func newSheetsService(ctx context.Context, cfg Config, logger *slog.Logger) (*gsheet.Service, error) {
	var ts oauth2.TokenSource
	switch {
	case len(cfg.ServiceAccountJSON) > 0:
		logger.InfoContext(ctx, "Using service account credentials", "json_length", len(cfg.ServiceAccountJSON))
		creds, err := goauth.CredentialsFromJSON(ctx, cfg.ServiceAccountJSON, gsheet.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("service account credentials: %w", err)
		}
		ts = creds.TokenSource
	case len(cfg.OAuthClientJSON) > 0 && len(cfg.OAuthTokenJSON) > 0:
		logger.InfoContext(ctx, "Using OAuth client credentials")
		conf, err := goauth.ConfigFromJSON(cfg.OAuthClientJSON, gsheet.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("oauth config: %w", err)
		}
		var tok oauth2.Token
		if err := json.Unmarshal(cfg.OAuthTokenJSON, &tok); err != nil {
			return nil, fmt.Errorf("oauth token: %w", err)
		}
		ts = conf.TokenSource(ctx, &tok)
	default:
		return nil, errors.New("missing credentials (set service account or OAuth client and token)")
	}

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(newHTTPClientWithPooling(ts)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created successfully")
	return svc, nil
}

// newHTTPClientWithPooling creates an authorized HTTP client with connection
// pooling and timeouts suited to the Sheets API.
func newHTTPClientWithPooling(ts oauth2.TokenSource) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   60 * time.Second,
	}
}

func (c *Client) CurrencyRates(ctx context.Context) (core.RateTable, error) {
	values, err := c.readValues(ctx, c.ranges.Currencies, "UNFORMATTED_VALUE")
	if err != nil {
		return nil, err
	}
	return parseRates(values)
}

func (c *Client) TargetDates(ctx context.Context) ([]core.Date, error) {
	values, err := c.readValues(ctx, c.ranges.BudgetDates, "UNFORMATTED_VALUE")
	if err != nil {
		return nil, err
	}
	return parseDates(values)
}

func (c *Client) FrequencyRanks(ctx context.Context) (core.FrequencyRank, error) {
	values, err := c.readValues(ctx, c.ranges.Frequencies, "UNFORMATTED_VALUE")
	if err != nil {
		return nil, err
	}
	return parseRanks(values), nil
}

// TransactionCatalog reads the catalog and keeps its formula rendering for a
// later WriteSortedCatalog.
func (c *Client) TransactionCatalog(ctx context.Context) ([]core.Transaction, error) {
	values, err := c.readValues(ctx, c.ranges.Transactions, "UNFORMATTED_VALUE")
	if err != nil {
		return nil, err
	}
	catalog, err := parseCatalog(values)
	if err != nil {
		return nil, err
	}
	formulas, err := c.readValues(ctx, c.ranges.Transactions, "FORMULA")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.formulas = keptRows(values, formulas)
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Read transaction catalog", "range", c.ranges.Transactions, "transactions", len(catalog))
	return catalog, nil
}

func (c *Client) readValues(ctx context.Context, rng, render string) ([][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	var resp *gsheet.ValueRange
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
			ValueRenderOption(render).
			DateTimeRenderOption("SERIAL_NUMBER").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// WriteSortedCatalog rewrites the catalog range in the given order. Rows read
// by the last TransactionCatalog call are written from their formula
// rendering; the rest of the range is cleared.
func (c *Client) WriteSortedCatalog(ctx context.Context, catalog []core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	grid, err := c.gridRange(ctx, c.ranges.Transactions)
	if err != nil {
		return err
	}
	c.mu.Lock()
	formulas := c.formulas
	c.mu.Unlock()

	height, width := gridSize(grid)
	if height < 0 {
		height = max(len(catalog), len(formulas))
	}
	if width < 0 {
		width = catalogColumns
	}
	if len(catalog) > height {
		return fmt.Errorf("catalog of %d rows does not fit range %s of %d rows", len(catalog), c.ranges.Transactions, height)
	}

	rows := make([][]any, 0, height)
	for _, tx := range catalog {
		var row []any
		if tx.Row >= 0 && tx.Row < len(formulas) && formulas[tx.Row] != nil {
			row = formulas[tx.Row]
		} else {
			row = transactionRow(tx)
		}
		rows = append(rows, padRow(row, width))
	}
	for len(rows) < height {
		rows = append(rows, padRow(nil, width))
	}

	vr := &gsheet.ValueRange{Values: rows}
	err = c.withRetry(ctx, func() error {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.ranges.Transactions, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", c.ranges.Transactions, err)
	}

	c.mu.Lock()
	c.formulas = nil
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Wrote sorted catalog", "range", c.ranges.Transactions, "transactions", len(catalog))
	return nil
}

// WriteDailyResult writes the total of one date and sets its note.
func (c *Client) WriteDailyResult(ctx context.Context, rowIndex int, r core.DailyResult) error {
	if rowIndex < 0 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}
	return c.writeResults(ctx, rowIndex, []core.DailyResult{r})
}

// WriteDailyResults writes every result in one batch update.
func (c *Client) WriteDailyResults(ctx context.Context, results []core.DailyResult) error {
	if len(results) == 0 {
		return nil
	}
	return c.writeResults(ctx, 0, results)
}

func (c *Client) writeResults(ctx context.Context, offset int, results []core.DailyResult) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	grid, err := c.gridRange(ctx, c.ranges.Subtotals)
	if err != nil {
		return err
	}
	req, err := subtotalsRequest(grid, offset, results)
	if err != nil {
		return fmt.Errorf("write %s: %w", c.ranges.Subtotals, err)
	}

	err = c.withRetry(ctx, func() error {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", c.ranges.Subtotals, err)
	}
	c.logger.DebugContext(ctx, "Wrote daily results", "range", c.ranges.Subtotals, "offset", offset, "count", len(results))
	return nil
}

// subtotalsRequest builds the cell update of results written from the
// offset-th row of grid, into its first column.
func subtotalsRequest(grid *gsheet.GridRange, offset int, results []core.DailyResult) (*gsheet.BatchUpdateSpreadsheetRequest, error) {
	if height, _ := gridSize(grid); height >= 0 && offset+len(results) > height {
		return nil, fmt.Errorf("%d results from row %d exceed range of %d rows", len(results), offset, height)
	}

	rows := make([]*gsheet.RowData, 0, len(results))
	for _, r := range results {
		total := r.Total.InexactFloat64()
		rows = append(rows, &gsheet.RowData{
			Values: []*gsheet.CellData{{
				UserEnteredValue: &gsheet.ExtendedValue{NumberValue: &total},
				Note:             r.Comment,
				ForceSendFields:  []string{"Note"},
			}},
		})
	}

	start := grid.StartRowIndex + int64(offset)
	target := &gsheet.GridRange{
		SheetId:          grid.SheetId,
		StartRowIndex:    start,
		EndRowIndex:      start + int64(len(results)),
		StartColumnIndex: grid.StartColumnIndex,
		EndColumnIndex:   grid.StartColumnIndex + 1,
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
	return &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			UpdateCells: &gsheet.UpdateCellsRequest{
				Range:  target,
				Rows:   rows,
				Fields: "userEnteredValue,note",
			},
		}},
	}, nil
}

// gridSize returns the rows and columns of g, or -1 for an unbounded side.
func gridSize(g *gsheet.GridRange) (rows, cols int) {
	rows, cols = -1, -1
	if g.EndRowIndex > 0 {
		rows = int(g.EndRowIndex - g.StartRowIndex)
	}
	if g.EndColumnIndex > 0 {
		cols = int(g.EndColumnIndex - g.StartColumnIndex)
	}
	return rows, cols
}

// gridRange resolves a named range to its grid coordinates, caching the answer.
func (c *Client) gridRange(ctx context.Context, name string) (*gsheet.GridRange, error) {
	if g, ok := c.grids.Get(name); ok {
		return g, nil
	}

	var ss *gsheet.Spreadsheet
	err := c.withRetry(ctx, func() error {
		var err error
		ss, err = c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("namedRanges").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read named ranges: %w", err)
	}

	var found *gsheet.GridRange
	for _, nr := range ss.NamedRanges {
		if nr.Range == nil {
			continue
		}
		c.grids.Set(nr.Name, nr.Range)
		if nr.Name == name {
			found = nr.Range
		}
	}
	if found == nil {
		return nil, fmt.Errorf("named range %q not found", name)
	}
	return found, nil
}

// withRetry runs fn, retrying when the API answers 429.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				c.logger.WarnContext(ctx, "Rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
