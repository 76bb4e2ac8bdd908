package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Backends accepted by DATA_BACKEND.
var validBackends = []string{"memory", "sheets", "sqlite"}

var (
	validTieBreaks  = []string{"row", "start_date"}
	validLogLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validLogFormats = []string{"text", "json"}
)

type Config struct {
	// Backend selection
	DataBackend string
	DataFile    string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	AMQPProgressKey string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string
	SheetsRetryAttempts      int
	SheetsRetryDelay         time.Duration

	// Named ranges
	RangeCurrencies   string
	RangeBudgetDates  string
	RangeSubtotals    string
	RangeTransactions string
	RangeFrequencies  string

	// Budget rules
	MarkerAccounts []string
	SortTieBreak   string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		DataBackend: getEnv("DATA_BACKEND", "memory"),
		DataFile:    getEnv("DATA_FILE", "./data/budget.yaml"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budget.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "budget_runs"),
		AMQPProgressKey: getEnv("AMQP_PROGRESS_KEY", "budget_progress"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
		SheetsRetryAttempts:      getEnvInt("SHEETS_RETRY_ATTEMPTS", 3),
		SheetsRetryDelay:         getEnvDuration("SHEETS_RETRY_DELAY", 30*time.Second),

		RangeCurrencies:   getEnv("RANGE_CURRENCIES", "Currencies"),
		RangeBudgetDates:  getEnv("RANGE_BUDGET_DATES", "BudgetDates"),
		RangeSubtotals:    getEnv("RANGE_SUBTOTALS", "BudgetRecurringSubtotals"),
		RangeTransactions: getEnv("RANGE_TRANSACTIONS", "RecurringTransactions"),
		RangeFrequencies:  getEnv("RANGE_FREQUENCIES", "TransactionFrequencies"),

		MarkerAccounts: getEnvList("MARKER_ACCOUNTS", []string{"RBC", "CIBC"}),
		SortTieBreak:   getEnv("SORT_TIEBREAK", "row"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "memory":
		if c.DataFile == "" {
			errors = append(errors, "data file cannot be empty when using memory backend")
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "sheets":
		errors = append(errors, c.validateSheets()...)
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPProgressKey != "" && c.AMQPProgressKey == c.AMQPQueue {
			errors = append(errors, fmt.Sprintf("AMQP progress key '%s' must differ from the queue name", c.AMQPProgressKey))
		}
	}

	if !slices.Contains(validTieBreaks, c.SortTieBreak) {
		errors = append(errors, fmt.Sprintf("invalid sort tiebreak '%s': must be one of %v", c.SortTieBreak, validTieBreaks))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) validateSheets() []string {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
	}
	for _, r := range []struct{ key, value string }{
		{"RANGE_CURRENCIES", c.RangeCurrencies},
		{"RANGE_BUDGET_DATES", c.RangeBudgetDates},
		{"RANGE_SUBTOTALS", c.RangeSubtotals},
		{"RANGE_TRANSACTIONS", c.RangeTransactions},
		{"RANGE_FREQUENCIES", c.RangeFrequencies},
	} {
		if r.value == "" {
			errors = append(errors, fmt.Sprintf("%s cannot be empty when using sheets backend", r.key))
		}
	}
	if c.SheetsRetryAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid sheets retry attempts %d: must be at least 1", c.SheetsRetryAttempts))
	}

	// A service account replaces the OAuth client and token.
	if c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "" {
		return append(errors, checkFile("Google service account", c.GoogleServiceAccountFile)...)
	}

	hasClient := c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != ""
	if !hasClient {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON/FILE or GOOGLE_OAUTH_CLIENT_FILE/JSON must be provided for sheets backend")
	}
	hasToken := c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != ""
	if !hasToken {
		errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided for sheets backend")
	}
	errors = append(errors, checkFile("Google OAuth client", c.GoogleOAuthClientFile)...)
	errors = append(errors, checkFile("Google OAuth token", c.GoogleOAuthTokenFile)...)
	return errors
}

func checkFile(what, path string) []string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []string{fmt.Sprintf("%s file does not exist: %s", what, path)}
	}
	return nil
}

// GoogleCredentials returns the credential documents of the sheets backend.
// Inline JSON wins over the matching file.
func (c *Config) GoogleCredentials() (serviceAccount, oauthClient, oauthToken []byte, err error) {
	if serviceAccount, err = readInlineOrFile(c.GoogleServiceAccountJSON, c.GoogleServiceAccountFile); err != nil {
		return nil, nil, nil, fmt.Errorf("read service account: %w", err)
	}
	if serviceAccount != nil {
		return serviceAccount, nil, nil, nil
	}
	if oauthClient, err = readInlineOrFile(c.GoogleOAuthClientJSON, c.GoogleOAuthClientFile); err != nil {
		return nil, nil, nil, fmt.Errorf("read oauth client: %w", err)
	}
	if oauthToken, err = readInlineOrFile(c.GoogleOAuthTokenJSON, c.GoogleOAuthTokenFile); err != nil {
		return nil, nil, nil, fmt.Errorf("read oauth token: %w", err)
	}
	return nil, oauthClient, oauthToken, nil
}

func readInlineOrFile(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value. "none" yields an empty list.
func getEnvList(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if strings.EqualFold(value, "none") {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
