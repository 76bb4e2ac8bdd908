package backend

import (
	"fmt"

	"budget/internal/amqp"
	"budget/internal/config"
	gsheet "budget/internal/sheets/google"
)

// FromAppConfig converts the application config to backend config. Google
// credentials are read here so that a missing file fails before any client
// is built.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	cfg := Config{
		Type:         backendType,
		DataFile:     appConfig.DataFile,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		AMQP: amqp.Config{
			URL:         appConfig.AMQPURL,
			Exchange:    appConfig.AMQPExchange,
			Queue:       appConfig.AMQPQueue,
			ProgressKey: appConfig.AMQPProgressKey,
		},
	}

	if backendType == SheetsBackend {
		sa, client, token, err := appConfig.GoogleCredentials()
		if err != nil {
			return Config{}, fmt.Errorf("load google credentials: %w", err)
		}
		cfg.Sheets = gsheet.Config{
			SpreadsheetID: appConfig.GoogleSpreadsheetID,
			Ranges: gsheet.Ranges{
				Currencies:   appConfig.RangeCurrencies,
				BudgetDates:  appConfig.RangeBudgetDates,
				Subtotals:    appConfig.RangeSubtotals,
				Transactions: appConfig.RangeTransactions,
				Frequencies:  appConfig.RangeFrequencies,
			},
			ServiceAccountJSON: sa,
			OAuthClientJSON:    client,
			OAuthTokenJSON:     token,
			RetryAttempts:      uint(max(appConfig.SheetsRetryAttempts, 1)),
			RetryDelay:         appConfig.SheetsRetryDelay,
		}
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case MemoryBackend:
		if c.DataFile == "" {
			return fmt.Errorf("data file is required for memory backend")
		}
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case SheetsBackend:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
		hasServiceAccount := len(c.Sheets.ServiceAccountJSON) > 0
		hasOAuth := len(c.Sheets.OAuthClientJSON) > 0 && len(c.Sheets.OAuthTokenJSON) > 0
		if !hasServiceAccount && !hasOAuth {
			return fmt.Errorf("sheets backend needs a service account or an OAuth client and token")
		}
	}

	// AMQP is optional, so only a partial setup is rejected
	if c.AMQP.URL != "" && (c.AMQP.Exchange == "" || c.AMQP.Queue == "") {
		return fmt.Errorf("AMQP exchange and queue are required when AMQP URL is set")
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, SheetsBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
