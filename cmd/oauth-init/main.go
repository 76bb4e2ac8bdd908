package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"

	"budget/internal/cli"
	"budget/internal/config"
	"budget/internal/log"
)

func main() {
	cli.LoadEnvFile()

	port := flag.String("port", envOr("OAUTH_REDIRECT_PORT", "8085"), "local port of the OAuth redirect")
	out := flag.String("out", envOr("GOOGLE_OAUTH_TOKEN_FILE", "token.json"), "file the token is written to")
	wait := flag.Duration("wait", 5*time.Minute, "how long to wait for the authorization")
	flag.Parse()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentSheets)

	if err := authorize(cfg, *port, *out, *wait); err != nil {
		logger.Error("Authorization failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Saved OAuth token", "file", *out)
}

func authorize(cfg *config.Config, port, out string, wait time.Duration) error {
	// Only the OAuth client matters here; the token is what we are creating.
	_, clientJSON, _, err := (&config.Config{
		GoogleOAuthClientJSON: cfg.GoogleOAuthClientJSON,
		GoogleOAuthClientFile: cfg.GoogleOAuthClientFile,
	}).GoogleCredentials()
	if err != nil {
		return err
	}
	if len(clientJSON) == 0 {
		return errors.New("set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}

	oauthCfg, err := google.ConfigFromJSON(clientJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return fmt.Errorf("oauth config: %w", err)
	}
	// The OAuth client must list this URI among its authorized redirect URIs.
	oauthCfg.RedirectURL = "http://localhost:" + port + "/callback"

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth error: %s", errStr)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		codeCh <- r.URL.Query().Get("code")
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer srv.Close()

	fmt.Printf("Open this URL to authorize:\n%s\n", oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	select {
	case code := <-codeCh:
		tok, err := oauthCfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("token exchange: %w", err)
		}
		return writeToken(out, tok)
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.New("authorization timed out")
	}
}

func writeToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
