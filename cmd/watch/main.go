package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/poller"
	"github.com/stylistio/tryon-backend/internal/types"
	"github.com/stylistio/tryon-backend/internal/utils"
)

// watch follows a single generation over the HTTP API and prints every
// status change until the generation reaches a terminal state.
func main() {
	var (
		idFlag    = flag.String("id", "", "generation id to watch")
		baseFlag  = flag.String("base", "", "API base URL (defaults to TRYON_API_BASE_URL or http://localhost:8080)")
		tokenFlag = flag.String("token", "", "bearer token (defaults to TRYON_API_TOKEN)")
	)
	flag.Parse()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	genID, err := uuid.Parse(*idFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: watch -id <generation-uuid> [-base URL] [-token TOKEN]")
		os.Exit(2)
	}
	baseURL := *baseFlag
	if baseURL == "" {
		baseURL = utils.GetEnv("TRYON_API_BASE_URL", "http://localhost:8080", nil)
	}
	token := *tokenFlag
	if token == "" {
		token = os.Getenv("TRYON_API_TOKEN")
	}

	fetcher := newHTTPFetcher(baseURL, token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lastStatus := ""
	p := poller.New(poller.DefaultConfig(), genID, fetcher.fetch, func(u poller.Update) {
		switch {
		case u.Err != nil && u.Terminal:
			fmt.Printf("stopped: %v\n", u.Err)
		case u.Err != nil:
			fmt.Printf("fetch failed, will retry: %v\n", u.Err)
		case u.View != nil && u.View.Status != lastStatus:
			lastStatus = u.View.Status
			printView(u.View.Status, u.View.Label, u.View.ETATargetAt)
		}
	})
	p.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		p.Stop()
	case <-p.Done():
	}
}

func printView(status, label string, eta *time.Time) {
	if eta != nil && !types.TerminalStatus(status) {
		fmt.Printf("[%s] %s (ready around %s)\n", status, label, eta.Local().Format(time.Kitchen))
		return
	}
	fmt.Printf("[%s] %s\n", status, label)
}

type httpFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPFetcher(baseURL, token string) *httpFetcher {
	return &httpFetcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *httpFetcher) fetch(ctx context.Context, id uuid.UUID) (*types.Generation, error) {
	url := fmt.Sprintf("%s/api/generations/%s", f.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apierr.New(resp.StatusCode, "fetch_failed", fmt.Sprintf("server returned %d: %s", resp.StatusCode, body), nil)
	}

	var payload struct {
		Record *types.Generation `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Record == nil {
		return nil, fmt.Errorf("response missing generation record")
	}
	return payload.Record, nil
}
