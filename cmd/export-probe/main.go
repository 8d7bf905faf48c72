// Command export-probe checks a Wahapedia export without importing it.
//
// It downloads every export file and verifies the headers still match what
// the importer expects, so column renames upstream show up as a probe
// failure instead of silent row rejections. With -index it also parses an
// HTML page and reports which expected CSV files its links do not cover.
//
// Exit codes:
//   - 0: every file fetched and carried the expected columns.
//   - 1: at least one file failed the check.
//   - 2: configuration/initialization error.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/config"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/fetch"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/probe"
)

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	NewFetcher func(baseURL string, opts fetch.Options) probe.Fetcher
	HTTPClient *http.Client
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		NewFetcher: func(baseURL string, opts fetch.Options) probe.Fetcher {
			return fetch.New(baseURL, opts)
		},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})
	os.Exit(code)
}

func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	fs := flag.NewFlagSet("export-probe", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)

	var (
		envFile  = fs.String("env", "", "path to a .env file (default: ./.env if present)")
		baseURL  = fs.String("base-url", "", "export root URL (overrides env CSV_BASE_URL)")
		indexURL = fs.String("index", "", "HTML page to scan for CSV links (optional)")
		verbose  = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if cfg.BaseURL == "" {
		fmt.Fprintln(d.Stderr, "base URL must not be empty")
		return 2
	}

	var fetchLogger fetch.Logger
	if *verbose {
		fetchLogger = log.New(d.Stderr, "", log.LstdFlags)
	}
	fetcher := d.NewFetcher(cfg.BaseURL, fetch.Options{
		Timeout: cfg.FetchTimeout,
		Delay:   cfg.FetchDelay,
		Logger:  fetchLogger,
	})

	failed := 0
	for _, rep := range probe.CheckHeaders(ctx, fetcher) {
		fmt.Fprintln(d.Stdout, rep.Line())
		if !rep.OK() {
			failed++
		}
	}

	if *indexURL != "" {
		if err := checkIndex(ctx, d, *indexURL); err != nil {
			fmt.Fprintf(d.Stderr, "index check: %v\n", err)
			failed++
		}
	}

	if failed > 0 {
		fmt.Fprintf(d.Stdout, "probe failed: %d problem(s)\n", failed)
		return 1
	}
	fmt.Fprintln(d.Stdout, "probe ok")
	return 0
}

func checkIndex(ctx context.Context, d deps, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	links, err := probe.DiscoverCSVLinks(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.Stdout, "index links=%d\n", len(links))

	if missing := probe.MissingFiles(links); len(missing) > 0 {
		return fmt.Errorf("index is missing links for %s", strings.Join(missing, ", "))
	}
	return nil
}
