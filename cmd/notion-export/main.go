// Command notion-export runs a paginated Notion search and writes the
// results to stdout as NDJSON, with live progress on stderr.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mateothegreat/notionkit/pkg/logging"
	"github.com/mateothegreat/notionkit/pkg/notion"
	"github.com/mateothegreat/notionkit/pkg/paginate"
	"github.com/mateothegreat/notionkit/pkg/reporter"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") != "",
		Output: os.Stderr,
	})

	// Configuration from environment
	token := os.Getenv("NOTION_TOKEN")
	if token == "" {
		logger.Fatal().Msg("NOTION_TOKEN is required")
	}
	query := getEnv("NOTION_QUERY", "")
	limits := paginate.Limits{
		Pages:   getEnvInt("NOTION_MAX_PAGES", 0),
		Results: getEnvInt("NOTION_MAX_RESULTS", 0),
	}

	cfg := notion.DefaultConfig(token)
	if base := os.Getenv("NOTION_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	cfg.Retries = getEnvInt("NOTION_RETRIES", cfg.Retries)
	if timeout := getEnvInt("NOTION_TIMEOUT_SECONDS", 0); timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}
	if opTimeout := getEnvInt("NOTION_RUN_TIMEOUT_SECONDS", 0); opTimeout > 0 {
		cfg.OperationTimeout = time.Duration(opTimeout) * time.Second
	}

	client, err := notion.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Notion client")
	}

	// Cancel the run on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep := reporter.New()
	go func() {
		for snap := range rep.Watch() {
			logger.Info().
				Str("stage", string(snap.Stage)).
				Int("requests", snap.Requests).
				Int("results", snap.Results).
				Str("cursor", snap.Cursor).
				Msg("Progress")
		}
	}()

	pages, err := client.Search(ctx, notion.SearchRequest{Query: query}, limits, rep)
	if err != nil {
		logger.Fatal().Err(err).Msg("Search failed")
	}

	out := json.NewEncoder(os.Stdout)
	written := 0
	for _, page := range pages {
		for _, result := range page.Results {
			if err := out.Encode(result); err != nil {
				logger.Fatal().Err(err).Msg("Write failed")
			}
			written++
		}
	}

	snap := rep.Snapshot()
	logger.Info().
		Str("stage", string(snap.Stage)).
		Int("requests", snap.Requests).
		Int("written", written).
		Msg("Export finished")

	if snap.Stage == reporter.StageCancelled {
		fmt.Fprintln(os.Stderr, "export cancelled")
	}
}

// getEnv returns the environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
