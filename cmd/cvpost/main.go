// Package main is the cvpost CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/hyperjump/cvpost/internal/cli"
	"github.com/hyperjump/cvpost/internal/config"
	"github.com/hyperjump/cvpost/internal/extract"
	"github.com/hyperjump/cvpost/internal/fileid"
	"github.com/hyperjump/cvpost/internal/models"
	"github.com/hyperjump/cvpost/internal/server"
	"github.com/hyperjump/cvpost/internal/session"
	"github.com/hyperjump/cvpost/internal/storage"
	"github.com/hyperjump/cvpost/internal/submit"
	"github.com/hyperjump/cvpost/internal/watcher"
	"github.com/hyperjump/cvpost/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/cvpost/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "send":
		runSend()
	case "extract":
		runExtract()
	case "watch":
		runWatch()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("cvpost version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the wired upload pipeline.
type Components struct {
	Storage   *storage.SQLiteStorage
	Extractor *extract.Extractor
	Client    *submit.Client
	Machine   *session.Machine
}

// Close releases the history database.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents wires the pipeline. History is optional: when the database
// cannot be opened the pipeline runs without it.
func initializeComponents(cfg *config.Config, logger *zap.Logger) *Components {
	c := &Components{}
	machineOpts := []session.Option{session.WithLogger(logger)}
	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Warn("attempt history disabled", zap.String("path", cfg.Storage.DatabasePath), zap.Error(err))
		} else {
			c.Storage = store
			machineOpts = append(machineOpts, session.WithRecorder(store))
		}
	}
	c.Extractor = extract.NewExtractor(
		extract.WithLogger(logger),
		extract.WithMaxBytes(cfg.Server.MaxUploadBytes),
	)
	c.Client = submit.NewClient(submit.Config{
		Endpoint:    cfg.Submit.Endpoint,
		CandidateID: cfg.Submit.CandidateID,
		Timeout:     cfg.Submit.Timeout,
	}, submit.WithLogger(logger))
	c.Machine = session.NewMachine(c.Extractor, c.Client, machineOpts...)
	return c
}

// newInboxWatcher wires an inbox watcher that selects settled files on m.
func newInboxWatcher(ctx context.Context, cfg *config.Config, m *session.Machine, logger *zap.Logger, debug bool) *watcher.Watcher {
	opts := []watcher.WatcherOption{
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithRetryIf(watcher.IsBusy),
	}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	return watcher.NewWatcher(cfg.Watch.Directory, watcher.SelectFiles(ctx, m, logger), opts...)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (state transitions, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("endpoint", cfg.Submit.Endpoint),
		zap.Bool("debug", debugMode),
	)

	components := initializeComponents(cfg, logger)
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		inbox := newInboxWatcher(gctx, cfg, components.Machine, logger, debugMode)
		if err := inbox.Start(gctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		if cfg.Watch.SyncExisting {
			if err := inbox.SyncExistingFiles(); err != nil {
				logger.Warn("inbox sync failed", zap.Error(err))
			}
		}
		logger.Info("watching inbox", zap.String("dir", inbox.Dir()))
	}

	var store storage.Storage
	if components.Storage != nil {
		store = components.Storage
	}
	srv := server.NewServer(components.Machine, store, cfg, logger)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server failed", zap.Error(err))
		os.Exit(1)
	}
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument, so "cvpost send cv.pdf -output json" would otherwise
// leave -output unparsed.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseOutput(value string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(value)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runSend() {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = submit directly from this process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Println("Usage: cvpost send [flags] <file>")
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)
	path := fs.Arg(0)

	var snap *session.Snapshot
	if *serverURL != "" {
		res, err := uploadViaHTTP(*serverURL, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(1)
		}
		snap = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewCommandLogger(cfg.Debug || *debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components := initializeComponents(cfg, logger)
		defer components.Close()

		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Open failed: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		res, err := components.Machine.Select(ctx, session.File{Name: filepath.Base(path), Content: f})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(1)
		}
		snap = &res
	}

	if err := cli.WriteOutcome(os.Stdout, *snap, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if snap.Status != session.Succeeded {
		os.Exit(1)
	}
}

// uploadViaHTTP posts path to a running server as a multipart upload.
func uploadViaHTTP(serverURL, path string) (*session.Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &snap, nil
}

func runExtract() {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	outputFormat := fs.String("output", "text", "output format: text or json")
	maxBytes := fs.Int64("max-bytes", extract.DefaultMaxBytes, "largest file accepted")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Println("Usage: cvpost extract [flags] <file>")
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)
	logger, err := utils.NewCommandLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := fs.Arg(0)
	ext := extract.NewExtractor(extract.WithLogger(logger), extract.WithMaxBytes(*maxBytes))
	text, err := ext.ExtractFile(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteExtraction(os.Stdout, filepath.Base(path), text, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dir := fs.String("dir", "", "inbox directory (default from config)")
	syncExisting := fs.Bool("sync", false, "also upload files already in the inbox")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid directory: %v\n", err)
			os.Exit(1)
		}
		cfg.Watch.Directory = abs
	}
	if cfg.Watch.Directory == "" {
		fmt.Fprintln(os.Stderr, "No inbox directory: set watch.directory or pass -dir")
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components := initializeComponents(cfg, logger)
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	inbox := newInboxWatcher(ctx, cfg, components.Machine, logger, debugMode)
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer inbox.Stop()
	if *syncExisting || cfg.Watch.SyncExisting {
		if err := inbox.SyncExistingFiles(); err != nil {
			logger.Warn("inbox sync failed", zap.Error(err))
		}
	}
	logger.Info("watching inbox", zap.String("dir", inbox.Dir()))
	<-ctx.Done()
	logger.Info("Shutting down...", zap.Int("pending", inbox.Pending()))
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the history database directly)")
	limit := fs.Int("limit", 20, "number of attempts to show")
	status := fs.String("status", "", "only show succeeded or failed attempts")
	file := fs.String("file", "", "only show attempts for this file's content")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseOutput(*outputFormat)
	q := &models.AttemptQuery{Limit: *limit, Status: *status}
	if *file != "" {
		fp, err := fileid.OfFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fingerprint failed: %v\n", err)
			os.Exit(1)
		}
		q.Fingerprint = fp
	}
	if err := q.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var attempts []*models.Attempt
	if *serverURL != "" {
		res, err := historyViaHTTP(*serverURL, q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
			os.Exit(1)
		}
		attempts = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if cfg.Storage.DatabasePath == "" {
			fmt.Fprintln(os.Stderr, "History is disabled: storage.enabled is false")
			os.Exit(1)
		}
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		attempts, err = store.ListAttempts(context.Background(), q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteAttempts(os.Stdout, attempts, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func historyViaHTTP(serverURL string, q *models.AttemptQuery) ([]*models.Attempt, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Fingerprint != "" {
		params.Set("fingerprint", q.Fingerprint)
	}
	resp, err := http.Get(serverURL + "/api/v1/attempts?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	var out struct {
		Attempts []*models.Attempt `json:"attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Attempts, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseOutput(*outputFormat)
	st, err := statusViaHTTP(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*cli.Status, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	var st cli.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

func printUsage() {
	fmt.Println(`cvpost - Extract CV text and submit it to the ingestion endpoint

Usage:
  cvpost server [flags]           Start the HTTP upload server
  cvpost send [flags] <file>      Extract and submit one CV (PDF, DOCX, or TXT)
  cvpost extract [flags] <file>   Print the text extracted from a CV without submitting it
  cvpost watch [flags]            Submit CVs dropped into an inbox directory
  cvpost history [flags]          Show recent upload attempts
  cvpost status [flags]           Show server session and history status
  cvpost version                  Show version
  cvpost help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/cvpost/config.yaml)
  --debug            Enable debug logging

Send Flags:
  --config string    Config file path
  --server string    Server URL. Empty (default) submits directly from this process.
  --output string    Output format: text or json (default: text)

Extract Flags:
  --output string    Output format: text or json (default: text)
  --max-bytes int    Largest file accepted (default: 10485760)

Watch Flags:
  --config string    Config file path
  --dir string       Inbox directory (default: watch.directory from config)
  --sync             Also upload files already in the inbox

History Flags:
  --config string    Config file path (for direct database mode)
  --server string    Server URL. Empty (default) reads the history database directly.
  --limit int        Number of attempts (default: 20, max 100)
  --status string    succeeded or failed
  --file string      Only attempts for this file's content (matched by fingerprint)
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Examples:
  cvpost server
  cvpost send resume.pdf
  cvpost send --output json resume.docx
  cvpost send --server http://localhost:8080 resume.txt
  cvpost extract resume.pdf
  cvpost watch --dir ~/cv-inbox
  cvpost history --status failed
  cvpost history --file resume.pdf   # was this CV already sent?`)
}
