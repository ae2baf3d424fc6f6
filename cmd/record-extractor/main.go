package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/record-extractor/internal/logging"
	"github.com/zombor/record-extractor/internal/roster"
	"github.com/zombor/record-extractor/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine, real environment variables still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("record-extractor")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "record-extractor.db", "Database file path")
		storagePath = fs.StringLong("storage", "./sheets", "Directory for archived sheet images")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY or API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name (e.g., qwen2.5vl, llava)")
		ollamaKey   = fs.StringLong("ollama-key", "", "Bearer token for a hosted Ollama endpoint (optional)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		sessionTTL  = fs.DurationLong("session-ttl", 2*time.Hour, "Drop browser sessions idle for longer than this")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat   = fs.StringLong("log-format", "text", "Log format: text or json")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECORD_EXTRACTOR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	if *sessionTTL <= 0 {
		slog.Error("Session TTL must be positive", "session_ttl", *sessionTTL)
		os.Exit(1)
	}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}

	// Initialize scanner based on type
	slog.Info("Initializing scanner...", "type", *scannerType)
	scanner, err := scanning.New(scanning.Config{
		Backend:     *scannerType,
		GeminiKey:   apiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		OllamaKey:   *ollamaKey,
	})
	if errors.Is(err, scanning.ErrMissingCredential) {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize database
	slog.Info("Initializing database...")
	db, err := roster.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := roster.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := roster.NewService(db, scanner, store)

	basicAuth := roster.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := roster.NewServer(service, basicAuth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Web interface", "url", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, addr)
	})
	g.Go(func() error {
		ticker := time.NewTicker(*sessionTTL / 4)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := service.PruneSessions(*sessionTTL); n > 0 {
					slog.Debug("Pruned idle sessions", "count", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}
