package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/record-extractor/internal/logging"
	"github.com/zombor/record-extractor/internal/roster"
	"github.com/zombor/record-extractor/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()

	fs := ff.NewFlagSet("extract-sheet")
	var (
		imagePath   = fs.StringLong("image", "", "Photo or scan of the record sheet (required)")
		outPath     = fs.StringLong("out", roster.ExportFileName, "Where to write the xlsx export")
		quiet       = fs.BoolLong("quiet", "Do not print the extracted table")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY or API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		ollamaKey   = fs.StringLong("ollama-key", "", "Bearer token for a hosted Ollama endpoint (optional)")
		logLevel    = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
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

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	if *imagePath == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: --image is required")
		os.Exit(2)
	}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}

	scanner, err := scanning.New(scanning.Config{
		Backend:     *scannerType,
		GeminiKey:   apiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		OllamaKey:   *ollamaKey,
	})
	if errors.Is(err, scanning.ErrMissingCredential) {
		fmt.Fprintln(os.Stderr, "error: Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer scanner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, scanner, *imagePath, *outPath, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		scanner.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, scanner scanning.Scanner, imagePath, outPath string, quiet bool) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	filename := filepath.Base(imagePath)
	session := roster.NewSession(scanner)
	state := session.Upload(ctx, f, filename, roster.DetectContentType(filename, ""))
	if state.Status == roster.StatusError {
		return errors.New(state.Error)
	}
	slog.Info("Extracted sheet", "filename", filename, "records", len(state.Records))

	if !quiet {
		printTable(state.Records)
	}

	if len(state.Records) == 0 {
		fmt.Fprintln(os.Stderr, "no records found, nothing exported")
		return nil
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating export: %w", err)
	}
	if _, err := session.Export(out); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing export: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d records to %s\n", len(state.Records), outPath)
	return nil
}

func printTable(records []scanning.Record) {
	grid := roster.Grid(records)
	if grid == nil {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(grid[0])
	table.AppendBulk(grid[1:])
	table.Render()
}
