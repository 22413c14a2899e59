// Command categorize extracts incident fields from one transcript and prints
// them as JSON.
//
//	categorize [-fields a,b] [-catalog neris_fire] [-schema confidence] [file]
//
// The transcript is read from file, or from stdin when no file is given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"incident_extractor/internal/app"
	"incident_extractor/internal/categorize"
	"incident_extractor/internal/config"
	"incident_extractor/internal/fields"
	"incident_extractor/internal/logger"
	"incident_extractor/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	os.Exit(run(context.Background(), cfg, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, cfg config.Config, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("categorize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fieldList := fs.String("fields", "", "comma separated field names or a JSON array (default: whole catalog)")
	variant := fs.String("catalog", cfg.Catalog.Variant, "built-in field catalog: "+strings.Join(fields.Variants(), ", "))
	schemaFlag := fs.String("schema", cfg.Catalog.Schema, "output schema: confidence or simple")
	verbose := fs.Bool("v", false, "log provider calls to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := zap.NewNop()
	if *verbose {
		if l, err := logger.New("debug", "development"); err == nil {
			log = l
			defer logger.Sync(log)
		}
	}

	schema, err := fields.ParseSchema(*schemaFlag)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	catalog, err := fields.NewManager(cfg.Catalog.Path, *variant, log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	names := catalog.Current().Names()
	if *fieldList != "" {
		names = categorize.ParseFieldList(*fieldList)
	}

	transcript, err := readTranscript(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	p, err := app.NewProvider(cfg, schema, catalog, &http.Client{}, log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	res, err := categorize.Transcript(ctx, p, transcript, names)
	switch {
	case errors.Is(err, provider.ErrModelCall):
		fmt.Fprintf(stderr, "warning: %v\n", err)
	case err != nil:
		fmt.Fprintln(stderr, err)
		return 2
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func readTranscript(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}
