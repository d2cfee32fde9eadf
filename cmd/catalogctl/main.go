// Command catalogctl inspects and exports the ident catalog of a storage
// directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/klauspost/compress/zstd"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/ident-catalog/locks"
	"github.com/wolfeidau/ident-catalog/store/catalog"
	"github.com/wolfeidau/ident-catalog/store/kvengine"
	"github.com/wolfeidau/ident-catalog/store/recordstore"
	"github.com/wolfeidau/ident-catalog/telemetry"
)

var version = "dev"

const catalogStoreName = "mdb_catalog"

type Globals struct {
	DB           string           `help:"Path to the catalog database file." default:"catalog.db"`
	DataDir      string           `help:"Directory holding record store files." default:"data"`
	LogLevel     string           `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat    string           `help:"Log format (text, json)." default:"text"`
	OTLPEndpoint string           `help:"OTLP gRPC endpoint for metrics export." optional:""`
	Version      kong.VersionFlag `help:"Print version and exit."`
}

type CLI struct {
	Globals

	List   ListCmd   `cmd:"" help:"List catalog entries."`
	Idents IdentsCmd `cmd:"" help:"List every ident the catalog references."`
	Dump   DumpCmd   `cmd:"" help:"Export raw catalog rows as zstd-compressed JSON lines."`
	Verify VerifyCmd `cmd:"" help:"Cross-check catalog idents against the files on disk."`
}

// appContext carries the opened catalog and its stores to each subcommand.
type appContext struct {
	logger   *slog.Logger
	db       *recordstore.DB
	cat      *catalog.Catalog
	engine   *kvengine.FilesystemEngine
	shutdown func(context.Context) error
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("catalogctl"),
		kong.Description("Inspect and export the ident catalog of a storage directory."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	app, err := setup(cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	if err := kctx.Run(app); err != nil {
		app.logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setup(g Globals) (*appContext, error) {
	logger, err := newLogger(g.LogLevel, g.LogFormat)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }
	catOpts := []catalog.Option{catalog.WithLogger(logger)}
	if g.OTLPEndpoint != "" {
		shutdown, err = telemetry.InitMetrics(context.Background(), telemetry.MetricsConfig{
			ServiceName:    "catalogctl",
			ServiceVersion: version,
			OTLPEndpoint:   g.OTLPEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("initialising metrics: %w", err)
		}

		m, err := catalog.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		catOpts = append(catOpts, catalog.WithMetrics(m))
	}

	db := recordstore.NewDB(recordstore.WithLogger(logger))
	if err := db.Open(g.DB); err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	rs, err := db.EnsureStore(catalogStoreName)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening catalog store: %w", err)
	}

	engine, err := kvengine.NewFilesystemEngine(g.DataDir, kvengine.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening storage directory: %w", err)
	}

	return &appContext{
		logger:   logger,
		db:       db,
		cat:      catalog.New(rs, engine, locks.NewManager(), catOpts...),
		engine:   engine,
		shutdown: shutdown,
	}, nil
}

func (a *appContext) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("metrics shutdown failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing catalog database failed", "error", err)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}

type ListCmd struct{}

func (c *ListCmd) Run(app *appContext) error {
	ctx := context.Background()

	tx, err := app.db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Abort()

	if err := app.cat.Init(ctx, tx); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	for _, entry := range app.cat.Entries() {
		fmt.Printf("%s\t%s\t%s\n", entry.ID, entry.Ident, entry.Namespace)
	}

	return nil
}

type IdentsCmd struct{}

func (c *IdentsCmd) Run(app *appContext) error {
	ctx := context.Background()

	tx, err := app.db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Abort()

	idents, err := app.cat.GetAllIdents(ctx, tx)
	if err != nil {
		return fmt.Errorf("listing idents: %w", err)
	}

	for _, ident := range idents {
		fmt.Println(ident)
	}

	return nil
}

type DumpCmd struct {
	Output string `help:"Output file path." short:"o" default:"catalog-dump.jsonl.zst"`
}

// dumpRecord is one line of the export: the record id plus the raw row.
type dumpRecord struct {
	ID  uint64          `json:"id"`
	Row json.RawMessage `json:"row"`
}

func (c *DumpCmd) Run(app *appContext) error {
	tx, err := app.db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Abort()

	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	cursor, err := app.cat.GetCursor(tx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(zw)
	count := 0
	for {
		id, data, ok := cursor.Next()
		if !ok {
			break
		}
		if err := enc.Encode(dumpRecord{ID: uint64(id), Row: json.RawMessage(data)}); err != nil {
			return fmt.Errorf("encoding record %s: %w", id, err)
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}

	app.logger.Info("dump complete", "records", count, "output", c.Output)

	return nil
}

type VerifyCmd struct{}

func (c *VerifyCmd) Run(app *appContext) error {
	ctx := context.Background()

	tx, err := app.db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Abort()

	wanted, err := app.cat.GetAllIdents(ctx, tx)
	if err != nil {
		return fmt.Errorf("listing catalog idents: %w", err)
	}

	onDisk, err := app.engine.ListIdents()
	if err != nil {
		return fmt.Errorf("listing storage idents: %w", err)
	}

	diskSet := make(map[string]struct{}, len(onDisk))
	for _, ident := range onDisk {
		diskSet[ident] = struct{}{}
	}

	problems := 0
	for _, ident := range wanted {
		if _, ok := diskSet[ident]; !ok {
			app.logger.Error("ident referenced by catalog but missing on disk", "ident", ident)
			problems++
			continue
		}
		delete(diskSet, ident)

		store, err := app.engine.GetRecordStore(ident)
		if err != nil {
			app.logger.Error("opening ident failed", "ident", ident, "error", err)
			problems++
			continue
		}
		if err := store.Validate(); err != nil {
			app.logger.Error("ident failed validation", "ident", ident, "error", err)
			problems++
		}
	}

	for ident := range diskSet {
		app.logger.Warn("orphaned ident on disk", "ident", ident)
	}

	if problems > 0 {
		return fmt.Errorf("verification found %d problems", problems)
	}

	app.logger.Info("verification passed", "idents", len(wanted), "orphaned", len(diskSet))

	return nil
}
