package catalog

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds catalog-related OpenTelemetry metric instruments. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	entriesAdded    metric.Int64Counter
	entriesImported metric.Int64Counter
	entriesRemoved  metric.Int64Counter
	entriesRenamed  metric.Int64Counter
	liveEntries     metric.Int64Gauge
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	entriesAdded, err := meter.Int64Counter(
		"ident_catalog_entries_added_total",
		metric.WithDescription("Total number of catalog entries added"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	entriesImported, err := meter.Int64Counter(
		"ident_catalog_entries_imported_total",
		metric.WithDescription("Total number of catalog entries imported"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	entriesRemoved, err := meter.Int64Counter(
		"ident_catalog_entries_removed_total",
		metric.WithDescription("Total number of catalog entries removed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	entriesRenamed, err := meter.Int64Counter(
		"ident_catalog_entries_renamed_total",
		metric.WithDescription("Total number of catalog entries renamed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	liveEntries, err := meter.Int64Gauge(
		"ident_catalog_live_entries",
		metric.WithDescription("Number of live entries loaded at catalog init"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		entriesAdded:    entriesAdded,
		entriesImported: entriesImported,
		entriesRemoved:  entriesRemoved,
		entriesRenamed:  entriesRenamed,
		liveEntries:     liveEntries,
	}, nil
}

// EntryAdded records one added entry.
func (m *Metrics) EntryAdded(ctx context.Context) {
	if m == nil {
		return
	}
	m.entriesAdded.Add(ctx, 1)
}

// EntryImported records one imported entry.
func (m *Metrics) EntryImported(ctx context.Context) {
	if m == nil {
		return
	}
	m.entriesImported.Add(ctx, 1)
}

// EntryRemoved records one removed entry.
func (m *Metrics) EntryRemoved(ctx context.Context) {
	if m == nil {
		return
	}
	m.entriesRemoved.Add(ctx, 1)
}

// EntryRenamed records one renamed entry.
func (m *Metrics) EntryRenamed(ctx context.Context) {
	if m == nil {
		return
	}
	m.entriesRenamed.Add(ctx, 1)
}

// InitCompleted records the number of live entries loaded at init.
func (m *Metrics) InitCompleted(ctx context.Context, entries int) {
	if m == nil {
		return
	}
	m.liveEntries.Record(ctx, int64(entries))
}
