package observability

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/cartflow/pkg/migrate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SpanStore keeps finished spans in a SQLite table so a node can be
// inspected without a collector. It implements sdktrace.SpanExporter.
type SpanStore struct {
	db        *sql.DB
	retention time.Duration
	mu        sync.Mutex
}

// SpanStoreOption configures a SpanStore.
type SpanStoreOption func(*SpanStore)

// WithRetention removes spans older than d after each export. Zero keeps
// everything.
func WithRetention(d time.Duration) SpanStoreOption {
	return func(s *SpanStore) {
		s.retention = d
	}
}

// NewSpanStore creates the span table in db when missing. The database
// stays owned by the caller.
func NewSpanStore(ctx context.Context, db *sql.DB, opts ...SpanStoreOption) (*SpanStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := migrate.Run(ctx, db, "otel_schema_migrations", migrationsFS, "migrations"); err != nil {
		return nil, err
	}
	s := &SpanStore{db: db, retention: 7 * 24 * time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (s *SpanStore) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO otel_spans (
			span_id, trace_id, parent_span_id, name, kind,
			start_time, end_time, status_code, status_message,
			attributes, events
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare span statement: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		sc := span.SpanContext()
		var parent *string
		if span.Parent().SpanID().IsValid() {
			id := span.Parent().SpanID().String()
			parent = &id
		}
		attrs, _ := json.Marshal(attributesToMap(span.Attributes()))
		events, _ := json.Marshal(eventsToSlice(span.Events()))

		if _, err := stmt.ExecContext(ctx,
			sc.SpanID().String(),
			sc.TraceID().String(),
			parent,
			span.Name(),
			int(span.SpanKind()),
			span.StartTime().UnixNano(),
			span.EndTime().UnixNano(),
			int(span.Status().Code),
			span.Status().Description,
			string(attrs),
			string(events),
		); err != nil {
			return fmt.Errorf("insert span: %w", err)
		}
	}

	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention).UnixNano()
		if _, err := tx.ExecContext(ctx, `DELETE FROM otel_spans WHERE start_time < ?`, cutoff); err != nil {
			return fmt.Errorf("expire spans: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. The database is closed by its
// owner.
func (s *SpanStore) Shutdown(ctx context.Context) error {
	return nil
}

// SpanQuery filters StoredSpans.
type SpanQuery struct {
	TraceID string
	// Name matches exactly, or as a LIKE pattern when it contains % or _.
	Name   string
	Since  time.Time
	Errors bool
	Limit  int
}

// StoredSpan is a span read back from the store.
type StoredSpan struct {
	SpanID        string         `json:"span_id"`
	TraceID       string         `json:"trace_id"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	Name          string         `json:"name"`
	Start         time.Time      `json:"start"`
	Duration      time.Duration  `json:"duration"`
	Failed        bool           `json:"failed"`
	StatusMessage string         `json:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Spans returns the most recent spans matching q, newest first.
func (s *SpanStore) Spans(ctx context.Context, q SpanQuery) ([]StoredSpan, error) {
	query := `
		SELECT span_id, trace_id, parent_span_id, name, start_time, end_time,
			status_code, status_message, attributes
		FROM otel_spans
		WHERE 1=1`
	var args []any

	if q.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, q.TraceID)
	}
	if q.Name != "" {
		if containsWildcard(q.Name) {
			query += " AND name LIKE ?"
		} else {
			query += " AND name = ?"
		}
		args = append(args, q.Name)
	}
	if !q.Since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, q.Since.UnixNano())
	}
	if q.Errors {
		query += " AND status_code = ?"
		args = append(args, int(codes.Error))
	}
	query += " ORDER BY start_time DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	var spans []StoredSpan
	for rows.Next() {
		var (
			span       StoredSpan
			parent     sql.NullString
			message    sql.NullString
			attrs      sql.NullString
			start, end int64
			status     int
		)
		if err := rows.Scan(&span.SpanID, &span.TraceID, &parent, &span.Name,
			&start, &end, &status, &message, &attrs); err != nil {
			return nil, err
		}
		span.ParentSpanID = parent.String
		span.StatusMessage = message.String
		span.Start = time.Unix(0, start)
		span.Duration = time.Duration(end - start)
		span.Failed = codes.Code(status) == codes.Error
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &span.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal attributes: %w", err)
			}
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

func containsWildcard(s string) bool {
	for _, r := range s {
		if r == '%' || r == '_' {
			return true
		}
	}
	return false
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		m[string(attr.Key)] = attr.Value.AsInterface()
	}
	return m
}

func eventsToSlice(events []sdktrace.Event) []map[string]any {
	result := make([]map[string]any, len(events))
	for i, event := range events {
		result[i] = map[string]any{
			"name":       event.Name,
			"timestamp":  event.Time.UnixNano(),
			"attributes": attributesToMap(event.Attributes),
		}
	}
	return result
}

var _ sdktrace.SpanExporter = (*SpanStore)(nil)
