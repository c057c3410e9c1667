package observability_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

func newSpanStore(t *testing.T, opts ...observability.SpanStoreOption) *observability.SpanStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := observability.NewSpanStore(context.Background(), db, opts...)
	require.NoError(t, err)
	return store
}

func TestSpanStore_ExportAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newSpanStore(t)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(store))
	tracer := tp.Tracer("test")

	ctx, parent := observability.StartSpan(ctx, tracer, "processor.work",
		observability.WithAttributes(observability.CommandAttrs("[dbo].[Customer_Update]", "c1")...))
	_, child := tracer.Start(ctx, "sqlexec.execute")
	observability.EndSpan(child, errors.New("boom"))
	observability.EndSpan(parent, nil)

	spans, err := store.Spans(context.Background(), observability.SpanQuery{})
	require.NoError(t, err)
	require.Len(t, spans, 2)

	byName := map[string]observability.StoredSpan{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	work := byName["processor.work"]
	exec := byName["sqlexec.execute"]
	assert.Equal(t, work.TraceID, exec.TraceID)
	assert.Equal(t, work.SpanID, exec.ParentSpanID)
	assert.Empty(t, work.ParentSpanID)
	assert.True(t, exec.Failed)
	assert.Equal(t, "boom", exec.StatusMessage)
	assert.Equal(t, "[dbo].[Customer_Update]", work.Attributes["command.name"])

	failed, err := store.Spans(context.Background(), observability.SpanQuery{Errors: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "sqlexec.execute", failed[0].Name)

	byPattern, err := store.Spans(context.Background(), observability.SpanQuery{Name: "processor.%"})
	require.NoError(t, err)
	assert.Len(t, byPattern, 1)

	limited, err := store.Spans(context.Background(), observability.SpanQuery{TraceID: work.TraceID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSpanStore_Retention(t *testing.T) {
	ctx := context.Background()
	store := newSpanStore(t, observability.WithRetention(time.Hour))
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSyncer(store)).Tracer("test")

	past := time.Now().Add(-2 * time.Hour)
	_, old := tracer.Start(ctx, "old", trace.WithTimestamp(past))
	old.End(trace.WithTimestamp(past.Add(time.Second)))
	_, fresh := tracer.Start(ctx, "fresh")
	fresh.End()

	spans, err := store.Spans(ctx, observability.SpanQuery{})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "fresh", spans[0].Name)
}

func TestNewSpanStore_RequiresDB(t *testing.T) {
	_, err := observability.NewSpanStore(context.Background(), nil)
	assert.Error(t, err)
}
