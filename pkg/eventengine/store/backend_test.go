package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// backendFactory creates a backend instance for testing.
type backendFactory func(t *testing.T) Backend

func memoryFactory(t *testing.T) Backend {
	return NewMemoryBackend()
}

func sqliteFactory(t *testing.T) Backend {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	return b
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func redisFactory(t *testing.T) Backend {
	_, client := newMiniredis(t)
	return NewRedisBackend(client, "test:")
}

var factories = map[string]backendFactory{
	"memory": memoryFactory,
	"sqlite": sqliteFactory,
	"redis":  redisFactory,
}

func at(id string, t event.Type, offset time.Duration, opts ...event.Option) *event.Event {
	opts = append([]event.Option{event.WithEventID(id), event.WithTimestamp(base.Add(offset))}, opts...)
	return event.New(t, event.SourceMarketData, opts...)
}

func ids(events []*event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestBackendContract(t *testing.T) {
	for name, factory := range factories {
		backendContractTest(t, name, factory)
	}
}

func backendContractTest(t *testing.T, name string, factory backendFactory) {
	ctx := context.Background()

	t.Run(name+"/Put_and_Get", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		original := at("e1", event.OrderFilled, 0,
			event.WithSeverity(event.Warning),
			event.WithSubject("2330"),
			event.WithMessage("filled"),
			event.WithData(map[string]any{"qty": 1000.0, "legs": []any{"a", "b"}, "meta": map[string]any{"x": true}}),
			event.WithTags("order"),
			event.WithRelated("parent"),
		)
		original.Timestamp = original.Timestamp.Add(123456 * time.Nanosecond)
		original.Processed = true

		require.NoError(t, b.Put(ctx, original))

		got, err := b.Get(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, original, got)
	})

	t.Run(name+"/Get_NotFound", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run(name+"/Put_Overwrite", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Put(ctx, at("e1", event.News, 0)))
		require.NoError(t, b.Put(ctx, at("e1", event.News, 0, event.WithMessage("updated"))))

		got, err := b.Get(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Message)

		stats, err := b.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})

	t.Run(name+"/Query_Filters", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		seed := []*event.Event{
			at("p1", event.PriceChange, 1*time.Second, event.WithSubject("2330")),
			at("p2", event.PriceChange, 2*time.Second, event.WithSubject("2317"), event.WithSeverity(event.Error)),
			at("n1", event.News, 3*time.Second, event.WithSubject("2330"), event.WithSeverity(event.Warning)),
			event.New(event.RiskDrawdown, event.SourceRisk, event.WithEventID("r1"),
				event.WithTimestamp(base.Add(4*time.Second)), event.WithSeverity(event.Critical)),
		}
		for _, e := range seed {
			require.NoError(t, b.Put(ctx, e))
		}

		tests := []struct {
			name  string
			query Query
			want  []string
		}{
			{"all newest first", Query{}, []string{"r1", "n1", "p2", "p1"}},
			{"by type", Query{Types: []event.Type{event.PriceChange}}, []string{"p2", "p1"}},
			{"by types", Query{Types: []event.Type{event.News, event.RiskDrawdown}}, []string{"r1", "n1"}},
			{"by source", Query{Sources: []event.Source{event.SourceRisk}}, []string{"r1"}},
			{"by subject", Query{Subject: "2330"}, []string{"n1", "p1"}},
			{"min severity", Query{MinSeverity: event.Error}, []string{"r1", "p2"}},
			{"time range inclusive", Query{Start: base.Add(2 * time.Second), End: base.Add(3 * time.Second)}, []string{"n1", "p2"}},
			{"conjunction", Query{Subject: "2330", MinSeverity: event.Warning}, []string{"n1"}},
			{"limit", Query{Limit: 2}, []string{"r1", "n1"}},
			{"offset", Query{Limit: 2, Offset: 3}, []string{"p1"}},
			{"offset past end", Query{Offset: 10}, []string{}},
			{"no match", Query{Subject: "9999"}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := b.Query(ctx, tt.query)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(got))
			})
		}
	})

	t.Run(name+"/Query_DefaultLimit", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		for i := 0; i < DefaultLimit+5; i++ {
			require.NoError(t, b.Put(ctx, at(fmt.Sprintf("e%03d", i), event.News, time.Duration(i)*time.Second)))
		}
		got, err := b.Query(ctx, Query{})
		require.NoError(t, err)
		assert.Len(t, got, DefaultLimit)
		assert.Equal(t, fmt.Sprintf("e%03d", DefaultLimit+4), got[0].ID)
	})

	t.Run(name+"/Stats", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Put(ctx, at("a", event.News, time.Second)))
		require.NoError(t, b.Put(ctx, at("b", event.News, 2*time.Second, event.WithSeverity(event.Error))))
		require.NoError(t, b.Put(ctx, at("c", event.PriceChange, 3*time.Second)))

		stats, err := b.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, map[string]int{"news": 2, "price_change": 1}, stats.ByType)
		assert.Equal(t, map[string]int{"market_data": 3}, stats.BySource)
		assert.Equal(t, map[string]int{"INFO": 2, "ERROR": 1}, stats.BySeverity)
		assert.True(t, base.Add(3*time.Second).Equal(stats.Latest))
	})

	t.Run(name+"/Trim", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		for i := 0; i < 10; i++ {
			require.NoError(t, b.Put(ctx, at(fmt.Sprintf("e%d", i), event.News, time.Duration(i)*time.Second)))
		}

		removed, err := b.Trim(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, 6, removed)

		got, err := b.Query(ctx, Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"e9", "e8", "e7", "e6"}, ids(got))

		_, err = b.Get(ctx, "e0")
		assert.ErrorIs(t, err, ErrNotFound)

		removed, err = b.Trim(ctx, 4)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		assert.ErrorIs(t, b.Put(ctx, at("x", event.News, 0)), ErrClosed)
		_, err := b.Get(ctx, "x")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = b.Query(ctx, Query{})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run(name+"/Concurrent", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					id := fmt.Sprintf("g%d-%d", g, i)
					assert.NoError(t, b.Put(ctx, at(id, event.News, time.Duration(i)*time.Millisecond)))
					_, err := b.Get(ctx, id)
					assert.NoError(t, err)
				}
			}(g)
		}
		wg.Wait()

		stats, err := b.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 160, stats.Total)
	})
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	b1, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b1.Put(ctx, at("kept", event.News, 0)))
	require.NoError(t, b1.Close())

	b2, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer b2.Close()

	got, err := b2.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, event.News, got.Type)
}

func TestSQLiteBackend_InvalidPath(t *testing.T) {
	_, err := NewSQLiteBackend("/nonexistent/path/events.db")
	assert.Error(t, err)
}

func TestSQLiteBackend_CorruptRow(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	_, err = b.db.Exec(`INSERT INTO events (id, event_type, source, severity, severity_rank, timestamp, data, tags, related_events)
		VALUES ('bad', 'gossip', 'news', 'INFO', 1, 0, '{}', '[]', '[]')`)
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "bad")
	var decErr *engerrors.DeserializationError
	assert.ErrorAs(t, err, &decErr)
}

func TestRedisBackend_CorruptValue(t *testing.T) {
	mr, client := newMiniredis(t)
	b := NewRedisBackend(client, "")
	defer b.Close()

	require.NoError(t, mr.Set(DefaultRedisPrefix+"event:bad", "{not json"))

	_, err := b.Get(context.Background(), "bad")
	var decErr *engerrors.DeserializationError
	assert.ErrorAs(t, err, &decErr)
}

func TestRedisBackend_KeyLayout(t *testing.T) {
	mr, client := newMiniredis(t)
	b := NewRedisBackend(client, "")
	defer b.Close()

	require.NoError(t, b.Put(context.Background(), at("e1", event.News, 0)))

	assert.True(t, mr.Exists(DefaultRedisPrefix+"event:e1"))
	members, err := mr.ZMembers(DefaultRedisPrefix + "events")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, members)
}
