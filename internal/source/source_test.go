package source

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"vehicle-fraud/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTransactionsQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    Filter
		wantWhere []string
		wantArgs  []any
	}{
		{
			name:     "no filters",
			filter:   Filter{Limit: 100},
			wantArgs: []any{100},
		},
		{
			name:     "all sentinel ignored",
			filter:   Filter{Category: AllValues, Channel: " ", Limit: 50},
			wantArgs: []any{50},
		},
		{
			name:      "category only",
			filter:    Filter{Category: "Fuel", Limit: 10},
			wantWhere: []string{"AND category = $1", "LIMIT $2"},
			wantArgs:  []any{"Fuel", 10},
		},
		{
			name:      "both filters",
			filter:    Filter{Category: "Fuel", Channel: "web", Limit: 6000},
			wantWhere: []string{"AND category = $1", "AND channel = $2", "LIMIT $3"},
			wantArgs:  []any{"Fuel", "web", 6000},
		},
		{
			name:      "channel only",
			filter:    Filter{Channel: "in_app", Limit: 5},
			wantWhere: []string{"AND channel = $1", "LIMIT $2"},
			wantArgs:  []any{"in_app", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildTransactionsQuery(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, args)
			assert.Contains(t, query, "FROM "+DashboardView)
			assert.Contains(t, query, "ORDER BY txn_ts DESC")
			for _, frag := range tt.wantWhere {
				assert.Contains(t, query, frag)
			}
			if tt.filter.category() == "" {
				assert.NotContains(t, query, "category =")
			}
			// values never reach the SQL text
			if tt.filter.Category == "Fuel" {
				assert.NotContains(t, query, "'Fuel'")
			}
		})
	}
}

func TestBuildTransactionsQuery_InvalidLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		_, _, err := buildTransactionsQuery(Filter{Limit: limit})
		assert.True(t, errors.Is(err, ErrInvalidLimit), "limit %d", limit)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_vehicle_schema.up.sql")
	assert.Contains(t, names, "000002_dashboard_view.up.sql")

	view, err := migrations.ReadFile("migrations/000002_dashboard_view.up.sql")
	require.NoError(t, err)
	for _, col := range strings.Split(strings.ReplaceAll(transactionColumns, "\n", ""), ",") {
		assert.Contains(t, string(view), strings.TrimSpace(col))
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

// TestPostgresRoundTrip needs a disposable database; it truncates the vehicle tables.
func TestPostgresRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))
	// a second run is a no-op
	require.NoError(t, Migrate(ctx, db))

	ds, err := synth.Generate(synth.GenConfig{
		Seed:         1,
		Vehicles:     5,
		Merchants:    4,
		Transactions: 50,
		Start:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		MeanGap:      30 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, NewLoader(db).Load(ctx, ds, true))

	src := New(db)
	txns, err := src.Transactions(ctx, Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, txns, 10)
	assert.True(t, txns[0].Ts.After(txns[9].Ts))

	categories, channels, err := src.Distincts(ctx)
	require.NoError(t, err)
	assert.IsIncreasing(t, categories)
	assert.NotEmpty(t, channels)

	frame, labels, err := src.LoadTrainingFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, frame.Len())
	assert.Len(t, labels, 50)

	filtered, err := src.Transactions(ctx, Filter{Category: categories[0], Limit: 100})
	require.NoError(t, err)
	for _, tx := range filtered {
		assert.Equal(t, categories[0], tx.Category)
	}
}
