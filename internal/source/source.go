// Package source reads and writes the vehicle transaction data kept in
// Postgres. The dashboard view vehicle.v_txn_for_dashboard is the only
// read path; the schema itself is owned by the embedded migrations.
package source

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"vehicle-fraud/internal/features"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DashboardView = "vehicle.v_txn_for_dashboard"

	// AllValues disables a filter, as does the empty string.
	AllValues = "(all)"

	DefaultLimit = 6000
	MaxLimit     = 1_000_000
)

var ErrInvalidLimit = errors.New("row limit must be positive")

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations. It runs on a dedicated
// connection so closing the migrator leaves db usable.
func Migrate(ctx context.Context, db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		dbDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Failed to close migrator")
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema migrated")
	return nil
}

// Filter selects dashboard rows. Empty or AllValues fields match everything.
type Filter struct {
	Category string
	Channel  string
	Limit    int
}

func (f Filter) category() string { return normalize(f.Category) }
func (f Filter) channel() string  { return normalize(f.Channel) }

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == AllValues {
		return ""
	}
	return v
}

const transactionColumns = `txn_id, txn_ts, vehicle_id, merchant_id, merchant_name,
  category, channel, amount, t_lat, t_lon, m_lat, m_lon, is_fraud`

// buildTransactionsQuery renders the filtered, newest-first dashboard query.
// Values are always bound as parameters.
func buildTransactionsQuery(f Filter) (string, []any, error) {
	if f.Limit <= 0 {
		return "", nil, fmt.Errorf("%w: %d", ErrInvalidLimit, f.Limit)
	}

	var b strings.Builder
	var args []any
	b.WriteString("SELECT ")
	b.WriteString(transactionColumns)
	b.WriteString("\nFROM ")
	b.WriteString(DashboardView)
	b.WriteString("\nWHERE 1=1")

	if c := f.category(); c != "" {
		args = append(args, c)
		fmt.Fprintf(&b, "\n  AND category = $%d", len(args))
	}
	if c := f.channel(); c != "" {
		args = append(args, c)
		fmt.Fprintf(&b, "\n  AND channel = $%d", len(args))
	}

	args = append(args, f.Limit)
	fmt.Fprintf(&b, "\nORDER BY txn_ts DESC\nLIMIT $%d", len(args))
	return b.String(), args, nil
}

// Source queries the dashboard view.
type Source struct {
	db *sql.DB
}

// New wraps an open database.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// DB returns the underlying pool.
func (s *Source) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Transactions returns the rows matching f, newest first.
func (s *Source) Transactions(ctx context.Context, f Filter) ([]features.Transaction, error) {
	query, args, err := buildTransactionsQuery(f)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("category", f.category()).
		Str("channel", f.channel()).
		Int("rows", len(txns)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched transactions")
	return txns, nil
}

// LoadTraining returns every row of the dashboard view in timestamp order.
func (s *Source) LoadTraining(ctx context.Context) ([]features.Transaction, error) {
	query := "SELECT " + transactionColumns + "\nFROM " + DashboardView + "\nORDER BY txn_ts, txn_id"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query training rows: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// LoadTrainingFrame loads the training rows and derives their features.
func (s *Source) LoadTrainingFrame(ctx context.Context) (*features.Frame, []bool, error) {
	txns, err := s.LoadTraining(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(txns) == 0 {
		return nil, nil, fmt.Errorf("no rows in %s", DashboardView)
	}
	frame, labels := features.FromTransactions(txns)
	log.Info().
		Int("rows", len(txns)).
		Float64("fraud_rate", features.FraudRate(labels)).
		Msg("Loaded training data")
	return frame, labels, nil
}

// Distincts returns the sorted distinct categories and channels.
func (s *Source) Distincts(ctx context.Context) (categories, channels []string, err error) {
	if categories, err = s.distinct(ctx, "category"); err != nil {
		return nil, nil, err
	}
	if channels, err = s.distinct(ctx, "channel"); err != nil {
		return nil, nil, err
	}
	return categories, channels, nil
}

func (s *Source) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s", column, DashboardView, column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]features.Transaction, error) {
	var txns []features.Transaction
	for rows.Next() {
		var t features.Transaction
		err := rows.Scan(
			&t.TxnID, &t.Ts, &t.VehicleID, &t.MerchantID, &t.MerchantName,
			&t.Category, &t.Channel, &t.Amount, &t.TLat, &t.TLon, &t.MLat, &t.MLon, &t.IsFraud,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Ts = t.Ts.UTC()
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}
