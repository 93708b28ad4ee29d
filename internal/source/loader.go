package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vehicle-fraud/internal/synth"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Loader bulk loads generated datasets with COPY.
type Loader struct {
	db *sql.DB
}

// NewLoader creates a loader on db.
func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

// Load writes ds in a single transaction. With truncate set the three tables
// are emptied first; this is meant for development databases only.
func (l *Loader) Load(ctx context.Context, ds *synth.Dataset, truncate bool) (err error) {
	start := time.Now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to roll back load")
			}
		}
	}()

	if truncate {
		_, err = tx.ExecContext(ctx, "TRUNCATE vehicle.transactions, vehicle.merchants, vehicle.vehicles RESTART IDENTITY CASCADE")
		if err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	err = copyRows(ctx, tx, "vehicles", []string{"vehicle_id", "make", "model", "model_year"}, len(ds.Vehicles), func(i int) []any {
		v := ds.Vehicles[i]
		return []any{v.VehicleID, v.Make, v.Model, v.ModelYear}
	})
	if err != nil {
		return err
	}

	err = copyRows(ctx, tx, "merchants", []string{"merchant_id", "merchant_name", "category", "latitude", "longitude"}, len(ds.Merchants), func(i int) []any {
		m := ds.Merchants[i]
		return []any{m.MerchantID, m.Name, m.Category, m.Latitude, m.Longitude}
	})
	if err != nil {
		return err
	}

	txnCols := []string{"txn_id", "vehicle_id", "merchant_id", "txn_ts", "amount", "latitude", "longitude", "channel", "is_fraud"}
	err = copyRows(ctx, tx, "transactions", txnCols, len(ds.Transactions), func(i int) []any {
		t := ds.Transactions[i]
		return []any{t.TxnID, t.VehicleID, t.MerchantID, t.Ts.UTC(), t.Amount, t.Latitude, t.Longitude, t.Channel, t.IsFraud}
	})
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit load: %w", err)
	}

	log.Info().
		Int("vehicles", len(ds.Vehicles)).
		Int("merchants", len(ds.Merchants)).
		Int("transactions", len(ds.Transactions)).
		Bool("truncated", truncate).
		Dur("elapsed", time.Since(start)).
		Msg("Dataset loaded into Postgres")
	return nil
}

func copyRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) []any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("vehicle", table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy into %s: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("copy %s row %d: %w", table, i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy into %s: %w", table, err)
	}
	return nil
}
