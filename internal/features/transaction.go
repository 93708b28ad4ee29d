// Package features turns joined transaction records into the model's feature rows.
// It defines the declared numeric and categorical columns, the raw Transaction
// record produced by the data collaborators, and a columnar Frame that the
// preprocessing pipeline consumes.
package features

import (
	"math"
	"time"
)

// Column names as they appear in the dashboard view and in serialized models.
const (
	ColLogAmount = "log_amount"
	ColHour      = "hour"
	ColDow       = "dow"
	ColGeoDelta  = "geo_delta"
	ColChannel   = "channel"
	ColCategory  = "category"
)

// NumericColumns lists the standardized inputs in output order.
var NumericColumns = []string{ColLogAmount, ColHour, ColDow, ColGeoDelta}

// CategoricalColumns lists the one-hot encoded inputs in output order.
var CategoricalColumns = []string{ColChannel, ColCategory}

// Transaction is one transaction joined with its merchant, as returned by
// vehicle.v_txn_for_dashboard.
type Transaction struct {
	TxnID        string    `json:"txn_id"`
	Ts           time.Time `json:"txn_ts"`
	VehicleID    string    `json:"vehicle_id"`
	MerchantID   string    `json:"merchant_id"`
	MerchantName string    `json:"merchant_name"`
	Category     string    `json:"category"`
	Channel      string    `json:"channel"`
	Amount       float64   `json:"amount"`
	TLat         float64   `json:"t_lat"`
	TLon         float64   `json:"t_lon"`
	MLat         float64   `json:"m_lat"`
	MLon         float64   `json:"m_lon"`
	IsFraud      bool      `json:"is_fraud"`
}

// FeatureRow holds the model inputs for a single transaction.
type FeatureRow struct {
	TxnID     string  `json:"txn_id,omitempty"`
	LogAmount float64 `json:"log_amount"`
	Hour      float64 `json:"hour"`
	Dow       float64 `json:"dow"`
	GeoDelta  float64 `json:"geo_delta"`
	Channel   string  `json:"channel"`
	Category  string  `json:"category"`
}

// GeoDelta is a crude planar distance between the transaction and merchant coordinates.
func GeoDelta(tLat, tLon, mLat, mLon float64) float64 {
	dlat := tLat - mLat
	dlon := tLon - mLon
	return math.Sqrt(dlat*dlat + dlon*dlon)
}

// BuildRow derives the engineered features for t. Hour and day of week are
// taken in UTC whatever the timestamp's location; day of week follows
// Postgres EXTRACT(DOW): Sunday is 0.
func BuildRow(t Transaction) FeatureRow {
	ts := t.Ts.UTC()
	return FeatureRow{
		TxnID:     t.TxnID,
		LogAmount: math.Log1p(t.Amount),
		Hour:      float64(ts.Hour()),
		Dow:       float64(ts.Weekday()),
		GeoDelta:  GeoDelta(t.TLat, t.TLon, t.MLat, t.MLon),
		Channel:   t.Channel,
		Category:  t.Category,
	}
}

// BuildRows applies BuildRow to every transaction and collects the labels.
func BuildRows(txns []Transaction) ([]FeatureRow, []bool) {
	rows := make([]FeatureRow, len(txns))
	labels := make([]bool, len(txns))
	for i, t := range txns {
		rows[i] = BuildRow(t)
		labels[i] = t.IsFraud
	}
	return rows, labels
}

// FraudRate returns the share of true labels, or 0 for an empty slice.
func FraudRate(labels []bool) float64 {
	if len(labels) == 0 {
		return 0
	}
	n := 0
	for _, l := range labels {
		if l {
			n++
		}
	}
	return float64(n) / float64(len(labels))
}
