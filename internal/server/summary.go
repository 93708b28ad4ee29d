package server

import (
	"sort"
	"time"

	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/ml"
)

// MaxFlaggedRows caps the flagged transaction list of a summary.
const MaxFlaggedRows = 500

// KPIs are the headline numbers of the dashboard.
type KPIs struct {
	Rows       int     `json:"rows"`
	FlagRate   float64 `json:"flag_rate"`
	Categories int     `json:"categories"`
	Channels   int     `json:"channels"`
}

// DailySpend is the summed amount of one calendar day (UTC).
type DailySpend struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount_spent"`
}

// FlaggedTxn is a transaction at or above the threshold.
type FlaggedTxn struct {
	TxnTs        time.Time `json:"txn_ts"`
	TxnID        string    `json:"txn_id"`
	MerchantName string    `json:"merchant_name"`
	Category     string    `json:"category"`
	Channel      string    `json:"channel"`
	Amount       float64   `json:"amount"`
	Proba        float64   `json:"proba"`
}

// Summary is returned by GET /api/summary.
type Summary struct {
	ModelID      string       `json:"model_id"`
	Threshold    float64      `json:"threshold"`
	KPIs         KPIs         `json:"kpis"`
	Daily        []DailySpend `json:"daily"`
	Flagged      []FlaggedTxn `json:"flagged"`
	FlaggedTotal int          `json:"flagged_total"`

	Drift *ml.DriftReport `json:"drift,omitempty"`
}

// Summarize aggregates scored transactions. proba must be aligned with txns.
// Flagged rows are ordered by probability, then timestamp, both descending.
func Summarize(txns []features.Transaction, proba []float64, threshold float64) Summary {
	s := Summary{
		Threshold: threshold,
		Daily:     []DailySpend{},
		Flagged:   []FlaggedTxn{},
	}
	s.KPIs.Rows = len(txns)
	if len(txns) == 0 {
		return s
	}

	categories := make(map[string]struct{})
	channels := make(map[string]struct{})
	daily := make(map[string]float64)

	for i, t := range txns {
		categories[t.Category] = struct{}{}
		channels[t.Channel] = struct{}{}
		daily[t.Ts.UTC().Format("2006-01-02")] += t.Amount

		if proba[i] >= threshold {
			s.Flagged = append(s.Flagged, FlaggedTxn{
				TxnTs:        t.Ts,
				TxnID:        t.TxnID,
				MerchantName: t.MerchantName,
				Category:     t.Category,
				Channel:      t.Channel,
				Amount:       t.Amount,
				Proba:        proba[i],
			})
		}
	}

	s.KPIs.Categories = len(categories)
	s.KPIs.Channels = len(channels)
	s.KPIs.FlagRate = float64(len(s.Flagged)) / float64(len(txns))
	s.FlaggedTotal = len(s.Flagged)

	for date, amount := range daily {
		s.Daily = append(s.Daily, DailySpend{Date: date, Amount: amount})
	}
	sort.Slice(s.Daily, func(i, j int) bool { return s.Daily[i].Date < s.Daily[j].Date })

	sort.SliceStable(s.Flagged, func(i, j int) bool {
		if s.Flagged[i].Proba != s.Flagged[j].Proba {
			return s.Flagged[i].Proba > s.Flagged[j].Proba
		}
		return s.Flagged[i].TxnTs.After(s.Flagged[j].TxnTs)
	})
	if len(s.Flagged) > MaxFlaggedRows {
		s.Flagged = s.Flagged[:MaxFlaggedRows]
	}
	return s
}
