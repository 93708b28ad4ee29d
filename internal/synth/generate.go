// Package synth generates the synthetic connected-vehicle dataset: vehicles,
// merchants and card transactions with rule-injected fraud. Output is fully
// determined by the seed.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"vehicle-fraud/internal/features"
)

// Vehicle is one row of vehicles.csv.
type Vehicle struct {
	VehicleID string
	Make      string
	Model     string
	ModelYear int
}

// Merchant is one row of merchants.csv.
type Merchant struct {
	MerchantID string
	Name       string
	Category   string
	Latitude   float64
	Longitude  float64
}

// TxnRecord is one row of transactions.csv.
type TxnRecord struct {
	TxnID      string
	VehicleID  string
	MerchantID string
	Ts         time.Time
	Amount     float64
	Latitude   float64
	Longitude  float64
	Channel    string
	IsFraud    bool
}

// Dataset is a complete generated (or loaded) dataset.
type Dataset struct {
	Vehicles     []Vehicle
	Merchants    []Merchant
	Transactions []TxnRecord
}

// GenConfig controls Generate.
type GenConfig struct {
	Seed         int64
	Vehicles     int
	Merchants    int
	Transactions int
	Start        time.Time
	MeanGap      time.Duration
}

// DefaultGenConfig returns the standard dataset size starting 60 days ago.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:         42,
		Vehicles:     300,
		Merchants:    120,
		Transactions: 6000,
		Start:        time.Now().UTC().Add(-60 * 24 * time.Hour).Truncate(time.Second),
		MeanGap:      45 * time.Minute,
	}
}

var (
	makes  = []string{"Toyota", "Honda", "Ford", "Chevy", "BMW", "Mercedes", "Hyundai", "Kia", "Tesla"}
	models = []string{"Sedan", "SUV", "Truck", "Hatch", "EV"}

	// Categories and their merchant weights.
	Categories      = []string{"Fuel", "Parking", "Maintenance", "Tolls", "CarWash", "Food", "Groceries"}
	categoryWeights = []float64{0.35, 0.15, 0.10, 0.10, 0.05, 0.15, 0.10}

	// Channels and their transaction weights.
	Channels       = []string{"in_app", "card_present", "web"}
	channelWeights = []float64{0.5, 0.3, 0.2}

	// AmountBaseline is the typical spend per category.
	AmountBaseline = map[string]float64{
		"Fuel": 55, "Parking": 18, "Maintenance": 250, "Tolls": 6,
		"CarWash": 14, "Food": 22, "Groceries": 80,
	}
)

const (
	minYear, maxYear = 2005, 2024

	latMin, latMax = 37.3, 38.2
	lonMin, lonMax = -122.55, -121.7

	jitter = 0.01

	fraudAmountFactor = 3.0
	distanceAnomaly   = 0.03
	webFraudChance    = 0.3
)

// Generate builds a dataset. Fraud rules: an amount above three times the
// category baseline; a 3% chance of a far-away location; web purchases of Fuel
// or CarWash with 30% chance.
func Generate(cfg GenConfig) (*Dataset, error) {
	if cfg.Vehicles <= 0 || cfg.Merchants <= 0 || cfg.Transactions < 0 {
		return nil, fmt.Errorf("generate: vehicles and merchants must be positive, got %d/%d", cfg.Vehicles, cfg.Merchants)
	}
	if cfg.MeanGap <= 0 {
		cfg.MeanGap = 45 * time.Minute
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	ds := &Dataset{
		Vehicles:     make([]Vehicle, cfg.Vehicles),
		Merchants:    make([]Merchant, cfg.Merchants),
		Transactions: make([]TxnRecord, 0, cfg.Transactions),
	}

	for i := range ds.Vehicles {
		ds.Vehicles[i] = Vehicle{
			VehicleID: fmt.Sprintf("V%04d", i),
			Make:      makes[rng.Intn(len(makes))],
			Model:     models[rng.Intn(len(models))],
			ModelYear: minYear + rng.Intn(maxYear-minYear+1),
		}
	}

	for i := range ds.Merchants {
		ds.Merchants[i] = Merchant{
			MerchantID: fmt.Sprintf("M%04d", i),
			Name:       fmt.Sprintf("Merchant_%04d", i),
			Category:   Categories[weightedIndex(rng, categoryWeights)],
			Latitude:   uniform(rng, latMin, latMax),
			Longitude:  uniform(rng, lonMin, lonMax),
		}
	}

	ts := cfg.Start
	gapMinutes := cfg.MeanGap.Minutes()
	for i := 0; i < cfg.Transactions; i++ {
		v := ds.Vehicles[rng.Intn(len(ds.Vehicles))]
		m := ds.Merchants[rng.Intn(len(ds.Merchants))]

		ts = ts.Add(time.Duration(int(rng.ExpFloat64()*gapMinutes)) * time.Minute)

		base := AmountBaseline[m.Category]
		amount := math.Max(1, base+rng.NormFloat64()*base*0.35)

		lat := m.Latitude + rng.NormFloat64()*jitter
		lon := m.Longitude + rng.NormFloat64()*jitter

		channel := Channels[weightedIndex(rng, channelWeights)]

		fraud := amount > base*fraudAmountFactor
		if rng.Float64() < distanceAnomaly {
			lat += uniform(rng, 1, 2)
			lon += uniform(rng, 1, 2)
			fraud = true
		}
		if channel == "web" && (m.Category == "Fuel" || m.Category == "CarWash") && rng.Float64() < webFraudChance {
			fraud = true
		}

		ds.Transactions = append(ds.Transactions, TxnRecord{
			TxnID:      fmt.Sprintf("T%06d", i),
			VehicleID:  v.VehicleID,
			MerchantID: m.MerchantID,
			Ts:         ts,
			Amount:     math.Round(amount*100) / 100,
			Latitude:   lat,
			Longitude:  lon,
			Channel:    channel,
			IsFraud:    fraud,
		})
	}

	return ds, nil
}

// Joined joins transactions with their merchants the way the dashboard view
// does. Transactions referencing an unknown merchant are dropped.
func (d *Dataset) Joined() []features.Transaction {
	merchants := make(map[string]Merchant, len(d.Merchants))
	for _, m := range d.Merchants {
		merchants[m.MerchantID] = m
	}

	out := make([]features.Transaction, 0, len(d.Transactions))
	for _, t := range d.Transactions {
		m, ok := merchants[t.MerchantID]
		if !ok {
			continue
		}
		out = append(out, features.Transaction{
			TxnID:        t.TxnID,
			Ts:           t.Ts,
			VehicleID:    t.VehicleID,
			MerchantID:   t.MerchantID,
			MerchantName: m.Name,
			Category:     m.Category,
			Channel:      t.Channel,
			Amount:       t.Amount,
			TLat:         t.Latitude,
			TLon:         t.Longitude,
			MLat:         m.Latitude,
			MLon:         m.Longitude,
			IsFraud:      t.IsFraud,
		})
	}
	return out
}

// FraudRate is the share of fraudulent transactions.
func (d *Dataset) FraudRate() float64 {
	labels := make([]bool, len(d.Transactions))
	for i, t := range d.Transactions {
		labels[i] = t.IsFraud
	}
	return features.FraudRate(labels)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	r := rng.Float64()
	var acc float64
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}
