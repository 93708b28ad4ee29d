package synth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() GenConfig {
	return GenConfig{
		Seed:         42,
		Vehicles:     20,
		Merchants:    15,
		Transactions: 500,
		Start:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		MeanGap:      45 * time.Minute,
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(smallConfig())
	require.NoError(t, err)
	b, err := Generate(smallConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := smallConfig()
	other.Seed = 7
	c, err := Generate(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Transactions, c.Transactions)
}

func TestGenerate_Shape(t *testing.T) {
	cfg := smallConfig()
	ds, err := Generate(cfg)
	require.NoError(t, err)

	require.Len(t, ds.Vehicles, cfg.Vehicles)
	require.Len(t, ds.Merchants, cfg.Merchants)
	require.Len(t, ds.Transactions, cfg.Transactions)

	assert.Equal(t, "V0000", ds.Vehicles[0].VehicleID)
	assert.Equal(t, "M0014", ds.Merchants[14].MerchantID)
	assert.Equal(t, "T000499", ds.Transactions[499].TxnID)

	for _, v := range ds.Vehicles {
		assert.GreaterOrEqual(t, v.ModelYear, 2005)
		assert.LessOrEqual(t, v.ModelYear, 2024)
	}
	for _, m := range ds.Merchants {
		assert.Contains(t, Categories, m.Category)
		assert.True(t, m.Latitude >= 37.3 && m.Latitude <= 38.2, "latitude %v", m.Latitude)
		assert.True(t, m.Longitude >= -122.55 && m.Longitude <= -121.7, "longitude %v", m.Longitude)
	}

	prev := cfg.Start
	for _, tx := range ds.Transactions {
		assert.GreaterOrEqual(t, tx.Amount, 1.0)
		assert.Contains(t, Channels, tx.Channel)
		assert.False(t, tx.Ts.Before(prev), "timestamps must not decrease")
		prev = tx.Ts
	}
}

func TestGenerate_FraudRules(t *testing.T) {
	ds, err := Generate(DefaultGenConfig())
	require.NoError(t, err)

	merchants := make(map[string]Merchant)
	for _, m := range ds.Merchants {
		merchants[m.MerchantID] = m
	}
	for _, tx := range ds.Transactions {
		m := merchants[tx.MerchantID]
		if tx.Amount > 3*AmountBaseline[m.Category]+0.01 {
			assert.True(t, tx.IsFraud, "%s: amount %.2f above 3x baseline", tx.TxnID, tx.Amount)
		}
		if tx.Latitude-m.Latitude > 0.5 {
			assert.True(t, tx.IsFraud, "%s: distance anomaly not flagged", tx.TxnID)
		}
	}

	rate := ds.FraudRate()
	assert.Greater(t, rate, 0.01)
	assert.Less(t, rate, 0.2)
}

func TestGenerate_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Merchants = 0
	_, err := Generate(cfg)
	assert.Error(t, err)
}

func TestJoined(t *testing.T) {
	ds, err := Generate(smallConfig())
	require.NoError(t, err)

	ds.Transactions = append(ds.Transactions, TxnRecord{TxnID: "orphan", MerchantID: "M9999"})
	joined := ds.Joined()
	require.Len(t, joined, len(ds.Transactions)-1)

	first := joined[0]
	var m Merchant
	for _, candidate := range ds.Merchants {
		if candidate.MerchantID == first.MerchantID {
			m = candidate
		}
	}
	assert.Equal(t, m.Category, first.Category)
	assert.Equal(t, m.Name, first.MerchantName)
	assert.Equal(t, m.Latitude, first.MLat)
	assert.Equal(t, ds.Transactions[0].Latitude, first.TLat)
}

func TestCSV_RoundTrip(t *testing.T) {
	ds, err := Generate(smallConfig())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, ds.WriteCSV(dir))

	for _, name := range []string{VehiclesFile, MerchantsFile, TransactionsFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	back, err := ReadCSV(dir)
	require.NoError(t, err)
	assert.Equal(t, ds.Vehicles, back.Vehicles)
	assert.Equal(t, ds.Merchants, back.Merchants)
	require.Len(t, back.Transactions, len(ds.Transactions))

	for i := range ds.Transactions {
		want, got := ds.Transactions[i], back.Transactions[i]
		assert.Equal(t, want.TxnID, got.TxnID)
		assert.True(t, want.Ts.Equal(got.Ts), "row %d timestamp", i)
		assert.InDelta(t, want.Amount, got.Amount, 1e-9)
		assert.Equal(t, want.Latitude, got.Latitude)
		assert.Equal(t, want.IsFraud, got.IsFraud)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := ReadCSV(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("missing column", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, VehiclesFile), []byte("vehicle_id,make\nV0000,Kia\n"), 0o644))
		_, err := ReadCSV(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"model"`)
	})

	t.Run("bad value", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, VehiclesFile), []byte("vehicle_id,make,model,year\nV0000,Kia,EV,soon\n"), 0o644))
		_, err := ReadCSV(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestReadRows_ColumnOrder(t *testing.T) {
	input := "is_fraud,txn_id,vehicle_id,merchant_id,txn_ts,amount,latitude,longitude,channel\n" +
		",T1,V1,M1,2024-03-01 10:15:00,12.5,37.5,-122.1,web\n"

	var got []TxnRecord
	err := ReadRows(strings.NewReader(input), TransactionHeader(), func(_ int, col func(string) string) error {
		rec, err := ParseTxnRecord(col)
		got = append(got, rec)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T1", got[0].TxnID)
	assert.Equal(t, 10, got[0].Ts.Hour())
	assert.False(t, got[0].IsFraud)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2024-03-01 10:15:00", false},
		{"2024-03-01 10:15:00.123456", false},
		{"2024-03-01T10:15:00Z", false},
		{"yesterday", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
