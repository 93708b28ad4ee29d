package synth

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	VehiclesFile     = "vehicles.csv"
	MerchantsFile    = "merchants.csv"
	TransactionsFile = "transactions.csv"

	// TimeLayout is the txn_ts format written to transactions.csv.
	TimeLayout = "2006-01-02 15:04:05"
)

var (
	vehicleHeader     = []string{"vehicle_id", "make", "model", "year"}
	merchantHeader    = []string{"merchant_id", "name", "category", "latitude", "longitude"}
	transactionHeader = []string{"txn_id", "vehicle_id", "merchant_id", "txn_ts", "amount", "latitude", "longitude", "channel", "is_fraud"}
)

// WriteCSV writes the three dataset files into dir, creating it if needed.
func (d *Dataset) WriteCSV(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	vehicles := make([][]string, len(d.Vehicles))
	for i, v := range d.Vehicles {
		vehicles[i] = []string{v.VehicleID, v.Make, v.Model, strconv.Itoa(v.ModelYear)}
	}
	if err := writeFile(filepath.Join(dir, VehiclesFile), vehicleHeader, vehicles); err != nil {
		return err
	}

	merchants := make([][]string, len(d.Merchants))
	for i, m := range d.Merchants {
		merchants[i] = []string{m.MerchantID, m.Name, m.Category, formatFloat(m.Latitude), formatFloat(m.Longitude)}
	}
	if err := writeFile(filepath.Join(dir, MerchantsFile), merchantHeader, merchants); err != nil {
		return err
	}

	txns := make([][]string, len(d.Transactions))
	for i, t := range d.Transactions {
		txns[i] = []string{
			t.TxnID, t.VehicleID, t.MerchantID, t.Ts.UTC().Format(TimeLayout),
			strconv.FormatFloat(t.Amount, 'f', 2, 64), formatFloat(t.Latitude), formatFloat(t.Longitude),
			t.Channel, strconv.FormatBool(t.IsFraud),
		}
	}
	if err := writeFile(filepath.Join(dir, TransactionsFile), transactionHeader, txns); err != nil {
		return err
	}

	log.Info().
		Str("dir", dir).
		Int("vehicles", len(d.Vehicles)).
		Int("merchants", len(d.Merchants)).
		Int("transactions", len(d.Transactions)).
		Msg("Dataset written")
	return nil
}

// ReadCSV loads a dataset written by WriteCSV. Columns are located by header
// name; rows that cannot be parsed are an error.
func ReadCSV(dir string) (*Dataset, error) {
	ds := &Dataset{}

	err := readFile(filepath.Join(dir, VehiclesFile), vehicleHeader, func(col func(string) string) error {
		year, err := strconv.Atoi(col("year"))
		if err != nil {
			return fmt.Errorf("year: %w", err)
		}
		ds.Vehicles = append(ds.Vehicles, Vehicle{
			VehicleID: col("vehicle_id"),
			Make:      col("make"),
			Model:     col("model"),
			ModelYear: year,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readFile(filepath.Join(dir, MerchantsFile), merchantHeader, func(col func(string) string) error {
		lat, err := strconv.ParseFloat(col("latitude"), 64)
		if err != nil {
			return fmt.Errorf("latitude: %w", err)
		}
		lon, err := strconv.ParseFloat(col("longitude"), 64)
		if err != nil {
			return fmt.Errorf("longitude: %w", err)
		}
		ds.Merchants = append(ds.Merchants, Merchant{
			MerchantID: col("merchant_id"),
			Name:       col("name"),
			Category:   col("category"),
			Latitude:   lat,
			Longitude:  lon,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readFile(filepath.Join(dir, TransactionsFile), transactionHeader, func(col func(string) string) error {
		t, err := ParseTxnRecord(col)
		if err != nil {
			return err
		}
		ds.Transactions = append(ds.Transactions, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Int("transactions", len(ds.Transactions)).
		Msg("CSV dataset loaded successfully")
	return ds, nil
}

// ParseTxnRecord parses one transactions.csv row given a column accessor.
// An empty is_fraud is false.
func ParseTxnRecord(col func(string) string) (TxnRecord, error) {
	ts, err := ParseTime(col("txn_ts"))
	if err != nil {
		return TxnRecord{}, fmt.Errorf("txn_ts: %w", err)
	}
	amount, err := strconv.ParseFloat(col("amount"), 64)
	if err != nil {
		return TxnRecord{}, fmt.Errorf("amount: %w", err)
	}
	lat, err := strconv.ParseFloat(col("latitude"), 64)
	if err != nil {
		return TxnRecord{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(col("longitude"), 64)
	if err != nil {
		return TxnRecord{}, fmt.Errorf("longitude: %w", err)
	}
	fraud := false
	if v := col("is_fraud"); v != "" {
		if fraud, err = strconv.ParseBool(v); err != nil {
			return TxnRecord{}, fmt.Errorf("is_fraud: %w", err)
		}
	}
	return TxnRecord{
		TxnID:      col("txn_id"),
		VehicleID:  col("vehicle_id"),
		MerchantID: col("merchant_id"),
		Ts:         ts,
		Amount:     amount,
		Latitude:   lat,
		Longitude:  lon,
		Channel:    col("channel"),
		IsFraud:    fraud,
	}, nil
}

// ParseTime accepts TimeLayout, with or without fractional seconds, and RFC 3339.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05.999999999", time.RFC3339Nano} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeFile(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// readFile streams the rows of a CSV file to fn. fn reads fields by header name.
func readFile(path string, required []string, fn func(col func(string) string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return ReadRows(file, required, func(line int, col func(string) string) error {
		if err := fn(col); err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		return nil
	})
}

// ReadRows reads CSV from r, checks that every required column is present in
// the header and calls fn for each data row with its 1-based line number.
func ReadRows(r io.Reader, required []string, fn func(line int, col func(string) string) error) error {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, name := range header {
		indices[name] = i
	}
	for _, name := range required {
		if _, ok := indices[name]; !ok {
			return fmt.Errorf("CSV header is missing column %q", name)
		}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		col := func(name string) string {
			if i, ok := indices[name]; ok && i < len(record) {
				return record[i]
			}
			return ""
		}
		if err := fn(line, col); err != nil {
			return err
		}
	}
}

// TransactionHeader is the column set ParseTxnRecord needs.
func TransactionHeader() []string {
	return append([]string(nil), transactionHeader...)
}
