package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"vehicle-fraud/internal/ml"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs"

// RunRecord is one training run, kept whether or not its model was registered.
type RunRecord struct {
	ModelID   string        `json:"model_id"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
	TrainRows int           `json:"train_rows"`
	TestRows  int           `json:"test_rows"`
	TrainRate float64       `json:"train_fraud_rate"`
	TestRate  float64       `json:"test_fraud_rate"`
	Epochs    int           `json:"epochs"`
	FinalLoss float64       `json:"final_loss"`
	ROCAUC    Score         `json:"roc_auc"`
	PRAUC     Score         `json:"pr_auc"`
	Duration  time.Duration `json:"duration"`
}

// NewRunRecord summarizes res for the run history.
func NewRunRecord(res *ml.TrainResult, source string) RunRecord {
	return RunRecord{
		ModelID:   res.Pipeline.ID(),
		Timestamp: res.Pipeline.CreatedAt(),
		Source:    source,
		TrainRows: res.TrainRows,
		TestRows:  res.TestRows,
		TrainRate: res.TrainRate,
		TestRate:  res.TestRate,
		Epochs:    res.Epochs,
		FinalLoss: res.FinalLoss,
		ROCAUC:    Score(res.Report.ROCAUC),
		PRAUC:     Score(res.Report.PRAUC),
		Duration:  res.Duration,
	}
}

// StoreRun appends a training run to the history.
func (s *Store) StoreRun(record RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}
		return tx.Bucket([]byte(runsBucket)).Put(runKey(record.Timestamp, record.ModelID), data)
	})
}

// GetRuns returns the runs recorded within [start, end], oldest first.
func (s *Store) GetRuns(start, end time.Time) ([]RunRecord, error) {
	var records []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		startKey := runKey(start, "")
		endKey := runKey(end, "\xff")

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// runKey sorts by time; the zero-padded nanoseconds keep byte order equal to time order.
func runKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}
