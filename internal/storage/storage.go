// Package storage provides the persistent model registry of the fraud service.
// It uses BoltDB to keep serialized pipeline artifacts, their version metadata,
// the active-version pointer and the history of training runs.
//
// All operations are transactional; a version and its artifact are always
// written together.
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"vehicle-fraud/internal/ml"

	"go.etcd.io/bbolt"
)

const (
	versionsBucket  = "versions"  // version id -> ModelVersion JSON
	artifactsBucket = "artifacts" // version id -> pipeline artifact
	metaBucket      = "meta"      // registry pointers
	activeKey       = "active"
)

var (
	ErrNotFound      = errors.New("model version not found")
	ErrNoActiveModel = errors.New("no active model version")
	ErrNoRollback    = errors.New("no previous version available for rollback")
	ErrCorrupt       = errors.New("artifact checksum mismatch")
)

// ModelVersion describes one registered pipeline artifact.
type ModelVersion struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Kind            ml.Kind   `json:"kind"`
	ROCAUC          Score     `json:"roc_auc"`
	PRAUC           Score     `json:"pr_auc"`
	Precision       Score     `json:"precision"`
	Recall          Score     `json:"recall"`
	F1              Score     `json:"f1"`
	Threshold       float64   `json:"threshold"`
	TrainingSamples int       `json:"training_samples"`
	SHA256          string    `json:"sha256"`
	Size            int       `json:"size"`
	Active          bool      `json:"active"`
}

// NewModelVersion describes a fitted pipeline and its validation report.
// Checksum and size are filled in by SaveVersion.
func NewModelVersion(p *ml.Pipeline, report ml.Report, trainingSamples int) ModelVersion {
	pos := report.Positive()
	return ModelVersion{
		ID:              p.ID(),
		CreatedAt:       p.CreatedAt(),
		Kind:            p.Classifier().Kind(),
		ROCAUC:          Score(report.ROCAUC),
		PRAUC:           Score(report.PRAUC),
		Precision:       Score(pos.Precision),
		Recall:          Score(pos.Recall),
		F1:              Score(pos.F1),
		Threshold:       report.Threshold,
		TrainingSamples: trainingSamples,
	}
}

// Store is the BoltDB-backed model registry.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the registry database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, "fraud-registry.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{versionsBucket, artifactsBucket, metaBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveVersion stores blob under v.ID together with its metadata. The stored
// version, with checksum and size set, is returned. It does not change the
// active version.
func (s *Store) SaveVersion(v ModelVersion, blob []byte) (ModelVersion, error) {
	if v.ID == "" {
		return ModelVersion{}, fmt.Errorf("model version id is required")
	}
	if len(blob) == 0 {
		return ModelVersion{}, fmt.Errorf("model version %s: empty artifact", v.ID)
	}

	sum := sha256.Sum256(blob)
	v.SHA256 = hex.EncodeToString(sum[:])
	v.Size = len(blob)
	v.Active = false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal model version: %w", err)
		}
		if err := tx.Bucket([]byte(versionsBucket)).Put([]byte(v.ID), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(artifactsBucket)).Put([]byte(v.ID), blob)
	})
	if err != nil {
		return ModelVersion{}, err
	}
	return v, nil
}

// Versions returns all registered versions, newest first.
func (s *Store) Versions() ([]ModelVersion, error) {
	var versions []ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		active := tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey))
		return tx.Bucket([]byte(versionsBucket)).ForEach(func(k, data []byte) error {
			var v ModelVersion
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("unmarshal model version %s: %w", k, err)
			}
			v.Active = bytes.Equal(k, active)
			versions = append(versions, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// Version returns the metadata of one version.
func (s *Store) Version(id string) (ModelVersion, error) {
	var v ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(versionsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("unmarshal model version %s: %w", id, err)
		}
		v.Active = bytes.Equal(tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey)), []byte(id))
		return nil
	})
	return v, err
}

// Artifact returns the stored artifact of id after verifying its checksum.
func (s *Store) Artifact(id string) ([]byte, error) {
	var blob []byte
	var want string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(versionsBucket)).Get([]byte(id))
		raw := tx.Bucket([]byte(artifactsBucket)).Get([]byte(id))
		if data == nil || raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var v ModelVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("unmarshal model version %s: %w", id, err)
		}
		want = v.SHA256
		// bbolt values are only valid inside the transaction
		blob = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(blob)
	if hex.EncodeToString(sum[:]) != want {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	return blob, nil
}

// Activate marks id as the version the scoring service loads.
func (s *Store) Activate(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(versionsBucket)).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(activeKey), []byte(id))
	})
}

// Active returns the active version and its artifact.
func (s *Store) Active() (ModelVersion, []byte, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey)); raw != nil {
			id = string(raw)
		}
		return nil
	})
	if err != nil {
		return ModelVersion{}, nil, err
	}
	if id == "" {
		return ModelVersion{}, nil, ErrNoActiveModel
	}

	v, err := s.Version(id)
	if err != nil {
		return ModelVersion{}, nil, err
	}
	blob, err := s.Artifact(id)
	if err != nil {
		return ModelVersion{}, nil, err
	}
	return v, blob, nil
}

// ActivePipeline loads and deserializes the active artifact.
func (s *Store) ActivePipeline() (*ml.Pipeline, ModelVersion, error) {
	v, blob, err := s.Active()
	if err != nil {
		return nil, ModelVersion{}, err
	}
	p, err := ml.UnmarshalPipeline(blob)
	if err != nil {
		return nil, ModelVersion{}, fmt.Errorf("load model %s: %w", v.ID, err)
	}
	return p, v, nil
}

// Rollback activates the version registered just before the active one and
// returns it.
func (s *Store) Rollback() (ModelVersion, error) {
	versions, err := s.Versions()
	if err != nil {
		return ModelVersion{}, err
	}
	if len(versions) < 2 {
		return ModelVersion{}, ErrNoRollback
	}

	currentIdx := -1
	for i, v := range versions {
		if v.Active {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return ModelVersion{}, ErrNoActiveModel
	}
	if currentIdx+1 >= len(versions) {
		return ModelVersion{}, ErrNoRollback
	}

	prev := versions[currentIdx+1]
	if err := s.Activate(prev.ID); err != nil {
		return ModelVersion{}, err
	}
	prev.Active = true
	return prev, nil
}
