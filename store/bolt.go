package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Aashish23092/invoice-reconcile/dto"
)

const (
	batchBucketName  = "batches"
	recordBucketName = "records"
)

// Store persists batch summaries and their reconciled rows.
type Store interface {
	// SaveBatch inserts or replaces a batch summary
	SaveBatch(summary *dto.BatchSummary) error

	// GetBatch returns dto.ErrBatchNotFound when id is unknown
	GetBatch(id string) (*dto.BatchSummary, error)

	// ListBatches returns all batches, newest first
	ListBatches() ([]*dto.BatchSummary, error)

	SaveRecords(id string, records []dto.ReconciledRecord) error
	GetRecords(id string) ([]dto.ReconciledRecord, error)

	// DeleteBatch removes a batch and its rows
	DeleteBatch(id string) error

	Close() error
}

// BoltStore implements Store on a single bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(batchBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveBatch(summary *dto.BatchSummary) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshaling batch: %w", err)
		}
		return tx.Bucket([]byte(batchBucketName)).Put([]byte(summary.ID), data)
	})
}

func (s *BoltStore) GetBatch(id string) (*dto.BatchSummary, error) {
	var summary *dto.BatchSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(batchBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", dto.ErrBatchNotFound, id)
		}
		return json.Unmarshal(data, &summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *BoltStore) ListBatches() ([]*dto.BatchSummary, error) {
	batches := make([]*dto.BatchSummary, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(batchBucketName)).ForEach(func(k, v []byte) error {
			var summary dto.BatchSummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return fmt.Errorf("unmarshaling batch %s: %w", k, err)
			}
			batches = append(batches, &summary)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].StartedAt.After(batches[j].StartedAt)
	})
	return batches, nil
}

func (s *BoltStore) SaveRecords(id string, records []dto.ReconciledRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(batchBucketName)).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", dto.ErrBatchNotFound, id)
		}
		data, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("marshaling records: %w", err)
		}
		return tx.Bucket([]byte(recordBucketName)).Put([]byte(id), data)
	})
}

// GetRecords returns an empty slice for a known batch without rows.
func (s *BoltStore) GetRecords(id string) ([]dto.ReconciledRecord, error) {
	records := make([]dto.ReconciledRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(batchBucketName)).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", dto.ErrBatchNotFound, id)
		}
		data := tx.Bucket([]byte(recordBucketName)).Get([]byte(id))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) DeleteBatch(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(recordBucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(batchBucketName)).Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
