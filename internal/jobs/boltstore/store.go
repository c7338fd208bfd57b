// Package boltstore keeps job records in a bolt database file so that job
// progress can be polled from a later process.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/jobs"
)

var bucketName = []byte("jobs")

// Store implements jobs.Store on top of bolt.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the job database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create job store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create jobs bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements jobs.Store.
func (s *Store) Save(_ context.Context, status jobs.Status) error {
	if status.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	val, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", status.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(status.ID), val)
	})
}

// Get implements jobs.Store.
func (s *Store) Get(_ context.Context, id string) (jobs.Status, error) {
	var status jobs.Status
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketName).Get([]byte(id))
		if val == nil {
			return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
		}
		return json.Unmarshal(val, &status)
	})
	if err != nil {
		return jobs.Status{}, err
	}
	return status, nil
}

// List implements jobs.Store.
func (s *Store) List(_ context.Context) ([]jobs.Status, error) {
	var result []jobs.Status
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var status jobs.Status
			if err := json.Unmarshal(v, &status); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", k, err)
			}
			result = append(result, status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ jobs.Store = (*Store)(nil)
