package offset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	metaBucket      = "meta"
	positionsBucket = "positions"

	createdKey  = "created_datetime_str"
	modifiedKey = "modified_datetime_str"
)

// BoltDBBackend keeps the snapshot in a BoltDB file
type BoltDBBackend struct {
	db *bbolt.DB
}

// NewBoltDBBackend opens (or creates) the BoltDB positions database
func NewBoltDBBackend(dbPath string) (*BoltDBBackend, error) {
	// Try to open with short timeout
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(positionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	log.Debug().
		Str("db_path", dbPath).
		Msg("BoltDB positions backend initialized")

	return &BoltDBBackend{db: db}, nil
}

// Load reads the snapshot from both buckets
func (b *BoltDBBackend) Load(ctx context.Context) (*Snapshot, error) {
	var snapshot *Snapshot

	err := b.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		positions := tx.Bucket([]byte(positionsBucket))
		if meta == nil || positions == nil {
			return fmt.Errorf("bucket not found")
		}

		created := meta.Get([]byte(createdKey))
		if created == nil {
			return ErrNoSnapshot
		}

		snapshot = &Snapshot{
			CreatedAt:  string(created),
			ModifiedAt: string(meta.Get([]byte(modifiedKey))),
		}

		return positions.ForEach(func(k, v []byte) error {
			position, err := decodePosition(k, v)
			if err != nil {
				return err
			}
			snapshot.Positions = append(snapshot.Positions, position)
			return nil
		})
	})

	if errors.Is(err, ErrNoSnapshot) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	return snapshot, nil
}

// Save replaces the stored snapshot in a single transaction
func (b *BoltDBBackend) Save(ctx context.Context, snapshot *Snapshot) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(positionsBucket)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		positions, err := tx.CreateBucket([]byte(positionsBucket))
		if err != nil {
			return err
		}

		for _, position := range snapshot.Positions {
			k, v := encodePosition(position)
			if err := positions.Put(k, v); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(createdKey), []byte(snapshot.CreatedAt)); err != nil {
			return err
		}
		return meta.Put([]byte(modifiedKey), []byte(snapshot.ModifiedAt))
	})

	if err != nil {
		return fmt.Errorf("failed to save positions: %w", err)
	}

	return nil
}

// Close closes the BoltDB database
func (b *BoltDBBackend) Close() error {
	return b.db.Close()
}

// encodePosition produces key = file id, value = bytes_read followed by the path
func encodePosition(p domain.Position) ([]byte, []byte) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(p.FileID))

	val := make([]byte, 8+len(p.Path))
	binary.BigEndian.PutUint64(val, p.BytesRead)
	copy(val[8:], p.Path)

	return key, val
}

func decodePosition(k, v []byte) (domain.Position, error) {
	if len(k) != 8 || len(v) < 8 {
		return domain.Position{}, fmt.Errorf("invalid position record")
	}

	return domain.Position{
		FileID:    domain.FileID(binary.BigEndian.Uint64(k)),
		BytesRead: binary.BigEndian.Uint64(v),
		Path:      string(v[8:]),
	}, nil
}
