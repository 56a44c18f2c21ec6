package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "toolhost.db"

const defaultOpenTimeout = 5 * time.Second

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the database in dataDir. A database left locked
// by a crashed process is backed up and recreated.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	return open(dataDir, logger, defaultOpenTimeout, true)
}

// OpenBoltDB opens the database without lock recovery. It fails with
// errors.ErrTimeout when another process holds the database for longer than
// timeout.
func OpenBoltDB(dataDir string, logger *zap.SugaredLogger, timeout time.Duration) (*BoltDB, error) {
	return open(dataDir, logger, timeout, false)
}

func open(dataDir string, logger *zap.SugaredLogger, timeout time.Duration, recoverLocked bool) (*BoltDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: timeout})
	if err == errors.ErrTimeout && recoverLocked {
		backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
		logger.Warnf("Database %s is locked, moving it to %s", dbPath, backupPath)
		if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
			logger.Warnf("Failed to create backup: %v", cpErr)
		}
		if rmErr := os.Remove(dbPath); rmErr != nil {
			logger.Warnf("Failed to remove locked database file: %v", rmErr)
		}
		db, err = bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: timeout})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return b, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{ToolRefsBucket, DepMarkersBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(MetaBucket)).Get([]byte(SchemaVersionKey))
		if v != nil {
			version = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

// Tool reference operations

// SaveToolRef adds or replaces a local tool reference.
func (b *BoltDB) SaveToolRef(record *ToolRefRecord) error {
	if record.AddedAt.IsZero() {
		record.AddedAt = time.Now()
	}
	return b.put(ToolRefsBucket, record.ID, record)
}

// DeleteToolRef removes a local tool reference. Missing ids are ignored.
func (b *BoltDB) DeleteToolRef(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ToolRefsBucket)).Delete([]byte(id))
	})
}

// ListToolRefs returns every stored local tool reference, oldest first.
func (b *BoltDB) ListToolRefs() ([]*ToolRefRecord, error) {
	var records []*ToolRefRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ToolRefsBucket)).ForEach(func(k, v []byte) error {
			r := &ToolRefRecord{}
			if err := r.UnmarshalBinary(v); err != nil {
				b.logger.Warnf("Skipping unreadable tool ref %s: %v", k, err)
				return nil
			}
			records = append(records, r)
			return nil
		})
	})
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].AddedAt.Before(records[j].AddedAt)
	})
	return records, err
}

// Dependency marker operations

// GetDepMarker returns the marker for toolID, or nil when none is stored.
func (b *BoltDB) GetDepMarker(toolID string) (*DepMarkerRecord, error) {
	var marker *DepMarkerRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(DepMarkersBucket)).Get([]byte(toolID))
		if v == nil {
			return nil
		}
		marker = &DepMarkerRecord{}
		return marker.UnmarshalBinary(v)
	})
	return marker, err
}

// SaveDepMarker stores the marker for a successful dependency install.
func (b *BoltDB) SaveDepMarker(marker *DepMarkerRecord) error {
	if marker.InstalledAt.IsZero() {
		marker.InstalledAt = time.Now()
	}
	return b.put(DepMarkersBucket, marker.ToolID, marker)
}

// DeleteDepMarker forgets a tool's install marker.
func (b *BoltDB) DeleteDepMarker(toolID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(DepMarkersBucket)).Delete([]byte(toolID))
	})
}

type binaryRecord interface {
	MarshalBinary() ([]byte, error)
}

func (b *BoltDB) put(bucket, key string, record binaryRecord) error {
	if key == "" {
		return fmt.Errorf("empty key for bucket %s", bucket)
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// copyFile copies src to dst
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
