package checkpoint

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/tracker"
)

const keyPrefix = "checkpoint/"

// State is everything needed to resume tailing a log without rescanning it.
type State struct {
	Source         string
	Offset         int64 // Watermark of the last committed tick
	Head           []byte // First bytes of the log, to recognise a replaced file
	Tracker        tracker.State
	Samples        map[string][]sample.Sample
	Speeds         []tracker.BeltSpeed
	TemperatureF   float64
	HasTemperature bool
	BeltSpeed      float64
	HasBeltSpeed   bool
	Saved          time.Time
}

// Store persists checkpoints in BadgerDB, one key per source.
type Store struct {
	DB *badger.DB
}

// Open opens or creates a checkpoint database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("Checkpoint failed to open database", slog.String("path", path), slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("Checkpoint opened", slog.String("path", path))
	return &Store{DB: db}, nil
}

// OpenInMemory opens a throwaway checkpoint database.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &Store{DB: db}, nil
}

// Key returns the database key of a source.
func Key(source string) []byte {
	return []byte(keyPrefix + source)
}

// Save replaces the checkpoint of st.Source.
func (s *Store) Save(st State) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("checkpoint encode error: %w", err)
	}

	err = s.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(st.Source), data)
	})
	if err != nil {
		return fmt.Errorf("checkpoint write error: %w", err)
	}
	return nil
}

// Load returns the checkpoint of source. ok is false when there is none.
func (s *Store) Load(source string) (st State, ok bool, err error) {
	err = s.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(source))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			st, err = Decode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint read error: %w", err)
	}
	return st, true, nil
}

// Delete removes the checkpoint of source, if any.
func (s *Store) Delete(source string) error {
	err := s.DB.Update(func(txn *badger.Txn) error {
		return txn.Delete(Key(source))
	})
	if err != nil {
		return fmt.Errorf("checkpoint delete error: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.DB.Close(); err != nil {
		slog.Error("Checkpoint failed to close database", slog.Any("error", err))
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// Encode serializes a checkpoint.
func Encode(st State) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a checkpoint.
func Decode(data []byte) (State, error) {
	var st State
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st)
	return st, err
}
