package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/logging"
)

const (
	recoveryPrefix = "recovery\x00"

	// Snapshots smaller than this are stored uncompressed.
	compressMinSize = 1024
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// RecoveryRecord is a crash-recovery snapshot of an open buffer.
type RecoveryRecord struct {
	ID uuid.UUID
	// Path of the file, or "" for a buffer that was never saved.
	Path string
	// Name identifies an unsaved buffer across restarts.
	Name      string
	Content   []byte
	Timestamp time.Time
}

// Key returns the name the record is stored under: the path for files, the
// name for unsaved buffers.
func (r RecoveryRecord) Key() string {
	if r.Path != "" {
		return r.Path
	}
	return r.Name
}

type storedRecord struct {
	ID         string    `json:"id"`
	Path       string    `json:"path,omitempty"`
	Name       string    `json:"name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Compressed bool      `json:"compressed"`
	Content    []byte    `json:"content"`
}

// RecoveryStore persists recovery records in a badger database. Only the
// newest record per file is kept.
type RecoveryStore struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	log *logging.Logger
}

// OpenRecoveryStore opens (creating if needed) the store in dir. An empty
// dir opens an in-memory store.
func OpenRecoveryStore(dir string, log *logging.Logger) (*RecoveryStore, error) {
	log = logging.OrNop(log).WithComponent("recovery")

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log.Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open recovery store: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &RecoveryStore{db: db, enc: enc, dec: dec, log: log}, nil
}

// Close closes the database.
func (s *RecoveryStore) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

func fileKeyPrefix(key string) []byte {
	return []byte(recoveryPrefix + key + "\x00")
}

func recordKey(key string, ts time.Time) []byte {
	return fmt.Appendf(fileKeyPrefix(key), "%020d", ts.UnixNano())
}

// Put stores rec, replacing older records for the same file.
func (s *RecoveryStore) Put(rec RecoveryRecord) error {
	if rec.Key() == "" {
		return errors.New("recovery record has neither path nor name")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	stored := storedRecord{
		ID:        rec.ID.String(),
		Path:      rec.Path,
		Name:      rec.Name,
		Timestamp: rec.Timestamp,
		Content:   rec.Content,
	}
	if len(rec.Content) >= compressMinSize {
		stored.Content = s.enc.EncodeAll(rec.Content, nil)
		stored.Compressed = true
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal recovery record: %w", err)
	}

	key := rec.Key()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, fileKeyPrefix(key)); err != nil {
			return err
		}
		return txn.Set(recordKey(key, rec.Timestamp), data)
	})
}

// Latest returns the newest record for key (a path or unsaved-buffer name).
func (s *RecoveryStore) Latest(key string) (RecoveryRecord, bool, error) {
	var (
		rec   RecoveryRecord
		found bool
	)
	prefix := fileKeyPrefix(key)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, err := s.decode(val)
				if err != nil {
					return err
				}
				if !found || r.Timestamp.After(rec.Timestamp) {
					rec, found = r, true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RecoveryRecord{}, false, fmt.Errorf("read recovery record: %w", err)
	}
	return rec, found, nil
}

// List returns every stored record, ordered by key.
func (s *RecoveryStore) List() ([]RecoveryRecord, error) {
	var out []RecoveryRecord
	prefix := []byte(recoveryPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, err := s.decode(val)
				if err != nil {
					// A damaged record must not hide the others.
					s.log.Warn("skipping unreadable recovery record",
						zap.ByteString("key", it.Item().KeyCopy(nil)), zap.Error(err))
					return nil
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recovery records: %w", err)
	}
	return out, nil
}

// Delete removes every record for key.
func (s *RecoveryStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deletePrefix(txn, fileKeyPrefix(key))
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecoveryStore) decode(val []byte) (RecoveryRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(val, &stored); err != nil {
		return RecoveryRecord{}, fmt.Errorf("unmarshal recovery record: %w", err)
	}
	id, err := uuid.Parse(stored.ID)
	if err != nil {
		return RecoveryRecord{}, fmt.Errorf("recovery record id: %w", err)
	}

	content := stored.Content
	if stored.Compressed {
		if !bytes.HasPrefix(content, zstdMagic) {
			return RecoveryRecord{}, errors.New("compressed recovery record has no zstd header")
		}
		content, err = s.dec.DecodeAll(content, nil)
		if err != nil {
			return RecoveryRecord{}, fmt.Errorf("decompress recovery record: %w", err)
		}
	}

	return RecoveryRecord{
		ID:        id,
		Path:      stored.Path,
		Name:      stored.Name,
		Content:   content,
		Timestamp: stored.Timestamp,
	}, nil
}

// badgerLogger routes badger's logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.s.Errorf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.s.Warnf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.s.Debugf(strings.TrimSpace(f), v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.s.Debugf(strings.TrimSpace(f), v...) }
