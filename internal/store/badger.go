package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout:
//
//	chunk:<id>        JSON badgerRecord
//	order:<seq BE64>  chunk id, for corpus-order iteration
const (
	badgerChunkPrefix = "chunk:"
	badgerOrderPrefix = "order:"
	badgerSeqKey      = "seq:chunks"

	badgerWriteBatch        = 1000
	badgerSequenceBandwidth = 100
)

// badgerRecord is the stored form of a chunk.
type badgerRecord struct {
	Seq   uint64 `json:"seq"`
	Chunk Chunk  `json:"chunk"`
}

// BadgerCorpus stores chunk bodies in BadgerDB.
type BadgerCorpus struct {
	db  *badger.DB
	seq *badger.Sequence
}

// badgerLoggerAdapter routes badger's logger through slog.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadgerCorpus opens a corpus in dir. An empty dir opens an in-memory corpus.
func OpenBadgerCorpus(dir string) (*BadgerCorpus, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}

	return &BadgerCorpus{db: db, seq: seq}, nil
}

func badgerChunkKey(id string) []byte {
	return []byte(badgerChunkPrefix + id)
}

func badgerOrderKey(seq uint64) []byte {
	buf := make([]byte, len(badgerOrderPrefix)+8)
	n := copy(buf, badgerOrderPrefix)
	binary.BigEndian.PutUint64(buf[n:], seq)
	return buf
}

// PutChunks implements CorpusWriter. Existing IDs keep their corpus position.
func (b *BadgerCorpus) PutChunks(ctx context.Context, chunks []*Chunk) error {
	for start := 0; start < len(chunks); start += badgerWriteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+badgerWriteBatch, len(chunks))
		if err := b.db.Update(func(tx *badger.Txn) error {
			return b.putBatch(tx, chunks[start:end])
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *BadgerCorpus) putBatch(tx *badger.Txn, chunks []*Chunk) error {
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return fmt.Errorf("cannot store chunk without id")
		}

		key := badgerChunkKey(c.ID)
		existing, err := getRecord(tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		var seq uint64
		if existing != nil {
			seq = existing.Seq
		} else {
			if seq, err = b.seq.Next(); err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			if err := tx.Set(badgerOrderKey(seq), []byte(c.ID)); err != nil {
				return err
			}
		}

		value, err := json.Marshal(badgerRecord{Seq: seq, Chunk: *c})
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", c.ID, err)
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func getRecord(tx *badger.Txn, key []byte) (*badgerRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec badgerRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rec, nil
}

// Reset drops every chunk.
func (b *BadgerCorpus) Reset(ctx context.Context) error {
	if err := b.db.DropPrefix([]byte(badgerChunkPrefix), []byte(badgerOrderPrefix)); err != nil {
		return fmt.Errorf("reset corpus: %w", err)
	}
	return nil
}

// GetChunk implements Corpus.
func (b *BadgerCorpus) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	var chunk *Chunk
	err := b.db.View(func(tx *badger.Txn) error {
		rec, err := getRecord(tx, badgerChunkKey(id))
		if err != nil {
			return err
		}
		chunk = &rec.Chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetChunks implements Corpus.
func (b *BadgerCorpus) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	out := make([]*Chunk, 0, len(ids))
	err := b.db.View(func(tx *badger.Txn) error {
		for _, id := range ids {
			rec, err := getRecord(tx, badgerChunkKey(id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			c := rec.Chunk
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach implements Corpus, walking the order index.
func (b *BadgerCorpus) ForEach(ctx context.Context, fn func(*Chunk) error) error {
	return b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerOrderPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := getRecord(tx, badgerChunkKey(string(id)))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			c := rec.Chunk
			if err := fn(&c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the sequence and closes the database.
func (b *BadgerCorpus) Close() error {
	return errors.Join(b.seq.Release(), b.db.Close())
}

var _ CorpusWriter = (*BadgerCorpus)(nil)
