package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
)

// ErrJournalClosed возвращается после Close
var ErrJournalClosed = errors.New("journal: closed")

const journalPrefix = "b/"

// JournalOptions параметры журнала пакетов
type JournalOptions struct {
	Dir      string
	InMemory bool
}

// JournalEntry один сохранённый пакет тика
type JournalEntry struct {
	Seq     uint64            `json:"seq"`
	Tick    uint64            `json:"tick"`
	At      time.Time         `json:"at"`
	Records []protocol.Record `json:"records"`
}

// Journal журнал надёжных пакетов на BadgerDB.
// Пакеты сжимаются zstd и хранятся под монотонным номером, который
// продолжается после перезапуска сервера.
type Journal struct {
	db     *badger.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *logging.Logger
	mu     sync.Mutex
	seq    uint64
	closed bool
}

// OpenJournal открывает журнал в каталоге или в памяти
func OpenJournal(opts JournalOptions) (*Journal, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:     db,
		enc:    enc,
		dec:    dec,
		logger: logging.GetStorageLogger(),
	}
	if j.seq, err = j.lastSeq(); err != nil {
		j.Close()
		return nil, err
	}
	j.logger.Info("📼 Журнал пакетов открыт, последний номер %d", j.seq)
	return j, nil
}

func journalKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}

func (j *Journal) lastSeq() (uint64, error) {
	var seq uint64
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// При обратном обходе поиск начинается с ключа, большего любого номера
		it.Seek(append([]byte(journalPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix([]byte(journalPrefix)) {
			seq = binary.BigEndian.Uint64(it.Item().Key()[len(journalPrefix):])
		}
		return nil
	})
	return seq, err
}

// ConsumeBatch сохраняет пакет тика. Реализует network.BatchSink.
func (j *Journal) ConsumeBatch(ctx context.Context, b network.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// значение: tick(8) + unix nano(8) + zstd(записи)
	val := make([]byte, 16)
	binary.BigEndian.PutUint64(val[0:8], b.Tick)
	binary.BigEndian.PutUint64(val[8:16], uint64(b.At.UnixNano()))
	val = j.enc.EncodeAll(protocol.EncodeAll(b.Records), val)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	seq := j.seq + 1
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(seq), val)
	})
	if err != nil {
		return fmt.Errorf("запись пакета тика %d: %w", b.Tick, err)
	}
	j.seq = seq
	return nil
}

// Last номер последнего сохранённого пакета
func (j *Journal) Last() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Range возвращает не более limit пакетов, начиная с номера from
func (j *Journal) Range(from uint64, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if from == 0 {
		from = 1
	}

	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return nil, ErrJournalClosed
	}

	entries := make([]JournalEntry, 0, limit)
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(journalPrefix)
		for it.Seek(journalKey(from)); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(journalPrefix):])
			err := item.Value(func(val []byte) error {
				entry, err := j.decodeEntry(seq, val)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (j *Journal) decodeEntry(seq uint64, val []byte) (JournalEntry, error) {
	if len(val) < 16 {
		return JournalEntry{}, fmt.Errorf("пакет %d: %w", seq, protocol.ErrTruncated)
	}
	raw, err := j.dec.DecodeAll(val[16:], nil)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("пакет %d: %w", seq, err)
	}
	records, err := protocol.DecodeAll(raw)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("пакет %d: %w", seq, err)
	}
	return JournalEntry{
		Seq:     seq,
		Tick:    binary.BigEndian.Uint64(val[0:8]),
		At:      time.Unix(0, int64(binary.BigEndian.Uint64(val[8:16]))),
		Records: records,
	}, nil
}

// Close закрывает журнал
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.enc.Close()
	j.dec.Close()
	return j.db.Close()
}
