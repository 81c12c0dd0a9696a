// Package store keeps archived evolutions in BadgerDB and reads them back
// without copying.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/rawbytedev/evolv"
	"github.com/rawbytedev/evolv/archive"
)

var ErrNotFound = errors.New("store: key not found")

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Useful for testing.
	InMemory bool

	SyncWrites bool

	// Logger receives store and BadgerDB logs. Nil discards them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store maps keys to framed archives whose root is an archived evolution.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for a persistent store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "store: create %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "store: open badger")
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	logger.Debug("store opened", slog.String("path", cfg.Path), slog.Bool("in_memory", cfg.InMemory))
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops garbage collection and closes the database. Later calls
// return the result of the first.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		s.closeErr = s.db.Close()
		s.logger.Debug("store closed")
	})
	return s.closeErr
}

// Put archives v under key.
func Put[E evolv.Evolving, V evolv.Evolution[E]](s *Store, key []byte, v *V) error {
	buf, err := evolv.Archive[E](v)
	if err != nil {
		return err
	}
	return s.put(key, buf)
}

// PutParts archives the initialized groups of p under key.
func PutParts[E evolv.Evolving, T any](s *Store, key []byte, p evolv.Parts[T]) error {
	buf, err := evolv.ArchiveParts[E](p)
	if err != nil {
		return err
	}
	return s.put(key, buf)
}

func (s *Store) put(key, payload []byte) error {
	frame := archive.EncodeFrame(payload, archive.FlagEvolutionRoot)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, frame)
	})
	if err != nil {
		return errors.Wrapf(err, "store: put %q", key)
	}
	writesTotal.Inc()
	s.logger.Debug("stored evolution", slog.String("key", string(key)), slog.Int("bytes", len(payload)))
	return nil
}

// payload calls fn with the archive stored under key, inside a read
// transaction.
func (s *Store) payload(key []byte, fn func([]byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			readsTotal.WithLabelValues(outcomeMissing).Inc()
			return errors.Wrapf(ErrNotFound, "%q", key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload, _, err := archive.DecodeFrame(val)
			if err != nil {
				return errors.Wrapf(err, "store: %q", key)
			}
			return fn(payload)
		})
	})
}

// View calls fn with the evolution stored under key. The envelope and any
// probe taken from it alias BadgerDB memory and must not be used after fn
// returns.
func View[E evolv.Evolving](s *Store, key []byte, fn func(*evolv.ArchivedEvolution[E]) error) error {
	return s.payload(key, func(payload []byte) error {
		ae, err := evolv.AccessEvolution[E](payload)
		if err != nil {
			return errors.Wrapf(err, "store: %q", key)
		}
		if _, ok := ae.Version(); ok {
			readsTotal.WithLabelValues(outcomeKnown).Inc()
		} else {
			readsTotal.WithLabelValues(outcomeUnknown).Inc()
			s.logger.Debug("read evolution from a newer writer",
				slog.String("key", string(key)), slog.Int("bytes", ae.Len()))
		}
		return fn(ae)
	})
}

// ViewAny is View for callers that have no Go type for the line, such as
// tools working from a manifest.
func (s *Store) ViewAny(key []byte, fn func(evolv.AnyProbe) error) error {
	return s.payload(key, func(payload []byte) error {
		p, err := evolv.AccessAny(payload)
		if err != nil {
			return errors.Wrapf(err, "store: %q", key)
		}
		return fn(p)
	})
}

// Get copies out the newest version V the stored evolution holds, or
// reports false when it predates V.
func Get[V evolv.Evolution[E], E evolv.Evolving](s *Store, key []byte) (V, bool, error) {
	var out V
	var found bool
	err := View(s, key, func(ae *evolv.ArchivedEvolution[E]) error {
		if v, ok := evolv.ProbeAsVersion[V](ae); ok {
			out, found = *v, true
		}
		return nil
	})
	return out, found, err
}

// Version returns the version stored under key; false means the writer was
// newer than this binary.
func Version[E evolv.Evolving](s *Store, key []byte) (evolv.Version, bool, error) {
	var ver evolv.Version
	var known bool
	err := View(s, key, func(ae *evolv.ArchivedEvolution[E]) error {
		ver, known = ae.Version()
		return nil
	})
	return ver, known, err
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Keys lists every stored key with the given prefix.
func (s *Store) Keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}
