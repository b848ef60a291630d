// javacomplete/helpers_history.go
// Persists the import chosen for each simple type name so later fixes can be ranked
// or applied without asking.
package javacomplete

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

var historyBucketName = []byte("ImportChoices")

// ImportHistory is a bbolt store of symbol -> fully-qualified import.
// A nil *ImportHistory is valid and remembers nothing.
type ImportHistory struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

// DefaultHistoryPath returns the history file location under the user cache dir.
func DefaultHistoryPath() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine user cache directory")
	}
	return filepath.Join(userCacheDir, configDirName, fmt.Sprintf("v%d", importHistorySchemaVersion), defaultHistoryFileName), nil
}

// OpenImportHistory opens (or creates) the history database at path.
func OpenImportHistory(path string, logger *slog.Logger) (*ImportHistory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	historyLogger := logger.With("component", "ImportHistory", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating history directory for %s", path), ErrHistory)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "opening history database %s", path), ErrHistory)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(historyBucketName); err != nil {
			return errors.Wrapf(err, "failed to create bucket %s", string(historyBucketName))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Mark(err, ErrHistory)
	}
	historyLogger.Info("Using bbolt import history")
	return &ImportHistory{db: db, path: path, logger: historyLogger}, nil
}

// Record remembers path as the import chosen for symbol.
func (h *ImportHistory) Record(symbol, path string) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	db := h.db
	h.mu.RUnlock()
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(historyBucketName)
		if b == nil {
			return errors.Newf("bucket %s not found", string(historyBucketName))
		}
		return b.Put([]byte(symbol), []byte(path))
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "recording import for %s", symbol), ErrHistory)
	}
	h.logger.Debug("Recorded import choice", "symbol", symbol, "import", path)
	return nil
}

// Preferred returns the import previously recorded for symbol.
func (h *ImportHistory) Preferred(symbol string) (string, bool) {
	if h == nil {
		return "", false
	}
	h.mu.RLock()
	db := h.db
	h.mu.RUnlock()
	if db == nil {
		return "", false
	}
	var preferred string
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(historyBucketName)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(symbol)); v != nil {
			preferred = string(v)
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("Failed to read import history", "symbol", symbol, "error", err)
		return "", false
	}
	return preferred, preferred != ""
}

// Forget removes the recorded choice for symbol.
func (h *ImportHistory) Forget(symbol string) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	db := h.db
	h.mu.RUnlock()
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(historyBucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(symbol))
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "forgetting import for %s", symbol), ErrHistory)
	}
	return nil
}

// Close closes the database.
func (h *ImportHistory) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	h.logger.Info("Closing bbolt import history.")
	err := h.db.Close()
	h.db = nil
	if err != nil {
		return errors.Mark(errors.Wrap(err, "closing history database"), ErrHistory)
	}
	return nil
}
