// Package runlock provides a single-flight advisory lock backed by a marker
// file. The in-process guard makes same-process contention cheap; the file
// extends the guarantee across processes sharing the state directory.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrHeld is returned when the lock is already taken.
var ErrHeld = errors.New("run lock already held")

// Lock is a non-blocking advisory lock.
type Lock struct {
	path     string
	ttl      time.Duration
	logger   *zap.Logger
	inFlight atomic.Bool
}

// New builds a lock on the given marker path. A ttl > 0 lets a later
// acquisition break a marker left behind by a crashed process.
func New(path string, ttl time.Duration, logger *zap.Logger) *Lock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lock{path: path, ttl: ttl, logger: logger}
}

type marker struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquired_at"`
}

// TryAcquire takes the lock or fails fast with ErrHeld. The returned release
// is idempotent and safe to call from deferred recovery paths.
func (l *Lock) TryAcquire() (func(), error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return nil, ErrHeld
	}
	if err := l.createMarker(); err != nil {
		l.inFlight.Store(false)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("failed to remove lock marker",
					zap.String("path", l.path),
					zap.Error(err),
				)
			}
			l.inFlight.Store(false)
		})
	}
	return release, nil
}

func (l *Lock) createMarker() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create lock directory: %w", err)
		}
	}
	err := l.writeMarker()
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock marker: %w", err)
	}
	if !l.breakStale() {
		return ErrHeld
	}
	if err := l.writeMarker(); err != nil {
		if os.IsExist(err) {
			return ErrHeld
		}
		return fmt.Errorf("create lock marker: %w", err)
	}
	return nil
}

func (l *Lock) writeMarker() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	data, err := json.Marshal(marker{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		_, err = f.Write(data)
	}
	if err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	return f.Close()
}

// breakStale removes a marker older than the TTL. A crashed process must not
// wedge the service forever.
func (l *Lock) breakStale() bool {
	if l.ttl <= 0 {
		return false
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) < l.ttl {
		return false
	}
	l.logger.Warn("breaking stale run lock",
		zap.String("path", l.path),
		zap.Time("acquired", info.ModTime()),
	)
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false
	}
	return true
}
