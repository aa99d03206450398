package repository

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"moniteur/internal/domain"
)

// Backend names a physical store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMySQL    Backend = "mysql"
	BackendBadger   Backend = "badger"
)

// ParseBackend accepts the config spelling of a backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendSQLite, BackendPostgres, BackendMySQL, BackendBadger:
		return b, nil
	case "sqlite3":
		return BackendSQLite, nil
	case "postgresql", "pgx":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported store backend %q", s)
	}
}

// NewStore builds an uninitialised store for backend. Call Init before use.
func NewStore(backend Backend, dsn string) (domain.MetricStore, error) {
	switch backend {
	case BackendSQLite, BackendPostgres, BackendMySQL:
		return NewSQLStore(backend, dsn), nil
	case BackendBadger:
		return NewBadgerStore(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

// assetLocks partitions locking by asset id. Writes and queries share an
// asset's lock; a retention sweep holds it exclusively for that asset only.
type assetLocks struct {
	locks sync.Map
}

func (l *assetLocks) get(assetID string) *sync.RWMutex {
	if mu, ok := l.locks.Load(assetID); ok {
		return mu.(*sync.RWMutex)
	}
	mu, _ := l.locks.LoadOrStore(assetID, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// lifecycle tracks the open/closed state shared by all backends.
type lifecycle struct {
	open   atomic.Bool
	closed atomic.Bool
}

func (l *lifecycle) check() error {
	if l.closed.Load() {
		return domain.ErrStoreClosed
	}
	if !l.open.Load() {
		return fmt.Errorf("%w: store is not initialized", domain.ErrStore)
	}
	return nil
}

// markClosed reports whether this call performed the transition.
func (l *lifecycle) markClosed() bool {
	return l.closed.CompareAndSwap(false, true)
}

// Downsample keeps maxPoints points chosen at a uniform stride over points,
// always including the first and last so the full range stays covered.
// maxPoints <= 0 or a short series returns points unchanged.
func Downsample(points []domain.DataPoint, maxPoints int) []domain.DataPoint {
	n := len(points)
	if maxPoints <= 0 || n <= maxPoints {
		return points
	}
	if maxPoints == 1 {
		return []domain.DataPoint{points[n-1]}
	}

	out := make([]domain.DataPoint, maxPoints)
	for i := 0; i < maxPoints; i++ {
		out[i] = points[i*(n-1)/(maxPoints-1)]
	}
	return out
}

// cutoffFor returns the oldest timestamp kept by a horizon policy, or false if unset.
func cutoffFor(policy domain.Retention, now time.Time) (int64, bool) {
	if policy.Horizon <= 0 {
		return 0, false
	}
	return now.Add(-policy.Horizon).UnixMilli(), true
}
