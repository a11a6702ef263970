package resolver

import (
	"database/sql"
	"fmt"
	"sync"
)

// PoolRegistry caches one *sql.DB per distinct connection URL. Pools are
// created on first use, shared across evaluations, and never implicitly
// closed mid-process.
type PoolRegistry struct {
	pools map[string]*sql.DB
	mu    sync.RWMutex
}

// DefaultPools is the process-wide registry used by resolvers unless they are
// given their own.
var DefaultPools = NewPoolRegistry()

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{pools: make(map[string]*sql.DB)}
}

// Get returns the pooled connection for driver+dsn, opening it on first use.
func (p *PoolRegistry) Get(driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn

	p.mu.RLock()
	db, ok := p.pools[key]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock; another goroutine may have opened it.
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	p.pools[key] = db
	return db, nil
}

// Close closes every pooled connection. Intended for tests and process
// shutdown only.
func (p *PoolRegistry) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, key)
	}
	return firstErr
}
