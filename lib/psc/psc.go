package psc

import (
	"context"
	"database/sql"
	"sync"
)

//StatementCache caches prepared statements. It is safe for concurrent use.
type StatementCache struct {
	db    *sql.DB
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

//Prepare gives you an already prepared statement if available, otherwise prepares one with the underlying sql.db.
func (s *StatementCache) Prepare(ctx context.Context, query string) (stmt *sql.Stmt, err error) {
	s.mu.RLock()
	stmt, ok := s.stmts[query]
	s.mu.RUnlock()
	if ok {
		return stmt, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok = s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err = s.db.PrepareContext(ctx, query)
	if err != nil {
		return
	}
	s.stmts[query] = stmt
	return stmt, nil
}

//Len is the number of statements currently prepared.
func (s *StatementCache) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stmts)
}

//Close closes every prepared statement; the cache can be reused afterwards.
func (s *StatementCache) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q, stmt := range s.stmts {
		if e := stmt.Close(); e != nil && err == nil {
			err = e
		}
		delete(s.stmts, q)
	}
	return
}

//NewCache creates a new prepared statement cache.
func NewCache(db *sql.DB) (s *StatementCache) {
	s = &StatementCache{db: db}
	s.stmts = make(map[string]*sql.Stmt)
	return
}
