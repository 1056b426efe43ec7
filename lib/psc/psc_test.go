package psc

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

func TestPrepareReuses(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "psc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	sc := NewCache(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	stmts := make([]*sql.Stmt, 8)
	for i := range stmts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := sc.Prepare(ctx, "SELECT 1")
			if err != nil {
				t.Error(err)
				return
			}
			stmts[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range stmts[1:] {
		if s != stmts[0] {
			t.Fatal("Expected every caller to get the same prepared statement")
		}
	}
	if sc.Len() != 1 {
		t.Errorf("Expected 1 cached statement, got %d", sc.Len())
	}
	if err := sc.Close(); err != nil {
		t.Fatal(err)
	}
	if sc.Len() != 0 {
		t.Errorf("Close should empty the cache")
	}
	if _, err := sc.Prepare(ctx, "SELECT 2"); err != nil {
		t.Errorf("Cache should be usable after Close: %v", err)
	}
}
