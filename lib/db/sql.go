//Package db is the durable store: posts and the users who have viewed them, in MySQL (or sqlite for local use).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/psc"
	_ "github.com/go-sql-driver/mysql" //mysql driver
	_ "modernc.org/sqlite"             //sqlite driver
)

//DB wraps a *sql.DB with a prepared statement cache and knows which SQL dialect it's talking.
type DB struct {
	db      *sql.DB
	sc      *psc.StatementCache
	dialect string
}

//New opens the database described by config and applies any outstanding migrations.
func New(ctx context.Context, config conf.MysqlConfig) (db *DB, err error) {
	db, err = Open(config.Driver, config.ConnectionString())
	if err != nil {
		return
	}
	if config.Driver == "mysql" {
		db.db.SetMaxIdleConns(config.MaxConns)
		db.db.SetMaxOpenConns(config.MaxConns)
		db.db.SetConnMaxLifetime(time.Hour)
	}
	if err = db.db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", config.Driver, err)
	}
	if err = db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

//Open wraps an sql.Open; driver must be "mysql" or "sqlite".
func Open(driver, dsn string) (*DB, error) {
	if driver != "mysql" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		//sqlite allows one writer; serialising here avoids SQLITE_BUSY on concurrent appends.
		sqlDB.SetMaxOpenConns(1)
	}
	return &DB{db: sqlDB, sc: psc.NewCache(sqlDB), dialect: driver}, nil
}

//Close releases prepared statements and the connection pool.
func (db *DB) Close() error {
	db.sc.Close()
	return db.db.Close()
}

//Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return db.sc.Prepare(ctx, query)
}

//insertIgnore is the dialect's "insert unless the key already exists".
func (db *DB) insertIgnore() string {
	if db.dialect == "sqlite" {
		return "INSERT OR IGNORE"
	}
	return "INSERT IGNORE"
}
