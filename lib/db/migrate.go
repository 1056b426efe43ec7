package db

import (
	"context"
	"fmt"
)

type migration struct {
	id     string
	mysql  string
	sqlite string
}

//migrations are applied in order and recorded in schema_migrations.
var migrations = []migration{
	{
		id: "20141031000000_WallPosts",
		mysql: "CREATE TABLE IF NOT EXISTS `wall_posts` ( " +
			"`id` varchar(64) NOT NULL, " +
			"`by` varchar(64) NOT NULL, " +
			"`text` text, " +
			"`time` datetime NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
			"`deleted` tinyint(1) NOT NULL DEFAULT 0, " +
			"PRIMARY KEY (`id`) ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		sqlite: "CREATE TABLE IF NOT EXISTS `wall_posts` ( " +
			"`id` TEXT NOT NULL PRIMARY KEY, " +
			"`by` TEXT NOT NULL, " +
			"`text` TEXT, " +
			"`time` DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
			"`deleted` INTEGER NOT NULL DEFAULT 0 )",
	},
	{
		id: "20141216221609_Views",
		mysql: "CREATE TABLE IF NOT EXISTS `post_views` ( " +
			"`post_id` varchar(64) NOT NULL, " +
			"`user_id` varchar(64) NOT NULL, " +
			"`ts` datetime NOT NULL, " +
			"PRIMARY KEY (`post_id`, `user_id`) ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		sqlite: "CREATE TABLE IF NOT EXISTS `post_views` ( " +
			"`post_id` TEXT NOT NULL, " +
			"`user_id` TEXT NOT NULL, " +
			"`ts` DATETIME NOT NULL, " +
			"PRIMARY KEY (`post_id`, `user_id`) )",
	},
}

//Migrate brings the schema up to date. It's safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (id varchar(64) NOT NULL PRIMARY KEY)")
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var applied int
		err = db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE id = ?", m.id).Scan(&applied)
		if err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		if err = db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.id, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) (err error) {
	q := m.mysql
	if db.dialect == "sqlite" {
		q = m.sqlite
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, q); err != nil {
		return
	}
	if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (id) VALUES (?)", m.id); err != nil {
		return
	}
	return tx.Commit()
}
