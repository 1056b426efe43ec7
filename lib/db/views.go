package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
)

//PostViewers returns every user recorded as having seen post, or gp.ENOSUCHPOST if it's gone.
func (db *DB) PostViewers(ctx context.Context, post gp.PostID) (viewers []gp.UserID, err error) {
	if _, err = db.PostOwner(ctx, post); err != nil {
		return
	}
	return db.Viewers(ctx, post)
}

//Viewers is PostViewers for a post the caller already knows exists; a missing post just has no viewers.
func (db *DB) Viewers(ctx context.Context, post gp.PostID) (viewers []gp.UserID, err error) {
	s, err := db.prepare(ctx, "SELECT user_id FROM post_views WHERE post_id = ?")
	if err != nil {
		return
	}
	rows, err := s.QueryContext(ctx, string(post))
	if err != nil {
		return
	}
	defer rows.Close()
	viewers = make([]gp.UserID, 0)
	for rows.Next() {
		var user string
		if err = rows.Scan(&user); err != nil {
			return
		}
		viewers = append(viewers, gp.UserID(user))
	}
	return viewers, rows.Err()
}

//AppendViews records that users have seen post. Users already recorded are skipped, so it's safe to repeat and to race with other writers.
//It returns how many users were new, or gp.ENOSUCHPOST if the post is gone.
func (db *DB) AppendViews(ctx context.Context, post gp.PostID, users ...gp.UserID) (added int, err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM wall_posts WHERE id = ? AND deleted = 0", string(post)).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, gp.ENOSUCHPOST
	}
	if err != nil {
		return
	}
	if len(users) == 0 {
		return 0, tx.Commit()
	}
	ins, err := tx.PrepareContext(ctx, db.insertIgnore()+" INTO post_views (post_id, user_id, ts) VALUES (?, ?, ?)")
	if err != nil {
		return
	}
	defer ins.Close()
	now := time.Now().UTC()
	for _, u := range users {
		var res sql.Result
		res, err = ins.ExecContext(ctx, string(post), string(u), now)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

//PostViewCount returns the number of distinct users who've viewed post.
func (db *DB) PostViewCount(ctx context.Context, post gp.PostID) (count int, err error) {
	s, err := db.prepare(ctx, "SELECT COUNT(*) FROM post_views WHERE post_id = ?")
	if err != nil {
		return
	}
	err = s.QueryRowContext(ctx, string(post)).Scan(&count)
	return
}
