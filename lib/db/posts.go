package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
)

/********************************************************************
		Post
********************************************************************/

//Posts are owned by the content service; the view pipeline only needs to know who wrote a post and whether it's still live.

//AddPost records a post. The view pipeline never calls this; it's here for tooling and tests.
func (db *DB) AddPost(ctx context.Context, post gp.PostCore) error {
	if post.Time.IsZero() {
		post.Time = time.Now()
	}
	s, err := db.prepare(ctx, "INSERT INTO wall_posts (id, `by`, text, time) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, string(post.ID), string(post.By), post.Text, post.Time.UTC())
	return err
}

//DeletePost marks a post as deleted. Its views stay in post_views but the post no longer exists as far as views are concerned.
func (db *DB) DeletePost(ctx context.Context, post gp.PostID) error {
	s, err := db.prepare(ctx, "UPDATE wall_posts SET deleted = 1 WHERE id = ?")
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, string(post))
	return err
}

//PostOwner returns the author of a live post, or gp.ENOSUCHPOST.
func (db *DB) PostOwner(ctx context.Context, id gp.PostID) (owner gp.UserID, err error) {
	s, err := db.prepare(ctx, "SELECT `by` FROM wall_posts WHERE id = ? AND deleted = 0")
	if err != nil {
		return
	}
	var by string
	err = s.QueryRowContext(ctx, string(id)).Scan(&by)
	if err == sql.ErrNoRows {
		return owner, gp.ENOSUCHPOST
	}
	return gp.UserID(by), err
}

//PostOwners looks up the authors of all the live posts among ids in one query. Missing or deleted posts are absent from the result.
func (db *DB) PostOwners(ctx context.Context, ids ...gp.PostID) (owners map[gp.PostID]gp.UserID, err error) {
	owners = make(map[gp.PostID]gp.UserID, len(ids))
	if len(ids) == 0 {
		return
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	q := "SELECT id, `by` FROM wall_posts WHERE deleted = 0 AND id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var id, by string
		if err = rows.Scan(&id, &by); err != nil {
			return
		}
		owners[gp.PostID(id)] = gp.UserID(by)
	}
	return owners, rows.Err()
}
