package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/gomodule/redigo/redis"
)

/********************************************************************
		Views
********************************************************************/

//viewsKey is the set of users who've seen post.
func (c *Cache) viewsKey(post gp.PostID) string {
	return fmt.Sprintf("%s:%s:views", c.config.KeyPrefix, post)
}

//postFromKey is the inverse of viewsKey.
func (c *Cache) postFromKey(key string) (post gp.PostID, ok bool) {
	prefix := c.config.KeyPrefix + ":"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ":views") {
		return "", false
	}
	id := key[len(prefix) : len(key)-len(":views")]
	if id == "" {
		return "", false
	}
	return gp.PostID(id), true
}

func (c *Cache) ttlSeconds() int64 {
	return int64(c.ttl.Seconds())
}

//AddViewer records that user has seen post and pushes the set's expiry back to a full TTL.
//It returns true only if user wasn't already in the set.
func (c *Cache) AddViewer(ctx context.Context, post gp.PostID, user gp.UserID) (added bool, err error) {
	key := c.viewsKey(post)
	reply, err := c.do(ctx, "add_viewer", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		conn.Send("SADD", key, string(user))
		conn.Send("EXPIRE", key, c.ttlSeconds())
		return redis.DoContext(conn, ctx, "")
	})
	if err != nil {
		return false, err
	}
	replies, err := redis.Values(reply, nil)
	if err != nil {
		return false, err
	}
	n, err := redis.Int(replies[0], nil)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

//HasViewer reports whether user is in post's view set.
func (c *Cache) HasViewer(ctx context.Context, post gp.PostID, user gp.UserID) (bool, error) {
	return redis.Bool(c.do(ctx, "has_viewer", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, "SISMEMBER", c.viewsKey(post), string(user))
	}))
}

//ViewCount is the size of post's view set; 0 if there isn't one.
func (c *Cache) ViewCount(ctx context.Context, post gp.PostID) (int, error) {
	return redis.Int(c.do(ctx, "view_count", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, "SCARD", c.viewsKey(post))
	}))
}

//Viewers returns every user in post's view set.
func (c *Cache) Viewers(ctx context.Context, post gp.PostID) (viewers []gp.UserID, err error) {
	members, err := redis.Strings(c.do(ctx, "viewers", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, "SMEMBERS", c.viewsKey(post))
	}))
	if err != nil {
		return
	}
	viewers = make([]gp.UserID, len(members))
	for i, m := range members {
		viewers[i] = gp.UserID(m)
	}
	return viewers, nil
}

//SeedViewers adds users to post's view set without counting them as new views.
//A set that already has an expiry keeps it; a set created here gets a full TTL.
func (c *Cache) SeedViewers(ctx context.Context, post gp.PostID, users ...gp.UserID) error {
	if len(users) == 0 {
		return nil
	}
	key := c.viewsKey(post)
	args := make([]interface{}, 0, len(users)+1)
	args = append(args, key)
	for _, u := range users {
		args = append(args, string(u))
	}
	_, err := c.do(ctx, "seed_viewers", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		conn.Send("SADD", args...)
		conn.Send("TTL", key)
		replies, err := redis.Values(redis.DoContext(conn, ctx, ""))
		if err != nil {
			return nil, err
		}
		ttl, err := redis.Int64(replies[1], nil)
		if err != nil {
			return nil, err
		}
		if ttl < 0 {
			return redis.DoContext(conn, ctx, "EXPIRE", key, c.ttlSeconds())
		}
		return replies, nil
	})
	return err
}

//ViewsCached reports, for each post, whether it currently has a view set.
func (c *Cache) ViewsCached(ctx context.Context, posts ...gp.PostID) (cached map[gp.PostID]bool, err error) {
	cached = make(map[gp.PostID]bool, len(posts))
	if len(posts) == 0 {
		return
	}
	reply, err := c.do(ctx, "views_cached", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		for _, p := range posts {
			conn.Send("EXISTS", c.viewsKey(p))
		}
		return redis.DoContext(conn, ctx, "")
	})
	if err != nil {
		return nil, err
	}
	replies, err := redis.Values(reply, nil)
	if err != nil {
		return nil, err
	}
	for i, p := range posts {
		n, _ := redis.Int(replies[i], nil)
		cached[p] = n > 0
	}
	return cached, nil
}

//DeleteViews drops post's view set immediately.
func (c *Cache) DeleteViews(ctx context.Context, post gp.PostID) error {
	_, err := c.do(ctx, "delete_views", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, "DEL", c.viewsKey(post))
	})
	return err
}

//ViewKeys lists every post which currently has a view set.
//It walks the keyspace with SCAN so redis isn't blocked; sets created or expiring during the walk may or may not be included.
func (c *Cache) ViewKeys(ctx context.Context) (posts []gp.PostID, err error) {
	pattern := c.config.KeyPrefix + ":*:views"
	_, err = c.do(ctx, "view_keys", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		seen := make(map[string]bool)
		cursor := int64(0)
		for {
			values, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", 500))
			if err != nil {
				return nil, err
			}
			if len(values) != 2 {
				return nil, fmt.Errorf("unexpected SCAN reply of length %d", len(values))
			}
			cursor, err = redis.Int64(values[0], nil)
			if err != nil {
				return nil, err
			}
			keys, err := redis.Strings(values[1], nil)
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				if seen[k] {
					continue
				}
				seen[k] = true
				if post, ok := c.postFromKey(k); ok {
					posts = append(posts, post)
				}
			}
			if cursor == 0 {
				return nil, nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

//AddViewersBatch adds every view in one round trip: an SADD and an EXPIRE per view, in order.
//added[i] is true only if views[i] was new. A view whose command failed (eg the key holds the wrong type) is reported as false;
//only failing to reach redis at all fails the whole batch.
func (c *Cache) AddViewersBatch(ctx context.Context, views []gp.PostView) (added []bool, err error) {
	added = make([]bool, len(views))
	if len(views) == 0 {
		return
	}
	reply, err := c.do(ctx, "add_viewers_batch", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		for _, v := range views {
			key := c.viewsKey(v.Post)
			conn.Send("SADD", key, string(v.User))
			conn.Send("EXPIRE", key, c.ttlSeconds())
		}
		return redis.DoContext(conn, ctx, "")
	})
	if err != nil {
		return nil, err
	}
	replies, err := redis.Values(reply, nil)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if 2*i >= len(replies) {
			break
		}
		n, err := redis.Int(replies[2*i], nil)
		added[i] = err == nil && n == 1
	}
	return added, nil
}

//PublishViewCounts broadcasts each post's new view count on its view channel.
func (c *Cache) PublishViewCounts(ctx context.Context, counts ...gp.PostViewCount) error {
	if len(counts) == 0 {
		return nil
	}
	_, err := c.do(ctx, "publish_view_counts", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		for _, cnt := range counts {
			event := gp.Event{Type: "views", Location: "/posts/" + string(cnt.Post), Data: cnt}
			JSONview, err := json.Marshal(event)
			if err != nil {
				return nil, err
			}
			conn.Send("PUBLISH", PostViewChannel(cnt.Post), JSONview)
		}
		return redis.DoContext(conn, ctx, "")
	})
	return err
}

//PostViewChannel returns the name of the channel for this post's events
func PostViewChannel(post gp.PostID) string {
	return fmt.Sprintf("posts.%s.views", post)
}
