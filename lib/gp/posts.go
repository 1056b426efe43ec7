package gp

import "time"

//PostCore is the minimal view of a post needed to decide whether a view counts: who wrote it and whether it's still around.
type PostCore struct {
	ID      PostID    `json:"id"`
	By      UserID    `json:"by"`
	Text    string    `json:"text,omitempty"`
	Time    time.Time `json:"timestamp"`
	Deleted bool      `json:"-"`
}
