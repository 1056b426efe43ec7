package gp

import "time"

//PostView represents a user who has viewed a particular post at a particular time.
type PostView struct {
	User UserID    `json:"user,omitempty"`
	Post PostID    `json:"post"`
	Time time.Time `json:"time,omitempty"`
}

//PostViewCount is the number of distinct users who've seen a post.
type PostViewCount struct {
	Post  PostID `json:"post,omitempty"`
	Count int    `json:"views"`
}

//ViewResult is the outcome of registering a single view.
type ViewResult struct {
	Counted bool `json:"counted"`
	Views   int  `json:"views"`
}

//BatchResult is the outcome of registering a batch of views.
//Processed is the number of views that were new; Posts are the posts that received at least one of them.
type BatchResult struct {
	Processed int      `json:"processed"`
	Posts     []PostID `json:"posts"`
}

//SyncReport summarises one pass of the view syncer.
type SyncReport struct {
	ID         string        `json:"id,omitempty"`
	InProgress bool          `json:"in_progress,omitempty"`
	Keys       int           `json:"keys"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Orphans    int           `json:"orphans"`
	Appended   int           `json:"appended"`
	Seeded     int           `json:"seeded"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
