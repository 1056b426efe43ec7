//Package gp contains the core datatypes in Gleepost.
package gp

import "errors"

//UserID is self explanatory.
type UserID string

//PostID uniquely identifies a post.
type PostID string

//APIerror is a JSON-ified error.
type APIerror struct {
	Reason string `json:"error"`
}

//Error - implements the error interface.
func (e APIerror) Error() string {
	return e.Reason
}

//ENOSUCHPOST is returned when a post doesn't exist, or has been deleted.
var ENOSUCHPOST = APIerror{Reason: "No such post"}

//EBATCHTOOLARGE is returned when a client submits more views in one go than the configured limit.
var EBATCHTOOLARGE = APIerror{Reason: "Too many views in one batch"}

//ErrCacheUnavailable means the view cache couldn't be reached; the caller may retry.
//Errors returned for this reason wrap it, so check with errors.Is.
var ErrCacheUnavailable = APIerror{Reason: "View cache unavailable, try again"}

//IsRetryable reports whether err is a transient failure the client should retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable)
}

//Event is a JSON-encodable event for consumption over websocket.
type Event struct {
	Type     string      `json:"type"`
	Location string      `json:"location,omitempty"`
	Data     interface{} `json:"data"`
}
