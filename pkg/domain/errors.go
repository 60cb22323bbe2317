package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrSnippetNotFound    = NewErr("SNIPPET_NOT_FOUND", "snippet not found", http.StatusNotFound)
	ErrStoreUnavailable   = NewErr("STORE_UNAVAILABLE", "snippet store unavailable", http.StatusServiceUnavailable)
	ErrIDConflict         = NewErr("ID_CONFLICT", "identifier already in use", http.StatusInternalServerError)
	ErrFilesRequired      = NewErr("FILES_REQUIRED", "at least one file is required", http.StatusBadRequest)
	ErrTooManyFiles       = NewErr("TOO_MANY_FILES", "too many files", http.StatusBadRequest)
	ErrInvalidFileName    = NewErr("INVALID_FILE_NAME", "invalid file name", http.StatusBadRequest)
	ErrInvalidContent     = NewErr("INVALID_CONTENT", "file content must be valid UTF-8", http.StatusBadRequest)
	ErrSnippetTooLarge    = NewErr("SNIPPET_TOO_LARGE", "snippet too large", http.StatusRequestEntityTooLarge)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrChallengeFailed    = NewErr("CHALLENGE_FAILED", "verification failed", http.StatusForbidden)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "too many shares, try again in a minute", http.StatusTooManyRequests)
	ErrTooManyReads       = NewErr("TOO_MANY_REQUESTS", "too many requests", http.StatusTooManyRequests)
	ErrShareFailed        = NewErr("SHARE_FAILED", "failed to share snippet", http.StatusInternalServerError)
	ErrFetchFailed        = NewErr("FETCH_FAILED", "failed to fetch snippet", http.StatusServiceUnavailable)
	ErrUnauthorized       = NewErr("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
	ErrServiceStopping    = NewErr("SERVICE_STOPPING", "service shutting down", http.StatusServiceUnavailable)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// StoreError tags a failed store operation so callers can tell a retriable
// outage apart from a definitive ErrSnippetNotFound.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
func (e *StoreError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + ErrStoreUnavailable.Msg
	}
	return e.Op + ": " + e.Err.Error()
}
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Cause() error  { return ErrStoreUnavailable }
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func AsErr(err error) (*Err, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Err); ok {
		return e, true
	}
	var se *StoreError
	if errors.As(err, &se) {
		return ErrStoreUnavailable, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
func ToResp(err error) ErrResp {
	if e, ok := AsErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}
func Status(err error) int {
	if e, ok := AsErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
