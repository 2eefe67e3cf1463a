package store

import "errors"

var (
	ErrItemNotFound      = errors.New("store: data item not found")
	ErrPlanNotFound      = errors.New("store: bundle plan not found")
	ErrBundleTxNotFound  = errors.New("store: bundle transaction not found")
	ErrOffsetNotFound    = errors.New("store: offset record not found")
	ErrSessionNotFound   = errors.New("store: multipart session not found")
	ErrCursorNotFound    = errors.New("store: worker cursor not found")
)
