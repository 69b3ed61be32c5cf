package store

import "errors"

var (
	ErrSlotTaken           = errors.New("slot taken")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)
