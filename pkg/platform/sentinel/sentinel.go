package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: natural-key or version collision on write
// - ErrKeyMismatch: AEAD authentication failed (wrong master key or corrupt ciphertext)
// - ErrExpired: pending signature or credential past its deadline
// - ErrTimeout: bounded external fetch ran out of time
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrKeyMismatch = errors.New("key mismatch")
	ErrExpired     = errors.New("expired")
	ErrTimeout     = errors.New("timeout")
	ErrUnavailable = errors.New("unavailable")
)
