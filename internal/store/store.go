// Package store is the persistence boundary for listening sessions and their
// audio chunks. Callers make a single attempt per call: failures are logged
// upstream and never retried or surfaced to a peer.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one listening episode as persisted.
type Session struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	Recording       bool       `json:"recording"`
	BatteryLevel    *int       `json:"battery_level,omitempty"`
}

// SessionUpdate is a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	EndedAt         *time.Time
	DurationSeconds *int
	Recording       *bool
	BatteryLevel    *int
}

// Store persists sessions and append-only audio chunks. Session ids are
// generated by the store on creation.
type Store interface {
	CreateSession(ctx context.Context, startedAt time.Time) (string, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error
	AppendChunk(ctx context.Context, sessionID string, order int64, payload []byte, receivedAt time.Time) error
	// ListRecentSessions returns up to limit sessions, most recent first.
	ListRecentSessions(ctx context.Context, limit int) ([]Session, error)
	Close() error
}
