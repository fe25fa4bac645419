package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound covers unknown and expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageUnavailable is a backend failure; callers must not treat
	// it as a missing session.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrIllegalMove is returned before any state changes.
	ErrIllegalMove = errors.New("illegal move")
	// ErrGameOver rejects moves on finished games.
	ErrGameOver = errors.New("game is already over")
)

// Store persists sessions by id. Implementations with an expiry refresh it
// on both Get and Save, so active sessions never expire mid-game.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}
