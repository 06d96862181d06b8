package domain

import (
	"context"
	"time"
)

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID string, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
