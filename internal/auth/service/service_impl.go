package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/hwlicense/internal/auth/domain"
	"github.com/smallbiznis/hwlicense/internal/auth/password"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sessionTokenBytes = 32

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	SessionRepo domain.SessionRepository
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	sessionRepo  domain.SessionRepository
	username     string
	passwordHash string
	sessionTTL   time.Duration
}

func New(p Params) (domain.Service, error) {
	admin := p.Config.Admin
	username := strings.TrimSpace(admin.Username)
	if username == "" {
		return nil, errors.New("admin username is required")
	}

	hash := strings.TrimSpace(admin.PasswordHash)
	if hash != "" {
		if err := password.Validate(hash); err != nil {
			return nil, fmt.Errorf("ADMIN_PASSWORD_HASH: %w", err)
		}
	} else {
		if admin.Password == "" {
			return nil, errors.New("admin password is required")
		}
		hashed, err := password.Hash(admin.Password)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		hash = hashed
	}

	return &Service{
		log:          p.Log.Named("auth.service"),
		clock:        p.Clock,
		sessionRepo:  p.SessionRepo,
		username:     username,
		passwordHash: hash,
		sessionTTL:   admin.SessionTTL,
	}, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	// Both checks always run so a wrong username costs the same as a wrong password.
	userOK := subtle.ConstantTimeCompare(digest(username), digest(s.username)) == 1
	passOK := password.Verify(req.Password, s.passwordHash)
	if !userOK || !passOK {
		s.log.Info("admin login rejected", zap.String("ip_address", req.IPAddress))
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:         ulid.Make().String(),
		TokenHash:  hashToken(rawToken),
		Username:   s.username,
		UserAgent:  strings.TrimSpace(req.UserAgent),
		IPAddress:  strings.TrimSpace(req.IPAddress),
		ExpiresAt:  now.Add(s.sessionTTL),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if removed, err := s.sessionRepo.DeleteExpired(ctx, now); err != nil {
		s.log.Warn("failed to prune admin sessions", zap.Error(err))
	} else if removed > 0 {
		s.log.Debug("pruned admin sessions", zap.Int64("removed", removed))
	}

	s.log.Info("admin logged in", zap.String("session_id", session.ID), zap.String("ip_address", session.IPAddress))
	return &domain.LoginResult{
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
		Username:  session.Username,
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	err = s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.LastSeenAt = now
	return session, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func digest(value string) []byte {
	sum := sha256.Sum256([]byte(value))
	return sum[:]
}
