package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/license/domain"
	obslogger "github.com/smallbiznis/hwlicense/internal/observability/logger"
	"github.com/smallbiznis/hwlicense/internal/observability/metrics"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"github.com/smallbiznis/hwlicense/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxCASAttempts    = 3
	maxCreateAttempts = 5
	day               = 24 * time.Hour
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         config.Config
	Repo           domain.Repository
	Audit          auditdomain.Service     `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	LicenseMetrics *metrics.LicenseMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	audit          auditdomain.Service
	metrics        *metrics.Metrics
	licenseMetrics *metrics.LicenseMetrics
	keygen         domain.KeyGenerator
	binding        domain.BindingPolicy
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("license.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		audit:          p.Audit,
		metrics:        p.Metrics,
		licenseMetrics: p.LicenseMetrics,
		keygen:         domain.NewKeyGenerator(p.Config.License.KeyPrefix),
	}
}

func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (domain.ActivateResult, error) {
	key, err := domain.NormalizeKey(req.LicenseKey)
	if err != nil {
		return domain.ActivateResult{}, err
	}
	hwid, err := domain.NormalizeHWID(req.HWID)
	if err != nil {
		return domain.ActivateResult{}, err
	}
	log := obslogger.WithLicense(obslogger.WithContext(ctx, s.log), key)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.loadByKey(ctx, key, "activate")
		if err != nil {
			s.recordActivation(ctx, nil, key, err)
			return domain.ActivateResult{}, err
		}
		now := s.now()

		if current.Status != domain.StatusActive {
			s.recordActivation(ctx, current, key, domain.ErrInactive)
			return domain.ActivateResult{}, domain.ErrInactive
		}

		decision := s.binding.Evaluate(current, hwid)
		if decision == domain.Conflict {
			s.recordActivation(ctx, current, key, domain.ErrHwidConflict)
			return domain.ActivateResult{}, domain.ErrHwidConflict
		}

		if current.PastExpiry(now) {
			err := s.expire(ctx, current, now, "activate")
			if errors.Is(err, domain.ErrStale) {
				continue
			}
			if err != nil {
				return domain.ActivateResult{}, err
			}
			s.recordActivation(ctx, current, key, domain.ErrExpired)
			return domain.ActivateResult{}, domain.ErrExpired
		}

		if decision == domain.Match {
			if current.ExpiresAt == nil {
				return domain.ActivateResult{}, fmt.Errorf("license %s bound without expiry", current.ID)
			}
			s.metrics.RecordActivation(ctx, "idempotent")
			s.writeEvent(ctx, current, auditdomain.ActionReactivated, auditdomain.OutcomeSuccess, "", map[string]any{"hwid": hwid})
			return domain.ActivateResult{ExpiresAt: *current.ExpiresAt, Days: current.Days}, nil
		}

		next := current.Clone()
		expiresAt := now.Add(time.Duration(next.Days) * day)
		next.HWID = &hwid
		next.ActivatedAt = &now
		next.ExpiresAt = &expiresAt
		next.UpdatedAt = now

		err = s.repo.CompareAndSwap(ctx, s.db, next, current.Version)
		if errors.Is(err, domain.ErrStale) {
			s.licenseMetrics.RecordCASConflict("activate")
			log.Debug("activation lost compare-and-swap, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			s.licenseMetrics.RecordStoreError("activate", err)
			return domain.ActivateResult{}, fmt.Errorf("activate license: %w", err)
		}

		s.licenseMetrics.RecordTransition("new", "activated")
		s.metrics.RecordActivation(ctx, "success")
		s.writeEvent(ctx, next, auditdomain.ActionActivated, auditdomain.OutcomeSuccess, "", map[string]any{
			"hwid":       hwid,
			"days":       next.Days,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
		log.Info("license activated", zap.Time("expires_at", expiresAt))
		return domain.ActivateResult{ExpiresAt: expiresAt, Days: next.Days, FirstActivation: true}, nil
	}

	s.metrics.RecordActivation(ctx, "error")
	return domain.ActivateResult{}, fmt.Errorf("activate license: %w", domain.ErrStale)
}

func (s *Service) CheckValid(ctx context.Context, req domain.CheckRequest) (domain.CheckResult, error) {
	key, err := domain.NormalizeKey(req.LicenseKey)
	if err != nil {
		return domain.CheckResult{}, err
	}
	hwid, err := domain.NormalizeHWID(req.HWID)
	if err != nil {
		return domain.CheckResult{}, err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.loadByKey(ctx, key, "check")
		if errors.Is(err, domain.ErrNotFound) {
			return s.invalid(ctx, nil, key, domain.ErrNotFound), nil
		}
		if err != nil {
			s.metrics.RecordCheck(ctx, "error")
			return domain.CheckResult{}, err
		}
		now := s.now()

		switch current.Status {
		case domain.StatusActive:
		case domain.StatusExpired:
			return s.invalid(ctx, current, key, domain.ErrExpired), nil
		default:
			return s.invalid(ctx, current, key, domain.ErrInactive), nil
		}

		if s.binding.Evaluate(current, hwid) == domain.Conflict {
			return s.invalid(ctx, current, key, domain.ErrHwidConflict), nil
		}

		if current.PastExpiry(now) {
			err := s.expire(ctx, current, now, "check")
			if errors.Is(err, domain.ErrStale) {
				continue
			}
			if err != nil {
				s.metrics.RecordCheck(ctx, "error")
				return domain.CheckResult{}, err
			}
			return s.invalid(ctx, current, key, domain.ErrExpired), nil
		}

		next := current.Clone()
		next.LastCheck = &now
		next.UpdatedAt = now
		err = s.repo.CompareAndSwap(ctx, s.db, next, current.Version)
		if errors.Is(err, domain.ErrStale) {
			s.licenseMetrics.RecordCASConflict("check")
			continue
		}
		if err != nil {
			s.licenseMetrics.RecordStoreError("check", err)
			s.metrics.RecordCheck(ctx, "error")
			return domain.CheckResult{}, fmt.Errorf("record license check: %w", err)
		}

		s.metrics.RecordCheck(ctx, "valid")
		return domain.CheckResult{
			Valid:     true,
			ExpiresAt: next.ExpiresAt,
			DaysLeft:  next.DaysLeft(now),
			License:   next,
		}, nil
	}

	s.metrics.RecordCheck(ctx, "error")
	return domain.CheckResult{}, fmt.Errorf("check license: %w", domain.ErrStale)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.License, error) {
	days := req.Days
	if days == 0 {
		days = domain.DefaultDays
	}
	if days < 1 || days > domain.MaxDays {
		return nil, domain.ErrInvalidDays
	}
	note := strings.TrimSpace(req.Note)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		key, err := s.keygen.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}
		now := s.now()
		l := &domain.License{
			ID:         s.genID.Generate(),
			LicenseKey: key,
			Days:       days,
			Status:     domain.StatusActive,
			Note:       note,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = s.repo.Insert(ctx, s.db, l)
		if db.IsDuplicateKeyErr(err) {
			s.log.Warn("license key collision, regenerating", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			s.licenseMetrics.RecordStoreError("create", err)
			return nil, fmt.Errorf("insert license: %w", err)
		}

		s.licenseMetrics.RecordTransition("none", "active")
		s.writeEvent(ctx, l, auditdomain.ActionCreated, auditdomain.OutcomeSuccess, "", map[string]any{"days": days})
		obslogger.WithLicense(obslogger.WithContext(ctx, s.log), key).Info("license created", zap.Int("days", days))
		return l, nil
	}

	return nil, domain.ErrKeySpaceExhausted
}

func (s *Service) Revoke(ctx context.Context, id snowflake.ID) (*domain.License, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			s.licenseMetrics.RecordStoreError("revoke", err)
			return nil, fmt.Errorf("load license: %w", err)
		}
		if current == nil {
			return nil, domain.ErrNotFound
		}
		if current.Status != domain.StatusActive {
			return current, nil
		}

		now := s.now()
		next := current.Clone()
		next.Status = domain.StatusRevoked
		next.UpdatedAt = now
		err = s.repo.CompareAndSwap(ctx, s.db, next, current.Version)
		if errors.Is(err, domain.ErrStale) {
			s.licenseMetrics.RecordCASConflict("revoke")
			continue
		}
		if err != nil {
			s.licenseMetrics.RecordStoreError("revoke", err)
			return nil, fmt.Errorf("revoke license: %w", err)
		}

		s.licenseMetrics.RecordTransition(string(domain.StatusActive), string(domain.StatusRevoked))
		s.writeEvent(ctx, next, auditdomain.ActionRevoked, auditdomain.OutcomeSuccess, "", nil)
		return next, nil
	}

	return nil, fmt.Errorf("revoke license: %w", domain.ErrStale)
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		s.licenseMetrics.RecordStoreError("delete", err)
		return fmt.Errorf("load license: %w", err)
	}
	if current == nil {
		return domain.ErrNotFound
	}

	deleted, err := s.repo.Delete(ctx, s.db, id)
	if err != nil {
		s.licenseMetrics.RecordStoreError("delete", err)
		return fmt.Errorf("delete license: %w", err)
	}
	if !deleted {
		return domain.ErrNotFound
	}

	s.licenseMetrics.RecordTransition(string(current.Status), "deleted")
	s.writeEvent(ctx, current, auditdomain.ActionDeleted, auditdomain.OutcomeSuccess, "", nil)
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	status := strings.TrimSpace(req.Status)
	switch domain.Status(status) {
	case "", domain.StatusActive, domain.StatusExpired, domain.StatusRevoked:
	default:
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status: status,
		Cursor: cursor,
		Limit:  pageSize,
	})
	if err != nil {
		s.licenseMetrics.RecordStoreError("list", err)
		return domain.ListResponse{}, fmt.Errorf("list licenses: %w", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.License) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	licenses := make([]domain.License, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		licenses = append(licenses, *item)
	}

	resp := domain.ListResponse{Licenses: licenses}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	stats, err := s.repo.Stats(ctx, s.db)
	if err != nil {
		s.licenseMetrics.RecordStoreError("stats", err)
		return domain.Stats{}, fmt.Errorf("license stats: %w", err)
	}
	return stats, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(clock.Precision)
}

func (s *Service) loadByKey(ctx context.Context, key, op string) (*domain.License, error) {
	current, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		s.licenseMetrics.RecordStoreError(op, err)
		return nil, fmt.Errorf("load license: %w", err)
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	return current, nil
}

// expire persists the lazy active -> expired transition. Only the caller
// whose compare-and-swap lands records the transition.
func (s *Service) expire(ctx context.Context, current *domain.License, now time.Time, op string) error {
	next := current.Clone()
	next.Status = domain.StatusExpired
	next.UpdatedAt = now

	err := s.repo.CompareAndSwap(ctx, s.db, next, current.Version)
	if errors.Is(err, domain.ErrStale) {
		s.licenseMetrics.RecordCASConflict(op)
		return err
	}
	if err != nil {
		s.licenseMetrics.RecordStoreError(op, err)
		return fmt.Errorf("expire license: %w", err)
	}

	s.licenseMetrics.RecordTransition(string(domain.StatusActive), string(domain.StatusExpired))
	s.writeEvent(ctx, next, auditdomain.ActionExpired, auditdomain.OutcomeSuccess, "", map[string]any{"trigger": op})
	obslogger.WithLicense(obslogger.WithContext(ctx, s.log), current.LicenseKey).Info("license expired")
	return nil
}

// invalid reports a rejected check. Only foreign-device rejections reach the
// history; routine checks update last_check and expiry writes its own event.
func (s *Service) invalid(ctx context.Context, current *domain.License, key string, reason error) domain.CheckResult {
	s.metrics.RecordCheck(ctx, reason.Error())
	if errors.Is(reason, domain.ErrHwidConflict) {
		s.writeEvent(ctx, current, auditdomain.ActionChecked, auditdomain.OutcomeFailure, reason.Error(), nil)
	}
	if current == nil {
		obslogger.WithLicense(obslogger.WithContext(ctx, s.log), key).Debug("license check rejected", zap.String("reason", reason.Error()))
	}
	return domain.CheckResult{Valid: false, Reason: reason, License: current}
}

func (s *Service) recordActivation(ctx context.Context, current *domain.License, key string, reason error) {
	outcome := "error"
	if domain.IsOutcome(reason) {
		outcome = reason.Error()
	}
	s.metrics.RecordActivation(ctx, outcome)
	if !domain.IsOutcome(reason) {
		return
	}
	s.writeEvent(ctx, current, auditdomain.ActionRejected, auditdomain.OutcomeFailure, reason.Error(), nil)
	obslogger.WithLicense(obslogger.WithContext(ctx, s.log), key).Info("activation rejected", zap.String("reason", reason.Error()))
}

// writeEvent appends to the license history. The transition has already been
// acknowledged, so failures are logged and dropped.
func (s *Service) writeEvent(ctx context.Context, l *domain.License, action, outcome, reason string, metadata map[string]any) {
	if s.audit == nil || l == nil {
		return
	}
	id := l.ID
	err := s.audit.Record(ctx, auditdomain.Entry{
		LicenseID:  &id,
		LicenseKey: l.LicenseKey,
		Action:     action,
		Outcome:    outcome,
		Reason:     reason,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("license event dropped", zap.String("action", action), zap.Error(err))
	}
}
