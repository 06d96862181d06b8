package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	"github.com/smallbiznis/hwlicense/internal/audit/masking"
	"github.com/smallbiznis/hwlicense/internal/clock"
	obscontext "github.com/smallbiznis/hwlicense/internal/observability/context"
	"github.com/smallbiznis/hwlicense/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Metadata keys that never reach the event table in clear text.
var sensitiveMetadataKeys = []string{"hwid", "requested_hwid", "bound_hwid", "proof", "token"}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	outcome := strings.TrimSpace(entry.Outcome)
	if outcome == "" {
		outcome = auditdomain.OutcomeSuccess
	}

	actorType, actorID := s.resolveActor(ctx, entry.ActorType, entry.ActorID)

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	event := auditdomain.Event{
		ID:         s.genID.Generate(),
		LicenseID:  entry.LicenseID,
		LicenseKey: strings.TrimSpace(entry.LicenseKey),
		Action:     action,
		Outcome:    outcome,
		Reason:     optionalString(entry.Reason),
		ActorType:  actorType,
		ActorID:    optionalString(actorID),
		IPAddress:  optionalString(obscontext.ClientIPFromContext(ctx)),
		UserAgent:  optionalString(obscontext.UserAgentFromContext(ctx)),
		CreatedAt:  s.clock.Now(),
	}
	if masked := masking.MaskJSON(payload, sensitiveMetadataKeys...); len(masked) > 0 {
		event.Metadata = datatypes.JSONMap(masked)
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		s.log.Warn("failed to write license event", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListEventsRequest) (auditdomain.ListEventsResponse, error) {
	if req.LicenseID == 0 {
		return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidLicense
	}

	var cursor *auditdomain.EventCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.EventCursor{
			ID:        id,
			CreatedAt: createdAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		LicenseID: req.LicenseID,
		Action:    req.Action,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return auditdomain.ListEventsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.Event) string {
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

	events := make([]auditdomain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	resp := auditdomain.ListEventsResponse{Events: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, string) {
	if actorType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			actorType = auditdomain.ActorType(ctxType)
			if strings.TrimSpace(actorID) == "" {
				actorID = ctxID
			}
		}
	}
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	return string(actorType), strings.TrimSpace(actorID)
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
