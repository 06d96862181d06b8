package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	obslogger "github.com/smallbiznis/hwlicense/internal/observability/logger"
	"github.com/smallbiznis/hwlicense/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrUpstreamUnavailable hides object storage failures from clients.
var ErrUpstreamUnavailable = errors.New("upstream_unavailable")

type LinkRequest struct {
	LicenseKey string
	HWID       string
}

type Link struct {
	URL       string    `json:"download_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	Licenses  licensedomain.Service
	Presigner Presigner
	Audit     auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
}

// Service hands out presigned URLs to holders of a currently valid license.
type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	licenses  licensedomain.Service
	presigner Presigner
	audit     auditdomain.Service
	metrics   *metrics.Metrics
	bucket    string
	object    string
	ttl       time.Duration
	timeout   time.Duration
}

func NewService(p Params) *Service {
	return &Service{
		log:       p.Log.Named("download.service"),
		clock:     p.Clock,
		licenses:  p.Licenses,
		presigner: p.Presigner,
		audit:     p.Audit,
		metrics:   p.Metrics,
		bucket:    p.Config.Storage.Bucket,
		object:    p.Config.Storage.ObjectKey,
		ttl:       p.Config.Storage.URLTTL,
		timeout:   p.Config.Storage.Timeout,
	}
}

// GetDownloadLink runs the same gate as a validity check, including the lazy
// expiry and last_check update, and only then contacts object storage.
func (s *Service) GetDownloadLink(ctx context.Context, req LinkRequest) (Link, error) {
	check, err := s.licenses.CheckValid(ctx, licensedomain.CheckRequest{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
	})
	if err != nil {
		s.metrics.RecordDownloadLink(ctx, "error")
		return Link{}, err
	}
	if !check.Valid {
		s.metrics.RecordDownloadLink(ctx, check.Reason.Error())
		return Link{}, check.Reason
	}

	presignCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	issuedAt := s.clock.Now()
	url, err := s.presigner.PresignGet(presignCtx, s.bucket, s.object, s.ttl)
	if err != nil {
		obslogger.WithLicense(obslogger.WithContext(ctx, s.log), req.LicenseKey).Error("presign failed",
			zap.String("bucket", s.bucket),
			zap.String("object", s.object),
			zap.Error(err),
		)
		s.metrics.RecordDownloadLink(ctx, "upstream_unavailable")
		return Link{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.metrics.RecordDownloadLink(ctx, "success")
	if s.audit != nil && check.License != nil {
		id := check.License.ID
		if err := s.audit.Record(ctx, auditdomain.Entry{
			LicenseID:  &id,
			LicenseKey: check.License.LicenseKey,
			Action:     auditdomain.ActionDownloadLink,
			Outcome:    auditdomain.OutcomeSuccess,
			Metadata:   map[string]any{"object": s.object},
		}); err != nil {
			s.log.Warn("license event dropped", zap.String("action", auditdomain.ActionDownloadLink), zap.Error(err))
		}
	}

	return Link{URL: url, ExpiresAt: issuedAt.Add(s.ttl)}, nil
}
