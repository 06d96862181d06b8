package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/download/mocks"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLicenses struct {
	licensedomain.Service
	result licensedomain.CheckResult
	err    error
	calls  int
}

func (s *stubLicenses) CheckValid(_ context.Context, _ licensedomain.CheckRequest) (licensedomain.CheckResult, error) {
	s.calls++
	return s.result, s.err
}

func newTestService(t *testing.T, licenses licensedomain.Service, presigner Presigner, timeout time.Duration) (*Service, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Log:   zap.NewNop(),
		Clock: fake,
		Config: config.Config{Storage: config.StorageConfig{
			Bucket:    "releases",
			ObjectKey: "bot.exe",
			URLTTL:    15 * time.Minute,
			Timeout:   timeout,
		}},
		Licenses:  licenses,
		Presigner: presigner,
	})
	return svc, fake
}

func TestGetDownloadLinkValidLicense(t *testing.T) {
	ctrl := gomock.NewController(t)
	presigner := mocks.NewMockPresigner(ctrl)
	presigner.EXPECT().
		PresignGet(gomock.Any(), "releases", "bot.exe", 15*time.Minute).
		Return("https://releases.example/bot.exe?sig=abc", nil)

	licenses := &stubLicenses{result: licensedomain.CheckResult{Valid: true, DaysLeft: 10}}
	svc, fake := newTestService(t, licenses, presigner, 5*time.Second)

	link, err := svc.GetDownloadLink(context.Background(), LinkRequest{LicenseKey: "TIR-1", HWID: "hw"})
	require.NoError(t, err)
	assert.Equal(t, "https://releases.example/bot.exe?sig=abc", link.URL)
	assert.Equal(t, fake.Now().Add(15*time.Minute), link.ExpiresAt)
	assert.Equal(t, 1, licenses.calls)
}

func TestGetDownloadLinkInvalidLicenseSkipsStorage(t *testing.T) {
	for _, reason := range []error{
		licensedomain.ErrNotFound,
		licensedomain.ErrInactive,
		licensedomain.ErrHwidConflict,
		licensedomain.ErrExpired,
	} {
		t.Run(reason.Error(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			presigner := mocks.NewMockPresigner(ctrl)
			presigner.EXPECT().PresignGet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			licenses := &stubLicenses{result: licensedomain.CheckResult{Valid: false, Reason: reason}}
			svc, _ := newTestService(t, licenses, presigner, 5*time.Second)

			_, err := svc.GetDownloadLink(context.Background(), LinkRequest{LicenseKey: "TIR-1", HWID: "hw"})
			assert.ErrorIs(t, err, reason)
		})
	}
}

func TestGetDownloadLinkStoreFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	presigner := mocks.NewMockPresigner(ctrl)
	storeErr := errors.New("database is locked")

	svc, _ := newTestService(t, &stubLicenses{err: storeErr}, presigner, 5*time.Second)
	_, err := svc.GetDownloadLink(context.Background(), LinkRequest{LicenseKey: "TIR-1", HWID: "hw"})
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetDownloadLinkUpstreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	presigner := mocks.NewMockPresigner(ctrl)
	presigner.EXPECT().
		PresignGet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("credentials expired"))

	svc, _ := newTestService(t, &stubLicenses{result: licensedomain.CheckResult{Valid: true}}, presigner, 5*time.Second)
	_, err := svc.GetDownloadLink(context.Background(), LinkRequest{LicenseKey: "TIR-1", HWID: "hw"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.NotContains(t, err.Error(), "TIR-1")
}

func TestGetDownloadLinkTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	presigner := mocks.NewMockPresigner(ctrl)
	presigner.EXPECT().
		PresignGet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string, _ time.Duration) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	svc, _ := newTestService(t, &stubLicenses{result: licensedomain.CheckResult{Valid: true}}, presigner, 20*time.Millisecond)

	start := time.Now()
	_, err := svc.GetDownloadLink(context.Background(), LinkRequest{LicenseKey: "TIR-1", HWID: "hw"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}
