package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	"github.com/smallbiznis/hwlicense/internal/audit/repository"
	"github.com/smallbiznis/hwlicense/internal/clock"
	obscontext "github.com/smallbiznis/hwlicense/internal/observability/context"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.Event{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, fake
}

func TestRecordUsesRequestContextAndMasksHWID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithClientIP(context.Background(), "203.0.113.7")
	ctx = obscontext.WithUserAgent(ctx, "launcher/1.2")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	licenseID := snowflake.ID(42)
	err := svc.Record(ctx, auditdomain.Entry{
		LicenseID:  &licenseID,
		LicenseKey: "TIR-0000AAAA-1111BBBB",
		Action:     auditdomain.ActionActivated,
		ActorType:  auditdomain.ActorTypeClient,
		Metadata:   map[string]any{"hwid": "MACHINE-ABCDEF123456", "days": 30},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListEventsRequest{LicenseID: licenseID})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)

	event := resp.Events[0]
	assert.Equal(t, auditdomain.ActionActivated, event.Action)
	assert.Equal(t, auditdomain.OutcomeSuccess, event.Outcome)
	assert.Equal(t, "client", event.ActorType)
	require.NotNil(t, event.IPAddress)
	assert.Equal(t, "203.0.113.7", *event.IPAddress)
	require.NotNil(t, event.UserAgent)
	assert.Equal(t, "launcher/1.2", *event.UserAgent)
	assert.Equal(t, "MACHINE-****3456", event.Metadata["hwid"])
	assert.Equal(t, "req-1", event.Metadata["request_id"])
}

func TestRecordDefaultsActorFromContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "root")
	licenseID := snowflake.ID(7)

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{LicenseID: &licenseID, Action: auditdomain.ActionRevoked}))

	resp, err := svc.List(context.Background(), auditdomain.ListEventsRequest{LicenseID: licenseID})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "admin", resp.Events[0].ActorType)
	require.NotNil(t, resp.Events[0].ActorID)
	assert.Equal(t, "root", *resp.Events[0].ActorID)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, fake := newTestService(t)
	licenseID := snowflake.ID(9)
	for _, action := range []string{auditdomain.ActionCreated, auditdomain.ActionActivated, auditdomain.ActionChecked} {
		require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{LicenseID: &licenseID, Action: action}))
		fake.Advance(time.Minute)
	}

	req := auditdomain.ListEventsRequest{LicenseID: licenseID}
	req.PageSize = 2
	first, err := svc.List(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, auditdomain.ActionChecked, first.Events[0].Action)
	assert.Equal(t, auditdomain.ActionActivated, first.Events[1].Action)

	req.PageToken = first.NextPageToken
	second, err := svc.List(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, auditdomain.ActionCreated, second.Events[0].Action)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.List(context.Background(), auditdomain.ListEventsRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidLicense)

	req := auditdomain.ListEventsRequest{LicenseID: 1}
	req.PageToken = "%%%"
	_, err = svc.List(context.Background(), req)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
