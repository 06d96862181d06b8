package release

import (
	"testing"

	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestGetLatestVersion(t *testing.T) {
	svc := NewService(config.NewStaticPolicyHolder(config.DefaultPolicy()))
	info := svc.GetLatestVersion()
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "2024-01-01", info.ReleaseDate)
	assert.Equal(t, "Initial release", info.Changelog)

	p := config.DefaultPolicy()
	p.Release = config.ReleaseInfo{Version: "1.2.0", ReleaseDate: "2026-05-01", Changelog: "Faster startup"}
	svc = NewService(config.NewStaticPolicyHolder(p))
	assert.Equal(t, "1.2.0", svc.GetLatestVersion().Version)
}
