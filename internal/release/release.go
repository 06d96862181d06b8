// Package release reports the latest published client build.
package release

import (
	"github.com/smallbiznis/hwlicense/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("release",
	fx.Provide(NewService),
)

type Service struct {
	policy *config.PolicyHolder
}

func NewService(policy *config.PolicyHolder) *Service {
	return &Service{policy: policy}
}

// GetLatestVersion reads the current policy, so an edited policy file is
// visible without a restart.
func (s *Service) GetLatestVersion() config.ReleaseInfo {
	return s.policy.Get().Release
}
