package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/license/domain"
	obslogger "github.com/smallbiznis/hwlicense/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Config config.Config
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
}

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(p Params) error {
	if err := Apply(p.DB, p.Config.DBType); err != nil {
		return err
	}

	if !p.Config.License.SeedTestLicense {
		return nil
	}
	log := p.Log.Named("migration")
	if p.Config.IsProduction() {
		log.Warn("SEED_TEST_LICENSE ignored in production")
		return nil
	}

	created, err := EnsureTestLicense(context.Background(), p.DB, p.Repo, p.GenID, TestLicenseKey, p.Clock.Now())
	if err != nil {
		return err
	}
	if created {
		obslogger.WithLicense(log, TestLicenseKey).Info("seeded test license", zap.Int("days", testLicenseDays))
	}
	return nil
}
