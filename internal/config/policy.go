package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Endpoint classes shared by the rate limiter and the proof gate.
const (
	ClassActivate   = "activate"
	ClassCheck      = "check"
	ClassDownload   = "download"
	ClassAdminLogin = "admin_login"
)

// Policy is the hot-reloadable part of the configuration.
type Policy struct {
	RateLimits map[string]RateLimitRule `mapstructure:"rateLimits"`
	Proof      ProofPolicy              `mapstructure:"proof"`
	Release    ReleaseInfo              `mapstructure:"release"`
}

type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// ProofPolicy marks which endpoints require a proof-of-freshness.
type ProofPolicy struct {
	Activate bool `mapstructure:"activate"`
	Check    bool `mapstructure:"check"`
	Download bool `mapstructure:"download"`
}

type ReleaseInfo struct {
	Version     string `mapstructure:"version" json:"version"`
	ReleaseDate string `mapstructure:"releaseDate" json:"release_date"`
	Changelog   string `mapstructure:"changelog" json:"changelog"`
}

func DefaultPolicy() Policy {
	return Policy{
		RateLimits: map[string]RateLimitRule{
			ClassActivate:   {Limit: 5, Window: time.Minute},
			ClassAdminLogin: {Limit: 5, Window: time.Minute},
			ClassCheck:      {Limit: 30, Window: time.Minute},
			ClassDownload:   {Limit: 10, Window: time.Minute},
		},
		Proof: ProofPolicy{
			Activate: true,
			Check:    true,
			Download: true,
		},
		Release: ReleaseInfo{
			Version:     "1.0.0",
			ReleaseDate: "2024-01-01",
			Changelog:   "Initial release",
		},
	}
}

// Requires reports whether the endpoint class needs a proof.
func (p ProofPolicy) Requires(class string) bool {
	switch class {
	case ClassActivate:
		return p.Activate
	case ClassCheck:
		return p.Check
	case ClassDownload:
		return p.Download
	default:
		return true
	}
}

func (p ProofPolicy) Any() bool {
	return p.Activate || p.Check || p.Download
}

// Rule returns the rule for a class, falling back to the built-in default.
func (p Policy) Rule(class string) (RateLimitRule, bool) {
	if rule, ok := p.RateLimits[class]; ok {
		return rule, true
	}
	rule, ok := DefaultPolicy().RateLimits[class]
	return rule, ok
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyFile != "" {
		v.SetConfigFile(cfg.PolicyFile)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/hwlicense")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HWLICENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		log.Info("policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	policy := DefaultPolicy()
	if v.IsSet("policy") {
		if err := v.UnmarshalKey("policy", &policy); err != nil {
			return Policy{}, err
		}
	}
	if err := validatePolicy(policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func validatePolicy(p Policy) error {
	for class, rule := range p.RateLimits {
		if rule.Limit <= 0 {
			return fmt.Errorf("policy.rateLimits.%s.limit must be positive", class)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("policy.rateLimits.%s.window must be positive", class)
		}
	}
	if strings.TrimSpace(p.Release.Version) == "" {
		return errors.New("policy.release.version cannot be empty")
	}
	return nil
}
