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

// BillingConfig is the hot-reloadable billing policy file (billing.yml).
type BillingConfig struct {
	Dunning              DunningThresholds             `mapstructure:"dunning"`
	AccessStateCacheTTL  time.Duration                 `mapstructure:"accessStateCacheTTL"`
	InvoiceLookaheadDays int                           `mapstructure:"invoiceLookaheadDays"`
	InvoiceDueDays       int                           `mapstructure:"invoiceDueDays"`
	DefaultEntitlements  map[string]EntitlementDefault `mapstructure:"defaultEntitlements"`
}

// DunningThresholds are the day counts at which each dunning level starts.
type DunningThresholds struct {
	GraceDays         int `mapstructure:"graceDays" json:"grace_days"`
	ReadOnlyAfterDays int `mapstructure:"readOnlyAfterDays" json:"read_only_after_days"`
	SuspendAfterDays  int `mapstructure:"suspendAfterDays" json:"suspend_after_days"`
	BlockAfterDays    int `mapstructure:"blockAfterDays" json:"block_after_days"`
}

// EntitlementDefault is the implicit policy value used when no row grants a key.
// A nil Limit makes it a plain flag; -1 is unlimited.
type EntitlementDefault struct {
	Enabled bool   `mapstructure:"enabled"`
	Limit   *int64 `mapstructure:"limit"`
}

// billingEnv maps billing.yml keys to their environment overrides.
var billingEnv = map[string]string{
	"billing.dunning.graceDays":         "BILLING_DUNNING_GRACE_DAYS",
	"billing.dunning.readOnlyAfterDays": "BILLING_DUNNING_READ_ONLY_AFTER_DAYS",
	"billing.dunning.suspendAfterDays":  "BILLING_DUNNING_SUSPEND_AFTER_DAYS",
	"billing.dunning.blockAfterDays":    "BILLING_DUNNING_BLOCK_AFTER_DAYS",
	"billing.accessStateCacheTTL":       "BILLING_ACCESS_STATE_CACHE_TTL",
	"billing.invoiceLookaheadDays":      "BILLING_INVOICE_LOOKAHEAD_DAYS",
	"billing.invoiceDueDays":            "BILLING_INVOICE_DUE_DAYS",
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Dunning:              DefaultDunningThresholds(),
		AccessStateCacheTTL:  60 * time.Second,
		InvoiceLookaheadDays: 3,
		InvoiceDueDays:       0,
		DefaultEntitlements:  map[string]EntitlementDefault{},
	}
}

func DefaultDunningThresholds() DunningThresholds {
	return DunningThresholds{
		GraceDays:         3,
		ReadOnlyAfterDays: 8,
		SuspendAfterDays:  16,
		BlockAfterDays:    30,
	}
}

// Validate reports whether the thresholds are strictly ascending and positive.
func (t DunningThresholds) Validate() error {
	if t.GraceDays <= 0 {
		return errors.New("dunning.graceDays must be positive")
	}
	if t.ReadOnlyAfterDays <= t.GraceDays {
		return fmt.Errorf("dunning.readOnlyAfterDays (%d) must be greater than graceDays (%d)", t.ReadOnlyAfterDays, t.GraceDays)
	}
	if t.SuspendAfterDays <= t.ReadOnlyAfterDays {
		return fmt.Errorf("dunning.suspendAfterDays (%d) must be greater than readOnlyAfterDays (%d)", t.SuspendAfterDays, t.ReadOnlyAfterDays)
	}
	if t.BlockAfterDays <= t.SuspendAfterDays {
		return fmt.Errorf("dunning.blockAfterDays (%d) must be greater than suspendAfterDays (%d)", t.BlockAfterDays, t.SuspendAfterDays)
	}
	return nil
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.billing")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/partnerbilling/config")
	v.AddConfigPath("/etc/partnerbilling")
	v.AddConfigPath(".")

	for key, env := range billingEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.dunning.graceDays", defaults.Dunning.GraceDays)
	v.SetDefault("billing.dunning.readOnlyAfterDays", defaults.Dunning.ReadOnlyAfterDays)
	v.SetDefault("billing.dunning.suspendAfterDays", defaults.Dunning.SuspendAfterDays)
	v.SetDefault("billing.dunning.blockAfterDays", defaults.Dunning.BlockAfterDays)
	v.SetDefault("billing.accessStateCacheTTL", defaults.AccessStateCacheTTL)
	v.SetDefault("billing.invoiceLookaheadDays", defaults.InvoiceLookaheadDays)
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
		log.Info("billing config file not found, using defaults")
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeBillingConfig(v)
			if err != nil {
				log.Warn("billing config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("billing config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed configuration without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	return h.current.Load().(BillingConfig)
}

// Set replaces the current configuration after validation.
func (h *BillingConfigHolder) Set(cfg BillingConfig) error {
	if err := validateBillingConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

// decodeBillingConfig reads scalar keys one by one so bound environment
// variables take precedence over the file.
func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	cfg := BillingConfig{
		Dunning: DunningThresholds{
			GraceDays:         v.GetInt("billing.dunning.graceDays"),
			ReadOnlyAfterDays: v.GetInt("billing.dunning.readOnlyAfterDays"),
			SuspendAfterDays:  v.GetInt("billing.dunning.suspendAfterDays"),
			BlockAfterDays:    v.GetInt("billing.dunning.blockAfterDays"),
		},
		AccessStateCacheTTL:  v.GetDuration("billing.accessStateCacheTTL"),
		InvoiceLookaheadDays: v.GetInt("billing.invoiceLookaheadDays"),
		InvoiceDueDays:       v.GetInt("billing.invoiceDueDays"),
	}
	if err := v.UnmarshalKey("billing.defaultEntitlements", &cfg.DefaultEntitlements); err != nil {
		return BillingConfig{}, err
	}
	if cfg.DefaultEntitlements == nil {
		cfg.DefaultEntitlements = map[string]EntitlementDefault{}
	}
	if err := validateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	if err := cfg.Dunning.Validate(); err != nil {
		return err
	}
	if cfg.AccessStateCacheTTL < 0 {
		return errors.New("billing.accessStateCacheTTL cannot be negative")
	}
	if cfg.InvoiceLookaheadDays < 0 {
		return errors.New("billing.invoiceLookaheadDays cannot be negative")
	}
	if cfg.InvoiceDueDays < 0 {
		return errors.New("billing.invoiceDueDays cannot be negative")
	}
	for key, def := range cfg.DefaultEntitlements {
		if strings.TrimSpace(key) == "" {
			return errors.New("billing.defaultEntitlements contains an empty key")
		}
		if def.Limit != nil && *def.Limit < -1 {
			return fmt.Errorf("billing.defaultEntitlements.%s.limit must be -1 or greater", key)
		}
	}
	return nil
}
