package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SyncConfig holds the tunable knobs of the sync engine. It is hot-reloadable
// so batch sizing and probe thresholds can be adjusted without a restart.
type SyncConfig struct {
	UploadInitialBatchSize int `mapstructure:"uploadInitialBatchSize"`
	UploadMinBatchSize     int `mapstructure:"uploadMinBatchSize"`
	UploadMaxBatchSize     int `mapstructure:"uploadMaxBatchSize"`
	UploadBatchGrowth      int `mapstructure:"uploadBatchGrowth"`
	UploadMaxRetries       int `mapstructure:"uploadMaxRetries"`
	UploadBackoffBaseMs    int `mapstructure:"uploadBackoffBaseMs"`
	UploadInterBatchMs     int `mapstructure:"uploadInterBatchMs"`

	OutboxMaxRetries      int `mapstructure:"outboxMaxRetries"`
	OutboxReplayIntervalS int `mapstructure:"outboxReplayIntervalSeconds"`

	ProbeIntervalS        int `mapstructure:"probeIntervalSeconds"`
	ProbeFailureThreshold int `mapstructure:"probeFailureThreshold"`
	ProbeTimeoutS         int `mapstructure:"probeTimeoutSeconds"`

	ReconcileIntervalS int `mapstructure:"reconcileIntervalSeconds"`
	RetentionDays      int `mapstructure:"retentionDays"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		UploadInitialBatchSize: 500,
		UploadMinBatchSize:     50,
		UploadMaxBatchSize:     1000,
		UploadBatchGrowth:      50,
		UploadMaxRetries:       3,
		UploadBackoffBaseMs:    500,
		UploadInterBatchMs:     200,

		OutboxMaxRetries:      5,
		OutboxReplayIntervalS: 60,

		ProbeIntervalS:        30,
		ProbeFailureThreshold: 3,
		ProbeTimeoutS:         5,

		ReconcileIntervalS: 300,
		RetentionDays:      90,
	}
}

func (c SyncConfig) UploadBackoffBase() time.Duration {
	return time.Duration(c.UploadBackoffBaseMs) * time.Millisecond
}

func (c SyncConfig) UploadInterBatchDelay() time.Duration {
	return time.Duration(c.UploadInterBatchMs) * time.Millisecond
}

func (c SyncConfig) OutboxReplayInterval() time.Duration {
	return time.Duration(c.OutboxReplayIntervalS) * time.Second
}

func (c SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalS) * time.Second
}

func (c SyncConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutS) * time.Second
}

func (c SyncConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalS) * time.Second
}

// SyncConfigHolder serves the current SyncConfig and swaps it atomically on
// config file change.
type SyncConfigHolder struct {
	current atomic.Value // holds SyncConfig
}

func NewSyncConfigHolder() (*SyncConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/trendsync/config")
	v.AddConfigPath("/etc/trendsync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRENDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncConfig()
	v.SetDefault("sync", defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := defaults
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateSyncConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultSyncConfig()
		if err := v.UnmarshalKey("sync", &updated); err != nil {
			log.Printf("[sync-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateSyncConfig(updated); err != nil {
			log.Printf("[sync-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[sync-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func NewStaticSyncConfigHolder(cfg SyncConfig) *SyncConfigHolder {
	holder := &SyncConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *SyncConfigHolder) Get() SyncConfig {
	return h.current.Load().(SyncConfig)
}

func (c SyncConfig) withDefaults() SyncConfig {
	defaults := DefaultSyncConfig()
	if c.UploadInitialBatchSize <= 0 {
		c.UploadInitialBatchSize = defaults.UploadInitialBatchSize
	}
	if c.UploadMinBatchSize <= 0 {
		c.UploadMinBatchSize = defaults.UploadMinBatchSize
	}
	if c.UploadMaxBatchSize <= 0 {
		c.UploadMaxBatchSize = defaults.UploadMaxBatchSize
	}
	if c.UploadBatchGrowth <= 0 {
		c.UploadBatchGrowth = defaults.UploadBatchGrowth
	}
	if c.UploadMaxRetries <= 0 {
		c.UploadMaxRetries = defaults.UploadMaxRetries
	}
	if c.UploadBackoffBaseMs <= 0 {
		c.UploadBackoffBaseMs = defaults.UploadBackoffBaseMs
	}
	if c.UploadInterBatchMs < 0 {
		c.UploadInterBatchMs = defaults.UploadInterBatchMs
	}
	if c.OutboxMaxRetries <= 0 {
		c.OutboxMaxRetries = defaults.OutboxMaxRetries
	}
	if c.OutboxReplayIntervalS <= 0 {
		c.OutboxReplayIntervalS = defaults.OutboxReplayIntervalS
	}
	if c.ProbeIntervalS <= 0 {
		c.ProbeIntervalS = defaults.ProbeIntervalS
	}
	if c.ProbeFailureThreshold <= 0 {
		c.ProbeFailureThreshold = defaults.ProbeFailureThreshold
	}
	if c.ProbeTimeoutS <= 0 {
		c.ProbeTimeoutS = defaults.ProbeTimeoutS
	}
	if c.ReconcileIntervalS <= 0 {
		c.ReconcileIntervalS = defaults.ReconcileIntervalS
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	return c
}

func validateSyncConfig(cfg SyncConfig) error {
	if cfg.UploadMinBatchSize > cfg.UploadMaxBatchSize {
		return errors.New("sync.uploadMinBatchSize cannot exceed sync.uploadMaxBatchSize")
	}
	if cfg.UploadInitialBatchSize < cfg.UploadMinBatchSize || cfg.UploadInitialBatchSize > cfg.UploadMaxBatchSize {
		return errors.New("sync.uploadInitialBatchSize must fall between min and max batch size")
	}
	return nil
}
