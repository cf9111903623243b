package config

import (
	"context"
	"os"
	"sync"
	"time"

	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
)

// DefaultWatchInterval is how often the config file is polled.
const DefaultWatchInterval = 5 * time.Second

// ConfigWatcher polls the config file and hands reloaded configurations to
// registered callbacks. Only settings that are safe to change at runtime
// (log level, retention) are expected to be applied by callbacks.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	modTime   time.Time
	size      int64
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, interval time.Duration, logger *logrus.Logger) *ConfigWatcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &ConfigWatcher{
		configPath: configPath,
		interval:   interval,
		logger:     logger,
	}
}

// Load reads the initial configuration and records the file's state.
func (cw *ConfigWatcher) Load() (*models.Config, error) {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return nil, err
	}

	cw.mu.Lock()
	cw.config = config
	cw.modTime = stat.ModTime()
	cw.size = stat.Size()
	cw.mu.Unlock()
	return config, nil
}

// Start polls until ctx is done. Load must have been called first.
func (cw *ConfigWatcher) Start(ctx context.Context) {
	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return
		case <-ticker.C:
			cw.Check()
		}
	}
}

// Check reloads the file when its modification time or size changed and
// reports whether a new configuration was applied.
func (cw *ConfigWatcher) Check() bool {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to stat configuration file")
		return false
	}

	cw.mu.RLock()
	unchanged := stat.ModTime().Equal(cw.modTime) && stat.Size() == cw.size
	cw.mu.RUnlock()
	if unchanged {
		return false
	}

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		// Keep the last good configuration; retry on the next change.
		cw.logger.WithError(err).Error("Failed to reload configuration")
		cw.mu.Lock()
		cw.modTime, cw.size = stat.ModTime(), stat.Size()
		cw.mu.Unlock()
		return false
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	cw.modTime, cw.size = stat.ModTime(), stat.Size()
	callbacks := append([]func(*models.Config){}, cw.callbacks...)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")
	cw.logConfigChanges(oldConfig, newConfig)

	for _, cb := range callbacks {
		cw.notify(cb, newConfig)
	}
	return true
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(config)
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.RetentionDays != new.RetentionDays {
		cw.logger.WithFields(logrus.Fields{
			"old": old.RetentionDays,
			"new": new.RetentionDays,
		}).Info("Retention days changed")
	}

	if old.Scheduler != new.Scheduler {
		cw.logger.Warn("Scheduler intervals changed; restart to apply")
	}
}
