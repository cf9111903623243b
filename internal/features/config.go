package features

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chatflow/internal/models"
)

// Environment variables follow CHATFLOW_FEATURE_<FLAG_NAME>=true/false and
// CHATFLOW_FEATURE_<FLAG_NAME>_PERCENTAGE=50.
const (
	envPrefix        = "CHATFLOW_FEATURE_"
	percentageSuffix = "_PERCENTAGE"
	envDisableAll    = "CHATFLOW_FEATURES_DISABLE_ALL"
)

// LoadFromConfig applies the config file section. Names that are not known
// flags are rejected so typos do not pass silently.
func (fm *FlagManager) LoadFromConfig(config models.FeaturesConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	for name, enabled := range config.Flags {
		fm.flags[name].Enabled = enabled
		fm.flags[name].UpdatedAt = now
	}
	for name, percentage := range config.Percentages {
		fm.flags[name].Percentage = percentage
		fm.flags[name].UpdatedAt = now
	}
	if config.DisableAll {
		for _, flag := range fm.flags {
			flag.Enabled = false
			flag.UpdatedAt = now
		}
	}
	return nil
}

// Reload resets every flag to its default and then applies config and
// environment again, so flags removed from the file revert. An invalid
// config leaves the current flags untouched.
func (fm *FlagManager) Reload(config models.FeaturesConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}

	fm.mu.Lock()
	fm.flags = make(map[string]*Flag)
	fm.mu.Unlock()
	fm.InitializeDefaults()

	if err := fm.LoadFromConfig(config); err != nil {
		return err
	}
	fm.LoadFromEnvironment()
	return nil
}

// LoadFromEnvironment applies overrides from the environment on top of the
// config file. Malformed values and unknown flags are ignored.
func (fm *FlagManager) LoadFromEnvironment() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	if disableAll, _ := strconv.ParseBool(os.Getenv(envDisableAll)); disableAll {
		for _, flag := range fm.flags {
			flag.Enabled = false
			flag.UpdatedAt = now
		}
		return
	}

	for key, value := range GetEnvironmentOverrides() {
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))

		if strings.HasSuffix(name, strings.ToLower(percentageSuffix)) {
			name = strings.TrimSuffix(name, strings.ToLower(percentageSuffix))
			flag, ok := fm.flags[name]
			if p, err := strconv.Atoi(value); ok && err == nil && p >= 0 && p <= 100 {
				flag.Percentage = p
				flag.UpdatedAt = now
			}
			continue
		}

		flag, ok := fm.flags[name]
		if enabled, err := strconv.ParseBool(value); ok && err == nil {
			flag.Enabled = enabled
			flag.UpdatedAt = now
		}
	}
}

// ValidateConfig validates feature flags configuration
func ValidateConfig(config models.FeaturesConfig) error {
	known := make(map[string]bool, len(DefaultFlags))
	for _, def := range DefaultFlags {
		known[def.Name] = true
	}
	for name := range config.Flags {
		if !known[name] {
			return ErrFlagNotFound{Name: name}
		}
	}
	for name, percentage := range config.Percentages {
		if !known[name] {
			return ErrFlagNotFound{Name: name}
		}
		if percentage < 0 || percentage > 100 {
			return fmt.Errorf("invalid percentage for flag %s: %d (must be 0-100)", name, percentage)
		}
	}
	return nil
}

// GetEnvironmentOverrides returns the per-flag variables currently set.
func GetEnvironmentOverrides() map[string]string {
	overrides := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		if k, v, ok := strings.Cut(env, "="); ok {
			overrides[k] = v
		}
	}
	return overrides
}
