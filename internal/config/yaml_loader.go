package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// applyYAMLOverlay merges operational tuning from YAML files into the
// environment-derived configuration. defaults.yaml is loaded first, then
// the environment-specific file (local.yaml, nonprod.yaml or prod.yaml)
// overlays it. Both files are optional; environment variables always stay
// authoritative for connection settings, the overlay only tunes ticket
// lifetimes and the sweep cadence.
func applyYAMLOverlay(cfg *Config) error {
	v, err := loadYAMLSettings(cfg.Environment.Environment)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	overrideDuration(v, "ticket.granting_idle_timeout", &cfg.Ticket.GrantingIdleTimeout)
	overrideDuration(v, "ticket.granting_max_lifetime", &cfg.Ticket.GrantingMaxLifetime)
	overrideDuration(v, "ticket.remember_me_lifetime", &cfg.Ticket.RememberMeLifetime)
	overrideDuration(v, "ticket.service_lifetime", &cfg.Ticket.ServiceLifetime)
	overrideInt(v, "ticket.service_max_uses", &cfg.Ticket.ServiceMaxUses)
	overrideDuration(v, "ticket.proxy_granting_max_lifetime", &cfg.Ticket.ProxyGrantingMaxLifetime)
	overrideDuration(v, "ticket.proxy_lifetime", &cfg.Ticket.ProxyLifetime)
	overrideInt(v, "ticket.proxy_max_uses", &cfg.Ticket.ProxyMaxUses)
	overrideDuration(v, "ticket.transient_lifetime", &cfg.Ticket.TransientLifetime)
	overrideDuration(v, "ticket.sweep_interval", &cfg.Ticket.SweepInterval)
	overrideInt(v, "policy.session_limit", &cfg.Policy.SessionLimit)

	return nil
}

// loadYAMLSettings loads defaults.yaml and overlays the environment file.
// Returns nil when no defaults file exists, which is the common case for
// purely environment-variable-driven deployments.
func loadYAMLSettings(env Environment) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("defaults")
	v.AddConfigPath("./configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read defaults config: %w", err)
	}

	var envConfigFile string
	switch env {
	case Local:
		envConfigFile = "local"
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	default:
		envConfigFile = "local"
	}

	envViper := viper.New()
	envViper.SetConfigType("yaml")
	envViper.SetConfigName(envConfigFile)
	envViper.AddConfigPath("./configs")

	if err := envViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
	}

	if err := v.MergeConfigMap(envViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge environment config: %w", err)
	}

	return v, nil
}

func overrideDuration(v *viper.Viper, key string, target *time.Duration) {
	if v.IsSet(key) {
		*target = v.GetDuration(key)
	}
}

func overrideInt(v *viper.Viper, key string, target *int) {
	if v.IsSet(key) {
		*target = v.GetInt(key)
	}
}
