package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlepoint/sso-kernel/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(*testing.T, *config.Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "memory", cfg.Ticket.Store)
				assert.Equal(t, 2*time.Hour, cfg.Ticket.GrantingIdleTimeout)
				assert.Equal(t, 8*time.Hour, cfg.Ticket.GrantingMaxLifetime)
				assert.Equal(t, 10*time.Second, cfg.Ticket.ServiceLifetime)
				assert.Equal(t, 1, cfg.Ticket.ServiceMaxUses)
				assert.Equal(t, time.Minute, cfg.Ticket.SweepInterval)
				assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
				assert.Equal(t, "all", cfg.Policy.Mode)
			},
		},
		{
			name: "any_policy_mode",
			envVars: map[string]string{
				"SSO_POLICY_MODE": "any",
			},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "any", cfg.Policy.Mode)
			},
		},
		{
			name: "overridden_values",
			envVars: map[string]string{
				"SSO_SERVER_PORT":              "9090",
				"SSO_TICKET_STORE":             "redis",
				"SSO_TICKET_SERVICE_LIFETIME":  "30s",
				"SSO_TICKET_SERVICE_MAX_USES":  "3",
				"SSO_REDIS_URL":                "redis://localhost:6380",
				"SSO_POLICY_SESSION_LIMIT":     "5",
				"SSO_POLICY_REMOTE_URL":        "https://policy.internal/api",
				"SSO_TICKET_GRANTING_IDLE_TIMEOUT": "1h",
			},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "redis", cfg.Ticket.Store)
				assert.Equal(t, 30*time.Second, cfg.Ticket.ServiceLifetime)
				assert.Equal(t, 3, cfg.Ticket.ServiceMaxUses)
				assert.Equal(t, "redis://localhost:6380", cfg.Redis.URL)
				assert.Equal(t, 5, cfg.Policy.SessionLimit)
				assert.Equal(t, "https://policy.internal/api", cfg.Policy.RemoteURL)
				assert.Equal(t, time.Hour, cfg.Ticket.GrantingIdleTimeout)
			},
		},
		{
			name: "invalid_port",
			envVars: map[string]string{
				"SSO_SERVER_PORT": "70000",
			},
			wantErr: true,
		},
		{
			name: "unknown_store",
			envVars: map[string]string{
				"SSO_TICKET_STORE": "cassandra",
			},
			wantErr: true,
		},
		{
			name: "ceiling_below_idle_timeout",
			envVars: map[string]string{
				"SSO_TICKET_GRANTING_IDLE_TIMEOUT": "4h",
				"SSO_TICKET_GRANTING_MAX_LIFETIME": "1h",
			},
			wantErr: true,
		},
		{
			name: "zero_service_uses",
			envVars: map[string]string{
				"SSO_TICKET_SERVICE_MAX_USES": "0",
			},
			wantErr: true,
		},
		{
			name: "sweep_interval_too_small",
			envVars: map[string]string{
				"SSO_TICKET_SWEEP_INTERVAL": "10ms",
			},
			wantErr: true,
		},
		{
			name: "unknown_policy_mode",
			envVars: map[string]string{
				"SSO_POLICY_MODE": "quorum",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := config.Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8443
	assert.Equal(t, "127.0.0.1:8443", cfg.ServerAddr())
}

func TestDatabaseDSN(t *testing.T) {
	db := &config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "sso_kernel",
		User:     "tickets",
		Password: "hunter2",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 dbname=sso_kernel user=tickets password=hunter2 sslmode=require",
		db.DSN())
}

func TestIsDatabaseConfigured(t *testing.T) {
	cfg := &config.Config{}
	assert.False(t, cfg.IsDatabaseConfigured())
	cfg.Database.User = "tickets"
	cfg.Database.Password = "hunter2"
	assert.True(t, cfg.IsDatabaseConfigured())
}
