package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/tenancy/pkg/observability"
	"github.com/meridianhq/tenancy/pkg/roles"
)

// ConfigurationError reports an invalid setting. It is raised from Validate,
// never at operation time.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Setting, e.Reason)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// Config holds all tenancy core configuration
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// RedisURL enables the shared membership cache when set
	RedisURL string

	// InvitationExpiry bounds how long an invitation stays acceptable.
	// nil means invitations never expire.
	InvitationExpiry *time.Duration

	// DefaultInvitationRole is assigned when the caller does not name one.
	// Never owner; owner is only reachable through ownership transfer.
	DefaultInvitationRole roles.Role

	// MaxOrganizationsPerUser caps how many organizations one user may
	// belong to. nil means unlimited.
	MaxOrganizationsPerUser *int

	// RequireOrganizationMembership forbids a user's last membership from
	// being removed via leave.
	RequireOrganizationMembership bool

	// RoleDefinitionsPath points to an optional YAML file of custom role
	// definitions.
	RoleDefinitionsPath string

	// CacheTTL bounds membership role cache staleness
	CacheTTL time.Duration

	// DeliveryTimeout bounds best-effort invitation delivery
	DeliveryTimeout time.Duration

	// LogLevel for the core logger
	LogLevel observability.LogLevel
}

// LoadConfig loads configuration from TENANCY_* environment variables and
// validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:                   getEnv("TENANCY_DATABASE_URL", "postgres://localhost/tenancy?sslmode=disable"),
		RedisURL:                      getEnv("TENANCY_REDIS_URL", ""),
		DefaultInvitationRole:         roles.Role(getEnv("TENANCY_DEFAULT_INVITATION_ROLE", string(roles.RoleMember))),
		RequireOrganizationMembership: getEnvBool("TENANCY_REQUIRE_ORGANIZATION", false),
		RoleDefinitionsPath:           getEnv("TENANCY_ROLE_DEFINITIONS", ""),
		CacheTTL:                      getEnvDuration("TENANCY_CACHE_TTL", 5*time.Minute),
		DeliveryTimeout:               getEnvDuration("TENANCY_DELIVERY_TIMEOUT", 10*time.Second),
		LogLevel:                      observability.ParseLogLevel(getEnv("TENANCY_LOG_LEVEL", "info")),
	}

	if raw := os.Getenv("TENANCY_INVITATION_EXPIRY"); raw != "" {
		expiry, err := time.ParseDuration(raw)
		if err != nil {
			return nil, &ConfigurationError{Setting: "TENANCY_INVITATION_EXPIRY", Reason: err.Error()}
		}
		cfg.InvitationExpiry = &expiry
	}

	if raw := os.Getenv("TENANCY_MAX_ORGANIZATIONS_PER_USER"); raw != "" {
		maxOrgs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &ConfigurationError{Setting: "TENANCY_MAX_ORGANIZATIONS_PER_USER", Reason: err.Error()}
		}
		cfg.MaxOrganizationsPerUser = &maxOrgs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration with library defaults, suitable
// as a starting point for embedding callers.
func Default() *Config {
	week := 7 * 24 * time.Hour
	return &Config{
		InvitationExpiry:      &week,
		DefaultInvitationRole: roles.RoleMember,
		CacheTTL:              5 * time.Minute,
		DeliveryTimeout:       10 * time.Second,
		LogLevel:              observability.InfoLevel,
	}
}

// Validate checks all settings and returns a ConfigurationError for the
// first invalid one.
func (c *Config) Validate() error {
	if c.InvitationExpiry != nil && *c.InvitationExpiry <= 0 {
		return &ConfigurationError{Setting: "InvitationExpiry", Reason: "must be positive when set"}
	}
	if !roles.Valid(c.DefaultInvitationRole) {
		return &ConfigurationError{
			Setting: "DefaultInvitationRole",
			Reason:  fmt.Sprintf("%q is not in the role hierarchy", c.DefaultInvitationRole),
		}
	}
	if c.DefaultInvitationRole == roles.RoleOwner {
		return &ConfigurationError{Setting: "DefaultInvitationRole", Reason: "owner cannot be an invitation role"}
	}
	if c.MaxOrganizationsPerUser != nil && *c.MaxOrganizationsPerUser <= 0 {
		return &ConfigurationError{Setting: "MaxOrganizationsPerUser", Reason: "must be positive when set"}
	}
	if c.CacheTTL < 0 {
		return &ConfigurationError{Setting: "CacheTTL", Reason: "must not be negative"}
	}
	if c.DeliveryTimeout <= 0 {
		return &ConfigurationError{Setting: "DeliveryTimeout", Reason: "must be positive"}
	}
	return nil
}

// roleDefinitionsFile is the on-disk YAML shape
type roleDefinitionsFile struct {
	Roles []roles.Definition `yaml:"roles"`
}

// LoadRoleDefinitions parses a YAML role definitions file. An empty path
// yields nil definitions, meaning the built-in table stays in effect.
func LoadRoleDefinitions(path string) ([]roles.Definition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Setting: "RoleDefinitionsPath", Reason: err.Error()}
	}
	var file roleDefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Setting: "RoleDefinitionsPath", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	for _, def := range file.Roles {
		if def.Name == "" {
			return nil, &ConfigurationError{Setting: "RoleDefinitionsPath", Reason: "role definition with empty name"}
		}
	}
	return file.Roles, nil
}

// getEnv retrieves an environment variable with a fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable with a fallback
func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
