// Package config decodes PREvant's TOML configuration file into a typed
// Config, applying defaults and resolving secret values that may be
// supplied via a sibling "*File" key instead of inline.
package config

import (
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RuntimeType selects which infrastructure backend the orchestrator wires up.
type RuntimeType string

const (
	RuntimeDocker     RuntimeType = "Docker"
	RuntimeKubernetes RuntimeType = "Kubernetes"
)

// RuntimeConfig configures the infrastructure backend.
type RuntimeConfig struct {
	Type RuntimeType `toml:"type"`

	// Kubernetes-specific; empty for Docker.
	KubeEndpoint string `toml:"endpoint"`
	KubeToken    string `toml:"token"`
	KubeTokenFile string `toml:"tokenFile"`
	KubeCertPath string `toml:"certPath"`
}

// ContainersConfig configures per-container resource limits.
type ContainersConfig struct {
	MemoryLimit string `toml:"memoryLimit"`
}

// CompanionType distinguishes an application companion from a service
// companion, mirroring model.ContainerType's companion variants.
type CompanionType string

const (
	CompanionTypeApplication CompanionType = "application"
	CompanionTypeService     CompanionType = "service"
)

// CompanionConfig describes one configured companion definition.
type CompanionConfig struct {
	ServiceName string            `toml:"serviceName"`
	Type        CompanionType     `toml:"type"`
	Image       string            `toml:"image"`
	Env         map[string]string `toml:"env"`
	Labels      map[string]string `toml:"labels"`
	Volumes     []string          `toml:"volumes"`
	Files       map[string]string `toml:"files"`

	// AppSelector is a regex matched against the target AppName.
	AppSelector string `toml:"appSelector"`

	DeploymentStrategy string   `toml:"deploymentStrategy"`
	Router             string   `toml:"router"`
	Middlewares        []string `toml:"middlewares"`

	compiledSelector *regexp.Regexp
}

// Matches reports whether appName satisfies this companion's app-selector.
func (c *CompanionConfig) Matches(appName string) bool {
	if c.compiledSelector == nil {
		c.compiledSelector = regexp.MustCompile(c.AppSelector)
	}
	return c.compiledSelector.MatchString(appName)
}

// SecretConfig describes one secret-file injection rule for a named service.
type SecretConfig struct {
	Name string `toml:"name"`
	// Data is base64-encoded secret content.
	Data        string `toml:"data"`
	AppSelector string `toml:"appSelector"`
	Path        string `toml:"path"`

	compiledSelector *regexp.Regexp
}

// Matches reports whether appName satisfies this secret's app-selector.
func (s *SecretConfig) Matches(appName string) bool {
	if s.AppSelector == "" {
		return true
	}
	if s.compiledSelector == nil {
		s.compiledSelector = regexp.MustCompile(s.AppSelector)
	}
	return s.compiledSelector.MatchString(appName)
}

// ServiceSecretsConfig is the `services.{name}.secrets` table.
type ServiceSecretsConfig struct {
	Secrets []SecretConfig `toml:"secrets"`
}

// HooksConfig configures the optional JavaScript deployment/persistence hooks.
type HooksConfig struct {
	Deployment  string `toml:"deployment"`
	Persistence string `toml:"persistence"`
}

// RegistryConfig is one entry of `registries.{host}`.
type RegistryConfig struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"passwordFile"`
	Mirror       string `toml:"mirror"`
}

// ApplicationsConfig configures application-level policy.
type ApplicationsConfig struct {
	Max                  int    `toml:"max"`
	DefaultApp           string `toml:"defaultApp"`
	ReplicationCondition string `toml:"replicationCondition"`
	Backups              bool   `toml:"backups"`

	// UserDefinedParamsSchema, if set, is a JSON Schema document that every
	// CreateOrUpdate request's user-defined parameters must validate
	// against. May be supplied inline or via UserDefinedParamsSchemaFile.
	UserDefinedParamsSchema     string `toml:"userDefinedParamsSchema"`
	UserDefinedParamsSchemaFile string `toml:"userDefinedParamsSchemaFile"`
}

// AccessMode selects whether API calls require an authenticated subject.
type AccessMode string

const (
	AccessModeAny         AccessMode = "any"
	AccessModeRequireAuth AccessMode = "requireAuth"
)

// APIAccessConfig configures the HTTP surface's access policy.
type APIAccessConfig struct {
	Mode            AccessMode `toml:"mode"`
	OpenIDProviders []string   `toml:"openidProviders"`
}

// QueueConfig selects and configures the task queue backend.
type QueueConfig struct {
	// DSN, if set, selects the Postgres-backed persistent queue; empty
	// selects the in-memory queue.
	DSN string `toml:"dsn"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `toml:"address"`
}

// Config is the full decoded TOML configuration, covering every key in
// spec.md §6.
type Config struct {
	Runtime      RuntimeConfig                   `toml:"runtime"`
	Containers   ContainersConfig                `toml:"containers"`
	Companions   map[string]CompanionConfig       `toml:"companions"`
	Services     map[string]ServiceSecretsConfig  `toml:"services"`
	Hooks        HooksConfig                      `toml:"hooks"`
	Registries   map[string]RegistryConfig        `toml:"registries"`
	Applications ApplicationsConfig               `toml:"applications"`
	APIAccess    APIAccessConfig                  `toml:"apiAccess"`
	Queue        QueueConfig                      `toml:"queue"`
	Server       ServerConfig                     `toml:"server"`
}

// Default returns a Config with every field set to PREvant's documented
// defaults, equivalent to the teacher's default-config-then-override
// loading pattern.
func Default() Config {
	return Config{
		Runtime:    RuntimeConfig{Type: RuntimeDocker},
		Containers: ContainersConfig{MemoryLimit: "1G"},
		APIAccess:  APIAccessConfig{Mode: AccessModeAny},
		Server:     ServerConfig{Address: ":8000"},
	}
}

// CompileUserDefinedParamsSchema compiles the configured user-defined
// parameters schema, returning (nil, nil) when none is configured. Load
// already rejects a malformed schema at startup via Validate, so callers
// compiling it again per-request only fail here if the schema was set
// programmatically rather than through Load.
func (c Config) CompileUserDefinedParamsSchema() (*jsonschema.Schema, error) {
	if c.Applications.UserDefinedParamsSchema == "" {
		return nil, nil
	}
	return jsonschema.CompileString("applications.userDefinedParamsSchema", c.Applications.UserDefinedParamsSchema)
}
