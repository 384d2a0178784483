package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/prevant-go/prevant/internal/apperr"
)

// Load reads configPath and decodes it over Default(), then resolves any
// "*File"-suffixed secret fields from disk. A missing file is not an
// error: the defaults are returned as-is, matching the teacher's
// default-then-override-from-file loading idiom.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return Config{}, apperr.InvalidServerConfiguration(fmt.Sprintf("reading config file %s: %s", configPath, err))
		}
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, apperr.InvalidServerConfiguration(fmt.Sprintf("parsing config file %s: %s", configPath, err))
		}
	}

	if err := resolveSecretFiles(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveSecretFiles reads every "*File"-suffixed secret field from disk,
// only when the corresponding non-file field is still blank, matching the
// teacher's `resolveSecretFiles`/`readSecretFile` pattern.
func resolveSecretFiles(cfg *Config) error {
	if cfg.Runtime.KubeToken == "" && cfg.Runtime.KubeTokenFile != "" {
		token, err := readSecretFile(cfg.Runtime.KubeTokenFile)
		if err != nil {
			return err
		}
		cfg.Runtime.KubeToken = token
	}

	for host, reg := range cfg.Registries {
		if reg.Password == "" && reg.PasswordFile != "" {
			password, err := readSecretFile(reg.PasswordFile)
			if err != nil {
				return err
			}
			reg.Password = password
			cfg.Registries[host] = reg
		}
	}

	if cfg.Applications.UserDefinedParamsSchema == "" && cfg.Applications.UserDefinedParamsSchemaFile != "" {
		schema, err := readSecretFile(cfg.Applications.UserDefinedParamsSchemaFile)
		if err != nil {
			return err
		}
		cfg.Applications.UserDefinedParamsSchema = schema
	}

	for name, svc := range cfg.Services {
		for i, secret := range svc.Secrets {
			if _, err := base64.StdEncoding.DecodeString(secret.Data); err != nil && secret.Data != "" {
				return apperr.InvalidServerConfiguration(fmt.Sprintf("services.%s.secrets[%d]: data is not valid base64", name, i))
			}
		}
	}

	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.InvalidServerConfiguration(fmt.Sprintf("reading secret file %s: %s", path, err))
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks structural invariants Load cannot express through
// decoding alone (regex syntax, enum membership).
func (c Config) Validate() error {
	if c.Runtime.Type != RuntimeDocker && c.Runtime.Type != RuntimeKubernetes {
		return apperr.InvalidServerConfiguration(fmt.Sprintf("runtime.type must be Docker or Kubernetes, got %q", c.Runtime.Type))
	}
	if c.APIAccess.Mode != AccessModeAny && c.APIAccess.Mode != AccessModeRequireAuth {
		return apperr.InvalidServerConfiguration(fmt.Sprintf("apiAccess.mode must be any or requireAuth, got %q", c.APIAccess.Mode))
	}
	for name, companion := range c.Companions {
		if companion.Type != CompanionTypeApplication && companion.Type != CompanionTypeService {
			return apperr.InvalidServerConfiguration(fmt.Sprintf("companions.%s: type must be application or service", name))
		}
		if _, err := regexp.Compile(companion.AppSelector); err != nil {
			return apperr.InvalidServerConfiguration(fmt.Sprintf("companions.%s: invalid appSelector: %s", name, err))
		}
	}
	if c.Applications.UserDefinedParamsSchema != "" {
		if _, err := jsonschema.CompileString("applications.userDefinedParamsSchema", c.Applications.UserDefinedParamsSchema); err != nil {
			return apperr.InvalidServerConfiguration(fmt.Sprintf("applications.userDefinedParamsSchema: %s", err))
		}
	}
	return nil
}
