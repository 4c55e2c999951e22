package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load with the failing stage.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: ISB_JWT_SECRET_SSM_PARAM holds the
// SSM path whose value becomes ISB_JWT_SECRET.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// loaderEnv lets tests run the loader without touching the process env.
type loaderEnv struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() loaderEnv {
	return loaderEnv{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// Load reads configuration for the current process:
//  1. Forces time.Local to UTC.
//  2. Loads .env if present; it never overrides real env vars.
//  3. Outside local mode, resolves every *_SSM_PARAM pointer through provider.
//  4. Populates Config via envconfig and validates it.
//
// provider may be nil in local mode.
func Load(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, env loaderEnv) (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// resolveSSMParams fetches every *_SSM_PARAM target not already set in the
// environment and injects the values back into it. A path referenced by
// more than one variable is fetched once.
func resolveSSMParams(provider SecretProvider, env loaderEnv) error {
	targets := map[string][]string{} // ssm path -> env vars
	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		targets[path] = append(targets[path], target)
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a SecretProvider is required outside local mode (need to resolve: %s)", strings.Join(targetNames(targets, paths), ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p]...)
			continue
		}
		for _, target := range targets[p] {
			if err := env.set(target, value); err != nil {
				return &ConfigError{Type: ErrSSMResolution, Message: "failed to set resolved value for " + target, Err: err}
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

func targetNames(targets map[string][]string, paths []string) []string {
	var out []string
	for _, p := range paths {
		out = append(out, targets[p]...)
	}
	return out
}
