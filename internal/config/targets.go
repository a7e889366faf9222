package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/rollout/internal/model"
)

var targetValidate = validator.New()

var slugRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func init() {
	targetValidate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
}

type targetsFile struct {
	Targets []model.DeploymentTarget `yaml:"targets"`
}

// LoadTargets reads, validates, and defaults the deployment targets from the
// YAML targets file. Targets are immutable for the process lifetime; this is
// only called at startup.
func LoadTargets(path string) ([]model.DeploymentTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("targets file %s defines no targets", path)
	}

	seen := make(map[string]bool, len(f.Targets))
	for i := range f.Targets {
		t := &f.Targets[i]
		applyTargetDefaults(t)

		if err := targetValidate.Struct(t); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Name, err)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true

		if err := loadTargetCerts(t); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Name, err)
		}
	}

	return f.Targets, nil
}

func applyTargetDefaults(t *model.DeploymentTarget) {
	if t.Policy == "" {
		t.Policy = model.PolicySwap
	}
	if t.HealthTimeoutSecs == 0 {
		t.HealthTimeoutSecs = 60
	}
	if t.HealthIntervalSecs == 0 {
		t.HealthIntervalSecs = 2
	}
	if t.Host == "" {
		t.Host = dockerHostAddr(t.DockerHost)
	}
}

// dockerHostAddr extracts the host part of a Docker endpoint URL, for use as
// the health-probe address.
func dockerHostAddr(dockerHost string) string {
	u, err := url.Parse(dockerHost)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

func loadTargetCerts(t *model.DeploymentTarget) error {
	read := func(path string) (string, error) {
		if path == "" {
			return "", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	var err error
	if t.CACertPEM, err = read(t.CACertFile); err != nil {
		return fmt.Errorf("read CA cert: %w", err)
	}
	if t.ClientCertPEM, err = read(t.ClientCertFile); err != nil {
		return fmt.Errorf("read client cert: %w", err)
	}
	if t.ClientKeyPEM, err = read(t.ClientKeyFile); err != nil {
		return fmt.Errorf("read client key: %w", err)
	}
	return nil
}
