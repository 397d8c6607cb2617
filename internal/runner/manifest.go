package runner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/engine"
)

const ManifestKind = "Archive"

var (
	defaultValidator = validator.New(validator.WithRequiredStructEnabled())
)

// ParseManifest parses a YAML or JSON archive manifest and validates it. Every
// entry must name exactly one source.
func ParseManifest(data []byte) (v1.Archive, error) {
	var manifest v1.Archive
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return v1.Archive{}, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	if err := defaultValidator.Struct(manifest); err != nil {
		return v1.Archive{}, fmt.Errorf("failed to validate manifest: %w", err)
	}

	var errs error
	for i, entry := range manifest.Spec.Entries {
		if _, err := ResolveSourceSpec(entry); err != nil {
			errs = errors.Join(errs, fmt.Errorf("entries[%d]: %w", i, err))
		}
	}
	if manifest.Spec.Output != nil {
		if _, err := ResolveSinkSpec(manifest.Spec.Output); err != nil {
			errs = errors.Join(errs, fmt.Errorf("output: %w", err))
		}
	}
	if errs != nil {
		return v1.Archive{}, fmt.Errorf("failed to validate manifest: %w", errs)
	}

	return manifest, nil
}

// ParseManifestFile reads and parses the manifest at path.
func ParseManifestFile(path string) (v1.Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return v1.Archive{}, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return ParseManifest(data)
}

// BuildVariables creates the variables map for template expansion. It holds
// the built-in ARCHIVE_* variables and the allowed environment variables,
// each of which must be set.
func BuildVariables(manifest v1.Archive, allowedEnv []string, now time.Time) (map[string]string, error) {
	date := now.UTC()
	variables := map[string]string{
		"ARCHIVE_NAME":         manifest.Metadata.Name,
		"ARCHIVE_DATE_ISO8601": date.Format(engine.ISO8601Basic),
		"ARCHIVE_DATE_RFC3339": date.Format(time.RFC3339),
	}

	var errs error
	for _, envName := range allowedEnv {
		val, ok := os.LookupEnv(envName)
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("environment variable %q is not set", envName))
			continue
		}
		variables[envName] = val
	}

	if errs != nil {
		return nil, errs
	}

	return variables, nil
}

// PrepareManifest expands templates in manifest using variables.
func PrepareManifest(manifest *v1.Archive, variables map[string]string) error {
	if err := ExpandTemplates(manifest, variables); err != nil {
		return fmt.Errorf("failed to expand manifest templates: %w", err)
	}
	return nil
}
