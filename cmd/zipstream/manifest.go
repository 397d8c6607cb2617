package main

import (
	"fmt"
	"io"
	"os"
	"time"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/runner"
)

// readManifest loads and validates the manifest at filename, "-" meaning stdin.
func readManifest(filename string) (v1.Archive, error) {
	if filename == "" {
		return v1.Archive{}, fmt.Errorf("no manifest file provided")
	}

	var (
		data []byte
		err  error
	)
	if filename == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filename)
	}
	if err != nil {
		return v1.Archive{}, fmt.Errorf("failed to read manifest file '%s': %w", filename, err)
	}

	manifest, err := runner.ParseManifest(data)
	if err != nil {
		return v1.Archive{}, formatValidationError(err)
	}

	return manifest, nil
}

func expandManifest(manifest *v1.Archive, allowedEnv []string) error {
	variables, err := runner.BuildVariables(*manifest, allowedEnv, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build variables: %w", err)
	}

	return runner.PrepareManifest(manifest, variables)
}
