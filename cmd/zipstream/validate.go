package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/infracollect/zipstream/internal/runner"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate an archive manifest without reading any source",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "allowed-env",
			Usage: "Environment variables allowed in manifest templates (can be repeated)",
		},
	},
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "manifest",
			UsageText: "The manifest file to validate, - for stdin",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		filename := command.StringArg("manifest")
		logger = logger.With(zap.String("manifest_filename", filename))
		logger.Debug("validating manifest file")

		manifest, err := readManifest(filename)
		if err != nil {
			fmt.Println(err)
			return fmt.Errorf("manifest file '%s' is invalid", filename)
		}

		if err := expandManifest(&manifest, command.StringSlice("allowed-env")); err != nil {
			return err
		}

		registry := runner.BuildRegistry(logger, io.Discard, command.String("default-region"))
		entries, err := runner.Check(ctx, logger.Named("runner"), registry, manifest)
		if err != nil {
			return fmt.Errorf("manifest file '%s' is invalid: %w", filename, err)
		}

		fmt.Printf("✓ Manifest file '%s' is valid (%d entries)\n", filename, entries)
		return nil
	},
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("manifest has %d validation error(s):", len(validationErrs)))
		for _, fe := range validationErrs {
			sb.WriteString(fmt.Sprintf("\n  • %s: failed '%s' validation", fe.Namespace(), fe.Tag()))
			if fe.Param() != "" {
				sb.WriteString(fmt.Sprintf(" (param: %s)", fe.Param()))
			}
		}
		return errors.New(sb.String())
	}
	return err
}
