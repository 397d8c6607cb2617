package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/runner"
	"github.com/infracollect/zipstream/internal/sinks"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var buildCommand = &cli.Command{
	Name:  "build",
	Usage: "Stream the archive described by a manifest to its sink",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "allowed-env",
			Usage: "Environment variables allowed in manifest templates (can be repeated)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the archive to this file instead of the manifest sink",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Write the archive to stdout even when it is a terminal",
		},
	},
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "manifest",
			UsageText: "The manifest file to build, - for stdin",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		filename := command.StringArg("manifest")
		logger = logger.With(zap.String("manifest_filename", filename))

		manifest, err := readManifest(filename)
		if err != nil {
			return fmt.Errorf("failed to parse manifest: %w", err)
		}

		if err := expandManifest(&manifest, command.StringSlice("allowed-env")); err != nil {
			return err
		}

		if output := command.String("output"); output != "" {
			manifest.Spec.Output = outputToFile(output)
		}

		resolved, err := runner.ResolveSinkSpec(manifest.Spec.Output)
		if err != nil {
			return err
		}
		if resolved.Kind == sinks.StdoutKind && isTerminal(os.Stdout) && !command.Bool("force") {
			return fmt.Errorf("refusing to write a binary archive to a terminal, redirect stdout or pass --force")
		}

		registry := runner.BuildRegistry(logger, os.Stdout, command.String("default-region"))
		r, err := runner.New(ctx, logger.Named("runner"), registry, manifest)
		if err != nil {
			return fmt.Errorf("failed to create runner: %w", err)
		}

		summary, err := r.Run(ctx)
		if err != nil {
			return fmt.Errorf("failed to build archive: %w", err)
		}

		if isInteractive(ctx) && resolved.Kind != sinks.StdoutKind {
			fmt.Fprintf(os.Stderr, "✓ Wrote %d entries (%d bytes) to %s\n", summary.Entries, summary.Bytes, r.Sink().Name())
		}

		return nil
	},
}

func outputToFile(path string) *v1.OutputSpec {
	return &v1.OutputSpec{
		Sink: &v1.SinkSpec{
			Filesystem: &v1.FilesystemSink{
				Path: filepath.Dir(path),
				Name: filepath.Base(path),
			},
		},
	}
}
