package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"go-medscan/internal/container"
	apperrors "go-medscan/internal/errors"
	"go-medscan/internal/logger"
	"go-medscan/internal/observer"
	"go-medscan/pkg/validation"

	"github.com/spf13/cobra"
)

func newPredictCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <file>",
		Short: "Classify a single scan and print the result as JSON",
		Long: `Run the prediction pipeline on a local file without starting the server.

Examples:
  medscan predict scan.png
  medscan predict volume.nii.gz --overlay attention.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, stdout, stderr, args[0])
		},
	}
	cmd.Flags().String("overlay", "", "Write the heat-map overlay to this PNG file")
	return cmd
}

func runPredict(cmd *cobra.Command, stdout, stderr io.Writer, path string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the JSON result
	logger.Logger.SetOutput(stderr)

	ext, err := validation.NewUploadValidator().Extension(filepath.Base(path))
	if err != nil {
		fmt.Fprintf(stderr, "medscan: %s: %s\n", path, apperrors.PublicMessage(err))
		return errExit
	}

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))

	svc, provider, err := container.NewPipeline(cfg, events)
	if err != nil {
		return err
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	result, err := svc.Predict(ctx, path, ext)
	if err != nil {
		fmt.Fprintf(stderr, "medscan: %s: %v\n", path, err)
		return errExit
	}

	overlayPath, _ := cmd.Flags().GetString("overlay")
	if overlayPath != "" && result.Overlay != nil {
		if err := writePNG(overlayPath, result.Overlay.Image); err != nil {
			return err
		}
	} else {
		overlayPath = ""
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.ToResponse(path, overlayPath))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating overlay file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding overlay: %w", err)
	}
	return f.Close()
}
