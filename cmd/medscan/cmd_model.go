package main

import (
	"encoding/json"
	"io"

	"go-medscan/internal/container"
	"go-medscan/internal/logger"
	"go-medscan/internal/observer"
	"go-medscan/internal/transport"

	"github.com/spf13/cobra"
)

func newModelCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Print the configured model's details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger.Logger.SetOutput(stderr)

			svc, provider, err := container.NewPipeline(cfg, observer.NewEventPublisher())
			if err != nil {
				return err
			}
			defer provider.Close()

			meta, err := svc.Model()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(transport.ToModelDetails(meta))
		},
	}
}
