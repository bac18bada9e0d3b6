// medscan serves and runs the brain MRI classification pipeline.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go-medscan/internal/config"
	"go-medscan/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already reported its error.
var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "medscan: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "medscan",
		Short:         "Brain MRI classification service",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "medscan: unknown command %q\n", args[0])
			return errExit
		},
	}
	root.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	root.AddCommand(
		newServeCmd(stdout, stderr),
		newPredictCmd(stdout, stderr),
		newModelCmd(stdout, stderr),
	)
	return root
}

// loadConfig reads the environment and applies the shared flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}
