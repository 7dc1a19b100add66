// Command layersmith splits images into flat colour layers with registration
// marks. It runs as an HTTP/WebSocket service, as an MCP server on stdio, or as
// a one-shot batch tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/config"
	"github.com/ironsheep/layersmith/internal/logging"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// cli holds what the root command prepares for its subcommands.
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "layersmith",
		Short: "Split images into colour layers with registration marks",
		Long: `layersmith segments the subject of each image, upscales it, reduces it to a
small number of flat colour layers and marks every layer with identical corner
crosses so the layers can be printed or cut and stacked in register.

Layers of a batch are written to a zip archive with a manifest per image.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: "+config.DefaultPath+" if present)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(c),
		newMCPCmd(c),
		newProcessCmd(c),
		newPurgeCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) setup() error {
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	} else {
		c.cfg = config.New()
	}

	level := c.logLevel
	if level == "" {
		level = c.cfg.LogLevel()
	}
	logger, err := logging.New(c.cfg.Server.Mode, level)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
