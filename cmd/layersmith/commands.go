package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/httpapi"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
	"github.com/ironsheep/layersmith/internal/server"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := c.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Info("starting layersmith server",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit))

			go purgeLoop(ctx, a.store, c.logger)

			gin.SetMode(c.cfg.Server.Mode)
			srv := httpapi.New(httpapi.Deps{
				Server:       c.cfg.Server,
				Upload:       c.cfg.Upload,
				Orchestrator: a.orch,
				Store:        a.store,
				Registry:     a.registry,
				Build:        httpapi.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
				Logger:       c.logger.Named("http"),
			})
			return srv.Run(ctx)
		},
	}
}

// purgeLoop removes expired archives until ctx is done.
func purgeLoop(ctx context.Context, store *archive.Store, logger *zap.Logger) {
	interval := store.TTL() / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.Purge(); err != nil {
				logger.Warn("archive purge failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("expired archives removed", zap.Int("count", n))
			}
		}
	}
}

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Run as a Model Context Protocol server. Requests are read from stdin and
responses written to stdout, one JSON-RPC message per line. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := c.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Debug("mcp server starting", zap.String("version", Version))
			srv := server.New(server.Deps{
				Orchestrator: a.orch,
				Store:        a.store,
				Version:      Version,
				Logger:       c.logger.Named("mcp"),
			})
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// processSummary is printed by the process command.
type processSummary struct {
	BatchID     string               `json:"batch_id"`
	Status      pipeline.Status      `json:"status"`
	Successes   []archive.ImageEntry `json:"successes"`
	Failures    []pipeline.Failure   `json:"failures"`
	ArchivePath string               `json:"archive_path,omitempty"`
}

func newProcessCmd(c *cli) *cobra.Command {
	var clusters int

	cmd := &cobra.Command{
		Use:   "process <files...>",
		Short: "Process image files into a layer archive",
		Long: `Run one batch over the given files and print a JSON summary to stdout.
The archive is written to the configured archive directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := layers.ValidateCount(clusters); err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := c.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inputs := make([]pipeline.Input, 0, len(args))
			for _, p := range args {
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", p, err)
				}
				inputs = append(inputs, pipeline.Input{Filename: filepath.Base(p), Data: data})
			}

			res, err := a.orch.ProcessBatch(ctx, inputs, pipeline.Options{
				ClusterCount: clusters,
				Progress: func(e pipeline.ProgressEvent) {
					c.logger.Info("progress",
						zap.String("file", e.Filename),
						zap.String("stage", e.Stage.String()),
						zap.Int("percent", e.Percent))
				},
			})
			if res == nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(processSummary{
				BatchID:     res.BatchID,
				Status:      res.Status,
				Successes:   res.Successes,
				Failures:    res.Failures,
				ArchivePath: res.ArchivePath,
			}); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&clusters, "clusters", "k", layers.AutoCount, "Layers per region (1-10, 0 for automatic)")
	return cmd
}

func newPurgeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove archives older than the configured TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archive.NewStore(c.cfg.Archive.Dir, c.cfg.Archive.TTL, c.logger)
			if err != nil {
				return err
			}
			n, err := store.Purge()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired archive(s) from %s\n", n, store.Dir())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "layersmith %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
