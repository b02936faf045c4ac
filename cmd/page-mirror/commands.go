package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/mcpserver"
	"github.com/alexjbarnes/page-mirror/internal/merge"
	"github.com/alexjbarnes/page-mirror/internal/mirror"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/server"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newInitRemoteCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-remote",
		Short: "Create an empty directory remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := cfg.RequireRemote(); err != nil {
				return err
			}

			if _, err := remote.InitDir(cfg.RemoteDir, cfg.SpaceKey); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "initialized remote at %s\n", cfg.RemoteDir)
			return err
		},
	}
}

func newSyncCmd(f *flags, logOut io.Writer) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass between the remote and the local tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, true)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.mirror.Sync(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}

			if n := len(report.Failed()); n > 0 {
				return fmt.Errorf("%d pages failed to sync", n)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sync report as JSON")

	return cmd
}

func newWatchCmd(f *flags, logOut io.Writer) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync now, then again on every local change and on a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			if _, err := a.mirror.Sync(ctx); err != nil {
				return fmt.Errorf("initial sync: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)

			watcher := mirror.NewWatcher(a.mirror, a.cfg.WatchDebounce, a.logger)
			g.Go(func() error {
				return watcher.Watch(gctx)
			})

			// Remote edits never show up as file events.
			g.Go(func() error {
				return pollRemote(gctx, a.mirror, interval, a.logger)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "how often to sync remote changes")

	return cmd
}

func pollRemote(ctx context.Context, m *mirror.Mirror, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				logger.Warn("scheduled sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func newStatusCmd(f *flags, logOut io.Writer) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of every tracked page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.mirror.Status()
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			return mirror.RenderStatus(cmd.OutOrStdout(), entries, time.Now())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}

func newConflictsCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List pages waiting for conflict resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.mirror.Conflicts()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if len(entries) == 0 {
				_, err := fmt.Fprintln(out, "no conflicts")
				return err
			}

			for _, e := range entries {
				if _, err := fmt.Fprintf(out, "%s (%s): %d regions\n", e.Path, e.Title, len(e.Regions)); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newResolveCmd(f *flags, logOut io.Writer) *cobra.Command {
	var side string

	cmd := &cobra.Command{
		Use:   "resolve PATH",
		Short: "Keep one side of every conflict region in a page file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := merge.ParseSide(side)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, f, logOut, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ps, err := a.mirror.Resolve(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "resolved %s with %s side, now %s\n", ps.Path, s, ps.SyncState)
			return err
		},
	}

	cmd.Flags().StringVarP(&side, "side", "s", "", "side to keep: local or remote")
	_ = cmd.MarkFlagRequired("side")

	return cmd
}

func newPreviewCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Print where every remote page would be placed locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, true)
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.mirror.PreviewPaths(cmd.Context())
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(plan))
			for id := range plan {
				ids = append(ids, id)
			}

			sort.Slice(ids, func(i, j int) bool { return plan[ids[i]].RelativePath < plan[ids[j]].RelativePath })

			for _, id := range ids {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", plan[id].RelativePath, id); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newMigrateCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move pages from the name.md + name/ layout to name/index.md",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, false)
			if err != nil {
				return err
			}
			defer a.Close()

			done, err := a.mirror.MigrateLayout()

			for _, mig := range done {
				if _, werr := fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", mig.OldPath, mig.NewPath); werr != nil {
					return werr
				}
			}

			if err != nil {
				return err
			}

			if len(done) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "nothing to migrate")
			}

			return err
		},
	}
}

func newMCPCmd(f *flags, logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the mirror tools over MCP on stdio, or on HTTP with --listen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, f, logOut, true)
			if err != nil {
				return err
			}
			defer a.Close()

			mcpServer := mcp.NewServer(
				&mcp.Implementation{Name: "page-mirror", Version: Version},
				nil,
			)
			mcpserver.RegisterTools(mcpServer, a.mirror)

			ctx := cmd.Context()

			if a.cfg.MCPListen != "" {
				mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
					return mcpServer
				}, nil)

				mux := server.NewMux(server.MuxConfig{
					MCPHandler: mcpHandler,
					Token:      a.cfg.MCPToken,
					Logger:     a.logger,
				})

				return server.Serve(ctx, a.cfg.MCPListen, mux, a.logger)
			}

			a.logger.Info("starting MCP server on stdio", slog.String("dir", a.cfg.MirrorDir))

			if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&f.mcpListen, "listen", "", "serve streamable HTTP on this address (MIRROR_MCP_LISTEN)")
	cmd.Flags().StringVar(&f.mcpToken, "token", "", "bearer token for the HTTP endpoint (MIRROR_MCP_TOKEN)")

	return cmd
}

func newExportStateCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "export-state [FILE]",
		Short: "Write the sync state as JSON to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, f, logOut, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				return a.store.Export(cmd.OutOrStdout())
			}

			file, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}

			if err := a.store.Export(file); err != nil {
				file.Close()
				return err
			}

			return file.Close()
		},
	}
}

func newImportStateCmd(f *flags, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "import-state FILE",
		Short: "Replace the sync state with an exported JSON snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, f, logOut, false)
			if err != nil {
				return err
			}
			defer a.Close()

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			if err := a.store.Import(file); err != nil {
				return fmt.Errorf("importing %s: %w", args[0], err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d pages\n", a.store.PageCount())
			return err
		},
	}
}

func printReport(w io.Writer, r *mirror.Report) error {
	_, err := fmt.Fprintf(w, "pulled %d, pushed %d, merged %d, unchanged %d, relocated %d, conflicts %d, failed %d\n",
		r.Count(mirror.DecisionPull),
		r.Count(mirror.DecisionPush),
		r.Count(mirror.DecisionMerge),
		r.Count(mirror.DecisionSkip),
		len(r.Relocated),
		len(r.Conflicts()),
		len(r.Failed()),
	)
	if err != nil {
		return err
	}

	for _, p := range r.Conflicts() {
		if _, err := fmt.Fprintf(w, "conflict: %s\n", p.Path); err != nil {
			return err
		}
	}

	for _, p := range r.Failed() {
		if _, err := fmt.Fprintf(w, "failed: %s: %v\n", p.Path, p.Err); err != nil {
			return err
		}
	}

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
