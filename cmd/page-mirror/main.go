package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/page-mirror/internal/config"
	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/alexjbarnes/page-mirror/internal/logging"
	"github.com/alexjbarnes/page-mirror/internal/mirror"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/state"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags are the persistent overrides of the environment configuration.
type flags struct {
	dir         string
	remote      string
	statePath   string
	spaceKey    string
	rootPageID  string
	concurrency int
	mcpListen   string
	mcpToken    string
}

// newRootCmd builds the command tree. Logs go to logOut; command output
// goes to the command's stdout.
func newRootCmd(logOut io.Writer) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "page-mirror",
		Short:         "Mirror a remote page tree into a local directory of markdown files",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringVarP(&f.dir, "dir", "d", "", "local mirror directory (MIRROR_DIR)")
	pf.StringVarP(&f.remote, "remote", "r", "", "directory remote (MIRROR_REMOTE_DIR)")
	pf.StringVar(&f.statePath, "state", "", "state database path (MIRROR_STATE_PATH)")
	pf.StringVar(&f.spaceKey, "space", "", "space key (MIRROR_SPACE_KEY)")
	pf.StringVar(&f.rootPageID, "root-page", "", "mirror only this page's subtree (MIRROR_ROOT_PAGE_ID)")
	pf.IntVarP(&f.concurrency, "concurrency", "c", 0, "pages synced in parallel (MIRROR_CONCURRENCY)")

	root.AddCommand(
		newInitRemoteCmd(f, logOut),
		newSyncCmd(f, logOut),
		newWatchCmd(f, logOut),
		newStatusCmd(f, logOut),
		newConflictsCmd(f, logOut),
		newResolveCmd(f, logOut),
		newPreviewCmd(f, logOut),
		newMigrateCmd(f, logOut),
		newMCPCmd(f, logOut),
		newExportStateCmd(f, logOut),
		newImportStateCmd(f, logOut),
	)

	return root
}

// loadConfig reads the environment and applies any flags that were set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed

	if set("dir") {
		cfg.MirrorDir = f.dir
	}

	if set("remote") {
		cfg.RemoteDir = f.remote
	}

	if set("state") {
		cfg.StatePath = f.statePath
	}

	if set("space") {
		cfg.SpaceKey = f.spaceKey
	}

	if set("root-page") {
		cfg.RootPageID = f.rootPageID
	}

	if set("concurrency") {
		cfg.Concurrency = f.concurrency
	}

	if set("listen") {
		cfg.MCPListen = f.mcpListen
	}

	if set("token") {
		cfg.MCPToken = f.mcpToken
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// app is everything a command needs to work on one mirror.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *state.State
	remote *remote.Dir
	mirror *mirror.Mirror
}

func (a *app) Close() error {
	return a.store.Close()
}

// openApp loads configuration and opens the store, the tree and, when
// needRemote is set, the directory remote. Commands that never reach the
// remote get a mirror without one.
func openApp(cmd *cobra.Command, f *flags, logOut io.Writer, needRemote bool) (*app, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if needRemote {
		if err := cfg.RequireRemote(); err != nil {
			return nil, err
		}
	}

	logger := logging.NewLogger(cfg.Environment, logOut)
	logger.Debug("page-mirror starting",
		slog.String("version", Version),
		slog.String("command", cmd.Name()),
		slog.String("dir", cfg.MirrorDir),
		slog.String("state", cfg.StatePath),
	)

	store, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	var pub remote.Publisher

	if needRemote {
		a.remote, err = remote.OpenDir(cfg.RemoteDir)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("opening remote: %w", err)
		}

		pub = a.remote
	}

	tree, err := localfs.New(cfg.MirrorDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	a.mirror = mirror.New(tree, store, pub, logger, mirror.Options{
		SpaceKey:    cfg.SpaceKey,
		RootPageID:  cfg.RootPageID,
		Concurrency: cfg.Concurrency,
	})

	return a, nil
}
