// Package main implements the proofmesh server CLI.
//
// Commands:
//   - serve         - run the HTTP+push server
//   - build         - build a repo or module at a version
//   - versions      - list indexed versions of a repo
//   - notes-export  - export all of a user's notes, machine-readable
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"proofmesh/internal/build"
	"proofmesh/internal/config"
	"proofmesh/internal/gdb/sqlitegraph"
	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/shadow"
	"proofmesh/internal/version"
	"proofmesh/internal/web"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "pmesh",
	Short: "proofmesh - versioned proof content server",
	Long: `proofmesh ingests pfsc proof modules, compiles them into dashgraphs and
annotated notes, indexes the results into a versioned property graph, and
serves the content to an interactive front-end.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.Library.DataDir, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStack wires the store, artifact backing, builder, and shadow keeper.
func openStack(cfg *config.Config) (*sqlitegraph.Store, build.ArtifactStore, *build.Builder, *shadow.Keeper, error) {
	store, err := sqlitegraph.Open(cfg.Graph.Path)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	var artifacts build.ArtifactStore
	if cfg.Graph.ArtifactsInGraph {
		artifacts = store
	} else {
		artifacts, err = build.NewFS(cfg.Library.BuildRoot, cfg.Graph.CacheSize)
		if err != nil {
			store.Close()
			return nil, nil, nil, nil, err
		}
	}
	builder := build.NewBuilder(cfg, store, artifacts)
	keeper, err := shadow.NewKeeper(cfg.Library.ShadowRoot)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}
	return store, artifacts, builder, keeper, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proofmesh server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, artifacts, builder, keeper, err := openStack(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		srv := web.NewServer(cfg, store, artifacts, builder, keeper)
		httpServer := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      srv.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		logger.Info("proofmesh listening", zap.String("addr", cfg.Server.Addr))
		return httpServer.ListenAndServe()
	},
}

var (
	buildVers      string
	buildRecursive bool
	buildNoCache   bool
)

var buildCmd = &cobra.Command{
	Use:   "build MODPATH",
	Short: "Build a repo or module at a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, builder, _, err := openStack(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		lp, err := libpath.ParseTrusted(args[0])
		if err != nil {
			return err
		}
		ver, err := version.Parse(buildVers)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Build.Timeout)
		defer cancel()
		start := time.Now()
		err = builder.Build(ctx, build.Request{
			Modpath:   lp,
			Version:   ver,
			Recursive: buildRecursive,
			Caching:   !buildNoCache,
			Monitor: build.FuncMonitor(func(opCode, current, max int, message string) {
				logger.Debug("build progress",
					zap.Int("op", opCode), zap.Int("current", current),
					zap.Int("max", max), zap.String("msg", message))
			}),
		})
		if err != nil {
			return err
		}
		logger.Info("build complete",
			zap.String("modpath", lp.String()),
			zap.String("version", ver.String()),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions REPOPATH",
	Short: "List indexed versions of a repo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlitegraph.Open(cfg.Graph.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		infos, err := store.GetVersionsIndexed(args[0], true)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s", info.Version)
			if info.CommitHash != "" {
				fmt.Printf("\t%s", info.CommitHash)
			}
			fmt.Println()
		}
		return nil
	},
}

var notesExportCmd = &cobra.Command{
	Use:   "notes-export USERNAME",
	Short: "Export all of a user's notes as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlitegraph.Open(cfg.Graph.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		notes, err := store.LoadUserNotes(args[0], nil)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(notes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "proofmesh.yaml", "Config file path")

	buildCmd.Flags().StringVar(&buildVers, "vers", "WIP", "Version to build (WIP or vM.m.p)")
	buildCmd.Flags().BoolVarP(&buildRecursive, "recursive", "r", true, "Build the whole subtree")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Skip the module parse cache")

	rootCmd.AddCommand(serveCmd, buildCmd, versionsCmd, notesExportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
