package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"safedrive/internal/config"
	"safedrive/internal/container"
	"safedrive/internal/container/aferostore"
	"safedrive/internal/container/boltstore"
	"safedrive/internal/fs"
	"safedrive/internal/logging"
	"safedrive/internal/state"
	"safedrive/internal/vfs"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
)

var (
	logger = logging.GetLogger()
)

func main() {
	mountPoint := flag.StringP("mount", "m", "", "Mount point for the filesystem")
	configFile := flag.StringP("config", "c", "~/.safedrive/config.yaml", "Configuration file")
	stateFile := flag.String("state", "", "State file path (overrides the config file)")
	verbose := flag.BoolP("verbose", "v", false, "Enable verbose logging")
	allowOther := flag.Bool("allow-other", false, "Allow other users to access the mount")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if level, err := logging.ParseLevel(cfg.LogLevel); err == nil && os.Getenv("LOG_LEVEL") == "" {
		logger.SetLevel(level)
	}
	if *verbose {
		logger.SetLevel(logging.LevelDebug)
	}
	if *mountPoint != "" {
		cfg.MountPoint = *mountPoint
	}
	if *stateFile != "" {
		cfg.StateFile = *stateFile
	}
	if flag.CommandLine.Changed("allow-other") {
		cfg.AllowOther = *allowOther
	}

	logger.Info("Starting safedrive...")
	logger.Debug("Mount point: %s", cfg.MountPoint)
	logger.Debug("State file: %s", cfg.StateFile)
	logger.Debug("Backend: %s %s", cfg.Backend.Type, cfg.Backend.Path)

	if cfg.MountPoint == "" || cfg.StateFile == "" {
		logger.Error("Mount point and state file path are required")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	cleanMount := filepath.Clean(cfg.MountPoint)

	provider, closer, err := openBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer closer.Close()

	capacity, err := cfg.CapacityBytes()
	if err != nil {
		return err
	}
	logger.Debug("Reporting capacity of %s", humanize.Bytes(capacity))

	logger.Info("Initializing state manager...")
	stateManager, err := state.NewManager(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}
	fsState, err := stateManager.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	session := vfs.New(vfs.Options{
		Provider:          provider,
		DefaultContainers: cfg.DefaultContainers,
		WebNamespace:      cfg.WebMounts.Namespace,
		WebScheme:         cfg.WebMounts.Scheme,
		Capacity:          capacity,
	})
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Close()

	for _, m := range cfg.Mounts {
		ref := container.Ref{Name: m.Name, Locator: m.Locator}
		if _, err := session.Mount(ctx, vfs.NewPath(m.Path), ref, m.Lazy); err != nil {
			logger.Warn("Configured mount %s failed: %v", m.Path, err)
		}
	}
	state.Restore(ctx, session, fsState)

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	filesystem := fs.New(session, fs.Options{AllowOther: cfg.AllowOther})
	if err := filesystem.Mount(cleanMount); err != nil {
		return err
	}
	logger.Info("Filesystem mounted and ready")

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v", sig)
		if err := filesystem.Unmount(cleanMount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
		<-filesystem.Done()
	case <-filesystem.Done():
		logger.Info("Filesystem was unmounted externally")
	}

	if err := stateManager.SaveState(state.Capture(session)); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openBackend(b config.Backend) (container.Provider, io.Closer, error) {
	switch b.Type {
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(b.Path), 0700); err != nil {
			return nil, nil, err
		}
		store, err := boltstore.Open(b.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case config.BackendDir:
		store, err := aferostore.NewDir(b.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	case config.BackendMemory:
		return aferostore.NewMemory(), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend type %q", b.Type)
}
