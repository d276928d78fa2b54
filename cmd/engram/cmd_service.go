package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/daemon"
	"github.com/engramhq/engram/pkg/config"
)

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and consolidation loop in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the detached engram service",
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service detached from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d := daemon.New(filepath.Dir(cfg.Database.Path), Version)
		if serveForeground {
			return runService()
		}
		if err := d.Daemonize([]string{"serve"}); err != nil {
			return err
		}
		fmt.Println("Service starting in the background.")
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d := daemon.New(filepath.Dir(cfg.Database.Path), Version)
		if err := d.Stop(); err != nil {
			return err
		}
		fmt.Println("Service stopped.")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d := daemon.New(filepath.Dir(cfg.Database.Path), Version)
		status := d.Status()
		if !status.Running {
			fmt.Println("Service is not running.")
			return nil
		}
		fmt.Printf("Running: pid=%d uptime=%s version=%s\n",
			status.PID, status.Uptime.Round(time.Second), status.Version)
		if status.RESTEnabled {
			fmt.Printf("REST API: http://%s:%d\n", status.RESTHost, status.RESTPort)
		}
		return nil
	},
}

// runService hosts the engine, the REST API, the consolidation loop, and
// the config hot-reload watcher until SIGINT/SIGTERM.
func runService() error {
	eng, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	d := daemon.New(filepath.Dir(cfg.Database.Path), Version)
	if err := d.Start(cfg.RestAPI.Enabled, cfg.RestAPI.Host, cfg.RestAPI.Port); err != nil {
		return err
	}
	defer d.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.StartBackground(ctx)

	snapshot := config.NewSnapshot(cfg)
	if err := snapshot.Watch(func(fresh *config.Config) {
		eng.ApplyHotReload(fresh)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "config watcher unavailable: %v\n", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if !cfg.RestAPI.Enabled {
		fmt.Println("REST API disabled; running consolidation loop only.")
		<-sigChan
		return nil
	}

	server := api.NewServer(eng, cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func init() {
	serviceStartCmd.Flags().BoolVar(&serveForeground, "foreground", false, "run in the foreground instead of detaching")
	serviceCmd.AddCommand(serviceStartCmd, serviceStopCmd, serviceStatusCmd)
	rootCmd.AddCommand(serveCmd, serviceCmd)
}
