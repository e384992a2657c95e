package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/langport/worker/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveController, "controller", "", "Controller address (overrides config)")
	serveCmd.Flags().StringVar(&serveWorkerAddr, "worker-address", "", "Address advertised to the controller (overrides config)")
	serveCmd.Flags().StringVar(&serveModel, "model-name", "", "Model name to report (overrides config)")
	serveCmd.Flags().IntVar(&serveMaxBatch, "max-batch", 0, "Maximum tasks per decoding pass (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost       string
	servePort       int
	serveController string
	serveWorkerAddr string
	serveModel      string
	serveMaxBatch   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register with the controller and serve generation requests",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	applyServeFlags(&cfg)

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}

// applyServeFlags overrides config values with any flags that were set.
func applyServeFlags(cfg *daemon.Config) {
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveController != "" {
		cfg.Controller.Address = serveController
	}
	if serveWorkerAddr != "" {
		cfg.Worker.Address = serveWorkerAddr
	}
	if serveModel != "" {
		cfg.Worker.ModelName = serveModel
	}
	if serveMaxBatch > 0 {
		cfg.Worker.MaxBatch = serveMaxBatch
	}
}
