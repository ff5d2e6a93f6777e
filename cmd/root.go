package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evrange/config"
	coremon "github.com/kilianp07/evrange/core/monitoring"
	"github.com/kilianp07/evrange/infra/logger"
	"github.com/kilianp07/evrange/infra/monitoring"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "evrange",
	Short:        "EV remaining-range prediction",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// setup loads the configuration and installs logging and error monitoring.
// The returned func flushes the monitor.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, nil, err
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		logger.New("main").Warnf("sentry disabled: %v", err)
		mon = nil
	}
	coremon.Init(mon)
	return cfg, func() { coremon.Flush(2 * time.Second) }, nil
}
