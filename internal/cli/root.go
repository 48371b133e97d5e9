// Package cli implements the castbridge command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
)

// defaultConfigPath is used when neither --config nor GRAYLOGIC_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

var (
	cfgFile string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "castbridge",
	Short: "Bridge Google Cast devices onto the Gray Logic MQTT bus",
	Long: `castbridge discovers Cast devices on the local network, keeps a session
open to each one and relays their state and instructions over MQTT.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath resolves the config file location. explicit reports whether the
// operator named it.
func configPath() (path string, explicit bool) {
	if cfgFile != "" {
		return cfgFile, true
	}
	if p := os.Getenv("GRAYLOGIC_CONFIG"); p != "" {
		return p, true
	}
	return defaultConfigPath, false
}

// loadConfig reads the config file. When optional is set and no file was
// named, a missing default file yields the built-in defaults.
func loadConfig(optional bool) (*config.Config, error) {
	path, explicit := configPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if optional && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("loading config %s: %w", path, err)
}
