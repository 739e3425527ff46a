// ABOUTME: Entry point for asr-gateway, the streaming speech recognition proxy
// ABOUTME: Defines the root command, config path resolution and the version command

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/asr-gateway/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _
  __ _ ___ _ __       __ _  __ _| |_ _____      ____ _ _   _
 / _' / __| '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| \__ \ | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|___/_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                     |___/                             |___/
`

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "asr-gateway",
	Short:         "Streaming speech recognition gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "config file path")
	rootCmd.AddCommand(versionCmd)
}

// defaultConfigPath returns the path to the gateway config file.
// Priority: ASR_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/asr-gateway/gateway.yaml > ~/.config/asr-gateway/gateway.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("ASR_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "asr-gateway", "gateway.yaml")
}

// loadConfig reads the config file, falling back to defaults when it does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
