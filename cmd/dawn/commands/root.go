package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dawnvoice/dawn/cmd/dawn/internal/config"
)

var (
	// Global flags
	verbose   bool
	configDir string

	// Global settings (loaded lazily)
	globalSettings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "dawn",
	Short: "Dual-mode AI conversation client",
	Long: `dawn - one conversation across text and realtime voice.

A dawn session keeps a single ordered transcript whether you type or talk.
Text messages go to a completion provider; starting a call switches to a
realtime voice channel, and everything said in either mode lands in the same
persisted conversation log backed by long-term memory.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/dawn/dawn.yaml
  Linux:   ~/.config/dawn/dawn.yaml
  Windows: %AppData%/dawn/dawn.yaml

Examples:
  # Write a default config file, then edit it
  dawn config init

  # Start chatting; use /call inside the session to go realtime
  dawn chat

  # Archive the transcript
  dawn export`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default: OS config dir)")
}

// GetSettings loads the settings once and caches them.
func GetSettings() (*config.Settings, error) {
	if globalSettings != nil {
		return globalSettings, nil
	}
	var (
		s   *config.Settings
		err error
	)
	if configDir != "" {
		s, err = config.LoadFrom(configDir)
	} else {
		s, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("settings not available: %w", err)
	}
	globalSettings = s
	return s, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
