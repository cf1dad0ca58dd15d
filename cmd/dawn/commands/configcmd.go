package commands

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/dawnvoice/dawn/cmd/dawn/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		fmt.Println(config.Path(dir))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		if _, err := os.Stat(config.Path(dir)); err == nil {
			return fmt.Errorf("settings file already exists: %s", config.Path(dir))
		}
		s, err := config.LoadFrom(dir)
		if err != nil {
			return err
		}
		if err := config.Save(dir, s); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", config.Path(dir))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := GetSettings()
		if err != nil {
			return err
		}
		// Secrets stay out of terminal output.
		redacted := *s
		redacted.Text.APIKey = redact(s.Text.APIKey)
		redacted.Memory.Token = redact(s.Memory.Token)
		redacted.Realtime.Token = redact(s.Realtime.Token)

		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.Dir()
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "(set)"
}

func init() {
	configCmd.AddCommand(configPathCmd, configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
