// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxsight/license-client/internal/authority"
	"github.com/foxsight/license-client/internal/config"
)

var Version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "license-client",
		Short: "Foxsight on-premise license client",
		Long: `license-client keeps the Foxsight Central Command VMS license in sync
with the central licensing authority and answers feature checks locally,
including while the installation is offline.`,
		SilenceUsage: true,
	}

	rootCmd.Version = Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunActivateCommand())
	rootCmd.AddCommand(RunStatusCommand())
	rootCmd.AddCommand(RunInstallationIDCommand())

	return rootCmd
}

type commonFlags struct {
	configDir string
	dataDir   string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (default is OS-specific: ~/.config/foxsight-license/ or %APPDATA%\\foxsight-license\\)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "",
		"data directory for the license database (default is next to config file)")
}

func RunServeCommand() *cobra.Command {
	var (
		flags   commonFlags
		logPath string
	)

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the license client service",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(Version, flags.configDir, flags.dataDir, logPath)
			return app.runServer()
		},
	}

	flags.register(command)
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of license-client",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the service.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/foxsight-license/config.toml
- Windows: %APPDATA%\foxsight-license\config.toml

You can specify either a directory path or a direct file path:
- Directory: license-client generate-config --config-dir /path/to/config/
- File: license-client generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configFilePath(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func configFilePath(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

func RunActivateCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "activate [license-key]",
		Short: "Activate a license key for this installation",
		Long: `Activate a license key with the licensing authority and cache it locally.

The key is prompted for with hidden input when it is not passed as an
argument. A running service picks up a license activated here on its next
validation pass; its heartbeat starts after the next restart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var licenseKey string
			if len(args) == 1 {
				licenseKey = args[0]
			} else {
				var err error
				licenseKey, err = readLicenseKey(cmd.InOrStdin(), cmd.ErrOrStderr(), "Enter license key: ")
				if err != nil {
					return err
				}
			}

			licenseKey = strings.TrimSpace(licenseKey)
			if licenseKey == "" {
				return fmt.Errorf("license key cannot be empty")
			}

			app := NewApplication(Version, flags.configDir, flags.dataDir, "")
			rt, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*rt.cfg.Config.License.Timeout())
			defer cancel()

			result, err := rt.license.Activate(ctx, licenseKey)
			if err != nil {
				return fmt.Errorf("failed to activate license: %w", err)
			}
			if !result.Success {
				return fmt.Errorf("activation failed: %s", result.Error)
			}

			cmd.Printf("License %s activated successfully\n", authority.MaskLicenseKey(licenseKey))
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunStatusCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "status",
		Short: "Validate the cached license and print its status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(Version, flags.configDir, flags.dataDir, "")
			rt, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*rt.cfg.Config.License.Timeout())
			defer cancel()

			status, err := rt.license.GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get license status: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}

	flags.register(command)

	return command
}

func RunInstallationIDCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "installation-id",
		Short: "Print the installation and hardware identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(Version, flags.configDir, flags.dataDir, "")
			rt, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			cmd.Printf("installationId: %s\n", rt.license.InstallationID())
			cmd.Printf("hardwareId:     %s\n", rt.license.HardwareID())
			return nil
		},
	}

	flags.register(command)

	return command
}

// readLicenseKey hides input when in is an interactive terminal.
func readLicenseKey(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read license key: %w", err)
		}
		return string(key), nil
	}

	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read license key from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func serverTimeouts(read, write, idle int) (time.Duration, time.Duration, time.Duration) {
	readTimeout := time.Duration(read) * time.Second
	writeTimeout := time.Duration(write) * time.Second
	idleTimeout := time.Duration(idle) * time.Second

	if readTimeout == 0 {
		readTimeout = 60 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 120 * time.Second
	}
	if idleTimeout == 0 {
		idleTimeout = 180 * time.Second
	}
	return readTimeout, writeTimeout, idleTimeout
}
