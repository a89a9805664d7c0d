// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfig(t *testing.T) {
	tests := []struct {
		name            string
		existingFile    bool
		validateContent func(t *testing.T, content string)
	}{
		{
			name:         "create_new_config",
			existingFile: false,
			validateContent: func(t *testing.T, content string) {
				assert.Contains(t, content, "# config.toml")
				assert.Contains(t, content, "host =")
				assert.Contains(t, content, "port =")
				assert.Contains(t, content, "adminApiKey =")
				assert.Contains(t, content, "logLevel =")
				assert.Contains(t, content, "[license]")
				assert.Contains(t, content, "offlineGracePeriodHours = 72")
				assert.Contains(t, content, "[httpTimeouts]")
				assert.NotContains(t, content, "{{")
			},
		},
		{
			name:         "skip_existing_config",
			existingFile: true,
			validateContent: func(t *testing.T, content string) {
				assert.Equal(t, "existing content", content)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.toml")

			if tt.existingFile {
				require.NoError(t, os.WriteFile(configPath, []byte("existing content"), 0644))
			}

			require.NoError(t, WriteDefaultConfig(configPath))

			content, err := os.ReadFile(configPath)
			require.NoError(t, err)
			tt.validateContent(t, string(content))
		})
	}
}

func TestGetDefaultConfigDir(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		envVars     map[string]string
		expectedDir string
	}{
		{
			name:        "linux_xdg_config_home",
			goos:        "linux",
			envVars:     map[string]string{"XDG_CONFIG_HOME": "/custom/config"},
			expectedDir: "/custom/config/foxsight-license",
		},
		{
			name:        "docker_config_path",
			goos:        "linux",
			envVars:     map[string]string{"XDG_CONFIG_HOME": "/config"},
			expectedDir: "/config",
		},
		{
			name:        "windows_appdata",
			goos:        "windows",
			envVars:     map[string]string{"APPDATA": "C:\\Users\\test\\AppData\\Roaming"},
			expectedDir: "C:\\Users\\test\\AppData\\Roaming\\foxsight-license",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.goos != runtime.GOOS {
				t.Skip("Skipping test for different OS")
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			assert.Equal(t, tt.expectedDir, GetDefaultConfigDir())
		})
	}
}

func TestConfigGenerationIntegration(t *testing.T) {
	t.Run("generate_config_in_custom_directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		configDir := filepath.Join(tmpDir, "custom", "config")

		_, err := os.Stat(configDir)
		assert.True(t, os.IsNotExist(err))

		configPath := filepath.Join(configDir, "config.toml")
		require.NoError(t, WriteDefaultConfig(configPath))

		info, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.False(t, info.IsDir())

		cfg, err := New(configPath)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cfg.Config.License.APIURL, "http://"))
	})

	t.Run("generated_keys_differ", func(t *testing.T) {
		tmpDir := t.TempDir()
		first := filepath.Join(tmpDir, "a.toml")
		second := filepath.Join(tmpDir, "b.toml")
		require.NoError(t, WriteDefaultConfig(first))
		require.NoError(t, WriteDefaultConfig(second))

		a, err := New(first)
		require.NoError(t, err)
		b, err := New(second)
		require.NoError(t, err)
		assert.NotEqual(t, a.Config.AdminAPIKey, b.Config.AdminAPIKey)
	})
}
