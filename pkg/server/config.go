package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
	SMTP   SMTPSection   `toml:"smtp"`
}

type ServerSection struct {
	ListenAddr   string `toml:"listen_addr"`
	MetricsAddr  string `toml:"metrics_addr"`
	DatabasePath string `toml:"database_path"`
}

type LimitsSection struct {
	BroadcastWorkers int `toml:"broadcast_workers"`
	ReplyWorkers     int `toml:"reply_workers"`
	HistoryLimit     int `toml:"history_limit"`
}

type SMTPSection struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	From string `toml:"from"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// DefaultTOMLConfig returns the default configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			ListenAddr:   ":8765",
			MetricsAddr:  ":9100",
			DatabasePath: "~/.cryptochat/chat.db",
		},
		Limits: LimitsSection{
			BroadcastWorkers: 100,
			ReplyWorkers:     10,
			HistoryLimit:     100,
		},
		SMTP: SMTPSection{
			Host: "",
			Port: 587,
			From: "noreply@localhost",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default file
// if none exists yet.
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Not fatal: run with defaults even if the file can't be written
			return config, nil
		}
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# cryptochat server configuration
# This file was auto-generated with default values.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// GetDatabasePath returns the database path with ~ expansion applied.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return ExpandPath(c.Server.DatabasePath)
}
