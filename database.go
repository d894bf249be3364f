package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"go-require/journal"
)

// getDataDir returns the OS-appropriate data directory for the host
// If GOREQUIRE_DATA_DIR is set, it overrides the default location (useful for testing)
func getDataDir() (string, error) {
	// Check for test/custom override
	if customDir := os.Getenv("GOREQUIRE_DATA_DIR"); customDir != "" {
		if err := os.MkdirAll(customDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create custom data directory: %w", err)
		}
		return customDir, nil
	}

	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, "Library", "Application Support", "go-require")
	case "windows":
		baseDir = filepath.Join(os.Getenv("APPDATA"), "go-require")
	default: // Linux and others
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, ".config", "go-require")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return baseDir, nil
}

// openJournal opens the load journal named by cfg. It returns nil when the
// journal is switched off.
func openJournal(cfg Config) (*journal.Journal, error) {
	if cfg.Journal == journalOff {
		return nil, nil
	}

	path := cfg.Journal
	if path == "" {
		dataDir, err := getDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dataDir, "journal.db")
	}
	log.Printf("Using journal at: %s", path)

	return journal.Open(path)
}
