package config

import (
	"os"
	"path/filepath"
)

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultLedgerPath returns the default path for the SQLite session ledger.
func DefaultLedgerPath() string {
	return filepath.Join(XDGDataHome(), "selfiebot", "sessions.db")
}
