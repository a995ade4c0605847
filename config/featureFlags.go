package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AllowWriteOff controls whether admins may forgive an outstanding balance
// during package distribution instead of leaving it owed.
//
// Set via env:
// - ALLOW_WRITE_OFF=true
func AllowWriteOff() bool {
	return boolFromEnv("ALLOW_WRITE_OFF", false)
}

// AutoCloseManifests controls whether a manifest is closed automatically once
// every package under it has been delivered. On by default; disable only for
// data-repair sessions where packages are re-delivered.
//
// Set via env:
// - AUTO_CLOSE_MANIFESTS=false
func AutoCloseManifests() bool {
	return boolFromEnv("AUTO_CLOSE_MANIFESTS", true)
}
