package envutil

import "os"

// Get retrieves an environment variable with automatic NFIG_ prefix fallback.
// It checks for the environment variable in this order:
// 1. Exact key as provided
// 2. Key with NFIG_ prefix
// 3. Returns fallback if neither exists
//
// This supports both platform-prefixed and local dev (unprefixed) configurations.
func Get(key, fallback string) string {
	// Try exact key first (supports both prefixed and unprefixed)
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	// Try with NFIG_ prefix if not already prefixed
	if len(key) < 5 || key[:5] != "NFIG_" {
		if value, exists := os.LookupEnv("NFIG_" + key); exists {
			return value
		}
	}

	return fallback
}
