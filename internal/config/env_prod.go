//go:build !dev

package config

// Release builds take configuration from the process environment only.
func loadEnvFile(string) error {
	return nil
}
