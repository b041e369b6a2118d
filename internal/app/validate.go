package app

import (
	"fmt"
	"os"

	"chatrelay/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is empty: set security.jwt_secret in config or CHATRELAY_JWT_SECRET env")
	}
	if cfg.Storage.MessagesPath == "" {
		return fmt.Errorf("messages path is empty: set storage.messages_path or CHATRELAY_MESSAGES_PATH env")
	}

	// TLS cert/key presence check if one is set
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Storage.ReadRetry.Attempts < 1 {
		return fmt.Errorf("storage.read_retry.attempts must be at least 1")
	}
	if cfg.Storage.ReadRetry.Delay.Duration() < 0 {
		return fmt.Errorf("storage.read_retry.delay must not be negative")
	}
	return nil
}
