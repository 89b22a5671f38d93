package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

const templateHeader = `# livecontrol configuration
#
# Set admin.password_hash with the output of "livecontrol hashpwd".
# Environment variables (LIVECONTROL_ADDR, LIVECONTROL_JWT_SECRET, REDIS_URL,
# NATS_URL, SENTRY_DSN, LOG_LEVEL) override the values below.

`

// Template returns the defaults with a fresh JWT secret and the admin user
// named "admin".
func Template() (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	cfg := Default()
	cfg.Admin.Username = "admin"
	cfg.JWT.Secret = hex.EncodeToString(secret)
	cfg.Client.Username = "admin"
	return cfg, nil
}

// WriteTemplate writes cfg as commented TOML.
func WriteTemplate(w io.Writer, cfg *Config) error {
	if _, err := io.WriteString(w, templateHeader); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config template: %w", err)
	}
	return nil
}

// WriteTemplateFile creates path with a fresh template. It refuses to
// overwrite an existing file.
func WriteTemplateFile(path string) error {
	cfg, err := Template()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if err := WriteTemplate(f, cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
