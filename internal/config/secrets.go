package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials is the opaque secret bundle injected into components. It is
// never logged.
type Credentials struct {
	VendorKeys       map[string]string
	VelocityUsername string
	VelocityPassword string
}

// VendorKey returns the API key registered for a vendor provider.
func (c Credentials) VendorKey(provider string) (string, bool) {
	key, ok := c.VendorKeys[strings.ToLower(strings.TrimSpace(provider))]
	return key, ok && key != ""
}

// String keeps secrets out of logs and %v output.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{vendors=%d, velocity_user_set=%t}", len(c.VendorKeys), c.VelocityUsername != "")
}

type secretsFile struct {
	VendorAPIKeys    map[string]string `yaml:"vendor_api_keys"`
	VelocityUsername string            `yaml:"velocity_username"`
	VelocityPassword string            `yaml:"velocity_password"`
}

// loadCredentials reads VENDOR_API_KEYS (provider=key,...), VELOCITY_USERNAME
// and VELOCITY_PASSWORD from env, falling back per field to config/secrets.yaml.
func loadCredentials(root string) (Credentials, error) {
	creds := Credentials{VendorKeys: map[string]string{}}

	var sec secretsFile
	secretsPath := filepath.Join(root, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return creds, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &sec); err != nil {
		return creds, fmt.Errorf("parse secrets file: %w", err)
	}

	for provider, key := range sec.VendorAPIKeys {
		creds.VendorKeys[strings.ToLower(strings.TrimSpace(provider))] = strings.TrimSpace(key)
	}
	envKeys, err := parseVendorKeys(os.Getenv("VENDOR_API_KEYS"))
	if err != nil {
		return creds, err
	}
	for provider, key := range envKeys {
		creds.VendorKeys[provider] = key
	}

	creds.VelocityUsername = os.Getenv("VELOCITY_USERNAME")
	if creds.VelocityUsername == "" {
		creds.VelocityUsername = sec.VelocityUsername
	}
	creds.VelocityPassword = os.Getenv("VELOCITY_PASSWORD")
	if creds.VelocityPassword == "" {
		creds.VelocityPassword = sec.VelocityPassword
	}
	return creds, nil
}

func parseVendorKeys(s string) (map[string]string, error) {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		provider, key, ok := strings.Cut(pair, "=")
		provider = strings.ToLower(strings.TrimSpace(provider))
		if !ok || provider == "" {
			return nil, fmt.Errorf("VENDOR_API_KEYS: expected provider=key, got %q", pair)
		}
		out[provider] = strings.TrimSpace(key)
	}
	return out, nil
}
