package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GatewayDefaults are the settings read from the gateway's own config.yaml.
type GatewayDefaults struct {
	Host      string
	AuthDir   string
	SecretKey string
	Port      int
}

type gatewayFile struct {
	Host             string `yaml:"host"`
	AuthDir          string `yaml:"auth-dir"`
	Port             int    `yaml:"port"`
	RemoteManagement struct {
		SecretKey string `yaml:"secret-key"`
	} `yaml:"remote-management"`
}

func getDefaultGatewayConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cli-proxy-api", "config.yaml")
}

// LoadGatewayDefaults reads the gateway config at path. It returns nil when
// the file is missing or unreadable.
func LoadGatewayDefaults(path string) *GatewayDefaults {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return parseGatewayConfig(content)
}

func parseGatewayConfig(content []byte) *GatewayDefaults {
	var f gatewayFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil
	}

	gw := &GatewayDefaults{
		Host:    strings.TrimSpace(f.Host),
		Port:    f.Port,
		AuthDir: expandHome(strings.TrimSpace(f.AuthDir)),
	}
	// The gateway replaces a plaintext key with its bcrypt hash on startup;
	// a hash is useless as a bearer token.
	if key := strings.TrimSpace(f.RemoteManagement.SecretKey); key != "" && !strings.HasPrefix(key, "$2") {
		gw.SecretKey = key
	}

	if gw.Port == 0 && gw.AuthDir == "" && gw.SecretKey == "" {
		return nil
	}
	return gw
}

// URL returns the management base URL implied by host and port.
func (g *GatewayDefaults) URL() string {
	if g.Port == 0 {
		return ""
	}
	host := g.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, g.Port)
}

func (g *GatewayDefaults) apply(cfg *Config) {
	setString(&cfg.ManagementURL, g.URL())
	setString(&cfg.ManagementKey, g.SecretKey)
	setString(&cfg.AuthDir, g.AuthDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
