package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials stores API keys per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores the key for a single server
type ServerCredential struct {
	APIKey  string    `yaml:"api_key"`
	Name    string    `yaml:"name,omitempty"`
	SavedAt time.Time `yaml:"saved_at,omitempty"`
}

// credentialKey is the map key for a server URL. Trailing slashes are
// dropped so http://host/ and http://host share a key.
func credentialKey(serverURL string) string {
	return strings.TrimRight(serverURL, "/")
}

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".whichdex"
	}
	return filepath.Join(home, ".whichdex")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}
	return &creds, nil
}

// writeCredentials replaces the credentials file atomically so an
// interrupted write never leaves a truncated file behind.
func writeCredentials(creds *Credentials) error {
	dir := credentialsDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), credentialsFilePath())
}

func saveCredential(serverURL, key string) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Servers: make(map[string]ServerCredential)}
	}

	creds.Servers[credentialKey(serverURL)] = ServerCredential{APIKey: key, SavedAt: time.Now().UTC()}
	return writeCredentials(creds)
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[credentialKey(serverURL)].APIKey
}
