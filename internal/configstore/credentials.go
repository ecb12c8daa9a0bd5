package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// Credentials holds the saved API token and account/zone selection.
type Credentials struct {
	APIToken  string `json:"api_token,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	ZoneID    string `json:"zone_id,omitempty"`
	ZoneName  string `json:"zone_name,omitempty"`
}

// Configured reports whether the token and account id are present.
func (c *Credentials) Configured() bool {
	return c != nil && c.APIToken != "" && c.AccountID != ""
}

// MaskedToken renders the token for display, e.g. "abcd***...***mnop".
func (c *Credentials) MaskedToken() string {
	if c == nil || c.APIToken == "" {
		return "not set"
	}
	r := []rune(c.APIToken)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "***...***" + string(r[len(r)-4:])
}

// CredentialStore reads and writes the credentials file.
type CredentialStore struct {
	path string
}

// NewCredentialStore builds a store over the given credentials path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// DefaultCredentialsPath resolves the per-user credentials location.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cft", "config.json")
}

// DefaultConfigPath resolves the platform cloudflared config location.
func DefaultConfigPath() string {
	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".cloudflared", "config.yml")
		}
	}
	return "/etc/cloudflared/config.yml"
}

// TunnelCredentialsPath resolves where the agent keeps a tunnel's own
// credential file.
func TunnelCredentialsPath(tunnelID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/etc/cloudflared", tunnelID+".json")
	}
	return filepath.Join(home, ".cloudflared", tunnelID+".json")
}

// Load reads the credentials. A missing file yields empty credentials.
func (s *CredentialStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, &Error{Kind: ParseFailure, Path: s.path, Err: err}
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &Error{Kind: ParseFailure, Path: s.path, Err: err}
	}
	return &creds, nil
}

// Require loads credentials and fails unless token and account are set.
func (s *CredentialStore) Require() (*Credentials, error) {
	creds, err := s.Load()
	if err != nil {
		return nil, err
	}
	if !creds.Configured() {
		return nil, &Error{Kind: NotConfigured, Path: s.path}
	}
	return creds, nil
}

// RequireZone loads credentials and fails unless a zone is selected too.
func (s *CredentialStore) RequireZone() (*Credentials, error) {
	creds, err := s.Require()
	if err != nil {
		return nil, err
	}
	if creds.ZoneID == "" {
		return nil, &Error{Kind: NotConfigured, Path: s.path}
	}
	return creds, nil
}

// Save writes the credentials with owner-only permissions.
func (s *CredentialStore) Save(creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	return nil
}

// Clear removes the credentials file.
func (s *CredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	return nil
}
