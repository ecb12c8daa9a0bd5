// Package configstore owns the on-disk cloudflared configuration: the
// declarative ingress mapping file and the saved API credentials. Writes
// are atomic and a file-scoped advisory lock serializes full reconcile
// cycles against the same file.
package configstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// CatchAllService terminates every ingress rule list.
const CatchAllService = "http_status:404"

// Rule binds a public hostname to a local service. A rule without a
// hostname is the catch-all and must be last.
type Rule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
	Path     string `yaml:"path,omitempty"`
}

// Snapshot is the full declarative state held by the config file.
type Snapshot struct {
	Tunnel          string `yaml:"tunnel"`
	CredentialsFile string `yaml:"credentials-file"`
	Ingress         []Rule `yaml:"ingress"`
}

// Hostnames returns the declared hostnames, excluding the catch-all.
func (s *Snapshot) Hostnames() (hosts []string) {
	for _, r := range s.Ingress {
		if r.Hostname != "" {
			hosts = append(hosts, r.Hostname)
		}
	}
	return
}

// Rule returns the rule for a hostname.
func (s *Snapshot) Rule(hostname string) (Rule, bool) {
	for _, r := range s.Ingress {
		if r.Hostname == hostname {
			return r, true
		}
	}
	return Rule{}, false
}

// SetRule inserts or replaces the rule for a hostname, keeping the
// catch-all rule in the final position.
func (s *Snapshot) SetRule(rule Rule) {
	for i, r := range s.Ingress {
		if r.Hostname == rule.Hostname {
			s.Ingress[i] = rule
			return
		}
	}
	pos := len(s.Ingress)
	if pos > 0 && s.Ingress[pos-1].Hostname == "" {
		pos--
	}
	s.Ingress = append(s.Ingress, Rule{})
	copy(s.Ingress[pos+1:], s.Ingress[pos:])
	s.Ingress[pos] = rule
}

// RemoveRule drops the rule for a hostname, reporting whether it existed.
func (s *Snapshot) RemoveRule(hostname string) bool {
	for i, r := range s.Ingress {
		if r.Hostname != "" && r.Hostname == hostname {
			s.Ingress = append(s.Ingress[:i], s.Ingress[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Ingress = append([]Rule(nil), s.Ingress...)
	return &c
}

// Validate enforces the schema: unique non-empty hostnames, non-empty
// services, and the catch-all rule (if present) last.
func (s *Snapshot) Validate() error {
	seen := map[string]struct{}{}
	for i, r := range s.Ingress {
		if r.Service == "" {
			return fmt.Errorf("ingress rule %d: empty service", i)
		}
		if r.Hostname == "" {
			if i != len(s.Ingress)-1 {
				return fmt.Errorf("ingress rule %d: catch-all before end of list", i)
			}
			continue
		}
		if _, dup := seen[r.Hostname]; dup {
			return fmt.Errorf("ingress rule %d: duplicate hostname %q", i, r.Hostname)
		}
		seen[r.Hostname] = struct{}{}
	}
	return nil
}

// NewSnapshot returns an empty snapshot holding only the catch-all rule.
func NewSnapshot(tunnelID, credentialsFile string) *Snapshot {
	return &Snapshot{
		Tunnel:          tunnelID,
		CredentialsFile: credentialsFile,
		Ingress: []Rule{
			{Service: CatchAllService},
		},
	}
}

// Store reads and writes the config file at a fixed, injected path.
type Store struct {
	path string
	lock *fileLock
	log  *logrus.Logger
}

// NewStore builds a store over the given config path.
func NewStore(path string, log *logrus.Logger) *Store {
	return &Store{
		path: path,
		lock: newFileLock(path + ".lock"),
		log:  log,
	}
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the snapshot.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: NotFound, Path: s.path, Err: err}
		}
		return nil, &Error{Kind: ParseFailure, Path: s.path, Err: err}
	}

	var snap Snapshot
	if err := yaml.UnmarshalStrict(data, &snap); err != nil {
		return nil, &Error{Kind: ParseFailure, Path: s.path, Err: err}
	}
	if err := snap.Validate(); err != nil {
		return nil, &Error{Kind: ParseFailure, Path: s.path, Err: err}
	}
	s.log.Debugf("configstore load: %s, %d rules", s.path, len(snap.Ingress))
	return &snap, nil
}

// Save persists the snapshot atomically: temp file in the target
// directory, fsync, rename over the target. A concurrent reader never
// observes a partial write.
func (s *Store) Save(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &Error{Kind: WriteFailure, Path: s.path, Err: err}
	}
	s.log.Debugf("configstore save: %s, %d rules", s.path, len(snap.Ingress))
	return nil
}
