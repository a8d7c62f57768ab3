package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ifsyncd/internal/restconf"
)

// credentialsFile is the on-disk shape of the optional per-device override
// file:
//
//	devices:
//	  r1:
//	    username: ops
//	    password: hunter2
type credentialsFile struct {
	Devices map[string]struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"devices"`
}

// CredentialStore resolves RESTCONF credentials per device: an override from
// the credentials file when one exists, the global default otherwise.
type CredentialStore struct {
	fallback  restconf.Credentials
	overrides map[string]restconf.Credentials
}

var _ restconf.CredentialSource = (*CredentialStore)(nil)

// NewCredentialStore builds the store from the loaded config, reading the
// override file when one is configured.
func NewCredentialStore(cfg Config) (*CredentialStore, error) {
	store := &CredentialStore{
		fallback: restconf.Credentials{
			Username: cfg.DeviceUsername,
			Password: cfg.DevicePassword,
		},
		overrides: make(map[string]restconf.Credentials),
	}

	if cfg.CredentialsFile == "" {
		return store, nil
	}

	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read device credentials file: %w", err)
	}
	var parsed credentialsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse device credentials file: %w", err)
	}
	for device, creds := range parsed.Devices {
		if creds.Username == "" || creds.Password == "" {
			return nil, fmt.Errorf("device credentials file: incomplete entry for %q", device)
		}
		store.overrides[device] = restconf.Credentials{
			Username: creds.Username,
			Password: creds.Password,
		}
	}
	return store, nil
}

// DeviceCredentials implements restconf.CredentialSource.
func (s *CredentialStore) DeviceCredentials(device string) restconf.Credentials {
	if creds, ok := s.overrides[device]; ok {
		return creds
	}
	return s.fallback
}
