package xiaomi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// storageDirPerm is the permission mode for the storage directory.
	storageDirPerm = fs.FileMode(0o700)

	// storageFilePerm is the permission mode for the config file. It holds
	// live tokens, so it must not be group or world readable.
	storageFilePerm = fs.FileMode(0o600)

	configFileName = "xiaomi_config.json"
)

// DefaultStorageDir returns ~/.moltbot/xiaomi, the default location for
// the persisted config file.
func DefaultStorageDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, ".moltbot", "xiaomi"), nil
}

// Storage persists the Config aggregate as a single JSON document. Every
// update is a read-modify-write of the whole file, so fields written by
// earlier updates survive later ones. There is no file locking: two
// processes pointed at the same path race last-writer-wins, which is out
// of scope here.
type Storage struct {
	dir  string
	path string
}

// NewStorage creates a store rooted at dir. The directory is created
// lazily on the first write, not here.
func NewStorage(dir string) *Storage {
	return &Storage{
		dir:  dir,
		path: filepath.Join(dir, configFileName),
	}
}

// Path returns the location of the config file.
func (s *Storage) Path() string {
	return s.path
}

// Load reads the persisted config. A missing file is not an error: it
// returns (nil, nil) so callers can distinguish "first run" from real
// I/O failures.
func (s *Storage) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "reading config", Err: err}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &StorageError{Op: "decoding config", Err: err}
	}

	return &cfg, nil
}

// Save writes the whole config, creating the storage directory on demand.
func (s *Storage) Save(cfg *Config) error {
	if err := os.MkdirAll(s.dir, storageDirPerm); err != nil {
		return &StorageError{Op: "creating storage directory", Err: err}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &StorageError{Op: "encoding config", Err: err}
	}

	if err := os.WriteFile(s.path, data, storageFilePerm); err != nil {
		return &StorageError{Op: "writing config", Err: err}
	}

	return nil
}

// update loads the current config (or a fresh empty one), applies fn and
// writes the result back. This keeps every other field intact.
func (s *Storage) update(fn func(*Config)) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = emptyConfig()
	}

	fn(cfg)

	return s.Save(cfg)
}

// UpdateToken stores a new token, preserving all other fields.
func (s *Storage) UpdateToken(token *OAuthToken) error {
	return s.update(func(cfg *Config) { cfg.Token = token })
}

// UpdateUserInfo stores the account profile.
func (s *Storage) UpdateUserInfo(info *UserInfo) error {
	return s.update(func(cfg *Config) { cfg.UserInfo = info })
}

// UpdateDevices stores the device map.
func (s *Storage) UpdateDevices(devices map[string]DeviceInfo) error {
	return s.update(func(cfg *Config) { cfg.Devices = devices })
}

// UpdateHomes stores the home map.
func (s *Storage) UpdateHomes(homes map[string]HomeInfo) error {
	return s.update(func(cfg *Config) { cfg.Homes = homes })
}

// UpdateUUID stores the per-install client identifier. It must stay
// stable across restarts or re-authorization mints a different logical
// device on the platform.
func (s *Storage) UpdateUUID(uuid string) error {
	return s.update(func(cfg *Config) { cfg.UUID = uuid })
}

// UpdateCloudServer stores the region id.
func (s *Storage) UpdateCloudServer(id string) error {
	return s.update(func(cfg *Config) { cfg.CloudServer = id })
}

// Token returns the stored token, or nil when absent.
func (s *Storage) Token() (*OAuthToken, error) {
	cfg, err := s.Load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Token, nil
}

// HasCredentials reports whether a token is present on disk.
func (s *Storage) HasCredentials() (bool, error) {
	cfg, err := s.Load()
	if err != nil {
		return false, err
	}
	return cfg != nil && cfg.Token != nil, nil
}

// Clear deletes the persisted config. Deleting an absent file succeeds.
func (s *Storage) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "clearing config", Err: err}
	}
	return nil
}

func emptyConfig() *Config {
	return &Config{
		CloudServer: "cn",
		ClientID:    DefaultClientID,
		RedirectURL: DefaultRedirectURL,
	}
}
