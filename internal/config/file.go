package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that cannot be served.
var ErrInvalid = errors.New("invalid configuration")

// Config is the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Repository RepositoryConfig `yaml:"repository"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds listener and connection settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Realm        string        `yaml:"realm"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ChunkSize bounds the new data carried by one text delta chunk
	ChunkSize int `yaml:"chunk_size"`
}

// RepositoryConfig locates the repository.
type RepositoryConfig struct {
	// Path is resolved against the config file's directory when relative
	Path string `yaml:"path"`

	// Watch refreshes the youngest revision when another process commits
	Watch bool `yaml:"watch"`
}

// AuthConfig configures the authenticator.
type AuthConfig struct {
	Anonymous bool `yaml:"anonymous"`

	// Users maps user names to bcrypt password hashes
	Users map[string]string `yaml:"users,omitempty"`
}

// LogConfig sets the glog verbosity used when no -v flag is given.
type LogConfig struct {
	Verbosity int `yaml:"verbosity"`
}

// Default returns the configuration used when no file is present. The
// repository path is left empty for the caller to fill from Paths.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "localhost:3690",
			Realm:        "deltaserve",
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 30 * time.Second,
			ChunkSize:    16 * 1024,
		},
		Repository: RepositoryConfig{
			Watch: true,
		},
		Auth: AuthConfig{
			Anonymous: true,
		},
	}
}

// Load reads the YAML file at path over the defaults. Keys absent from the
// file keep their default values; unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if cfg.Repository.Path != "" && !filepath.IsAbs(cfg.Repository.Path) {
		cfg.Repository.Path = filepath.Join(filepath.Dir(path), cfg.Repository.Path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings a server needs.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalid)
	}
	if c.Server.ChunkSize < 0 {
		return fmt.Errorf("%w: server.chunk_size must not be negative", ErrInvalid)
	}
	if !c.Auth.Anonymous && len(c.Auth.Users) == 0 {
		return fmt.Errorf("%w: auth needs anonymous access or at least one user", ErrInvalid)
	}
	return nil
}

const header = `# deltaserve configuration
#
# server.addr            listen address
# server.realm           realm announced in auth requests
# server.read_timeout    idle time before a silent session is closed (0 disables)
# server.write_timeout   bound on one message write (0 disables)
# server.chunk_size      bytes of new text per textdelta-chunk
# repository.path        repository directory, relative to this file
# repository.watch       pick up revisions committed by other processes
# auth.anonymous         offer the ANONYMOUS mechanism
# auth.users             user: bcrypt hash (see "deltaserve config hash-password")
# log.verbosity          glog verbosity when -v is not given

`

// WriteDefault writes a commented default configuration to path. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	cfg := Default()
	cfg.Repository.Path = "repo"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
