package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nettoclaudio/adb-qr-pair/internal/adb"
	"github.com/nettoclaudio/adb-qr-pair/internal/qr"
)

type Config struct {
	AdbPath       string `yaml:"adb_path"`
	Name          string `yaml:"name"`
	Password      string `yaml:"password"`
	Interface     string `yaml:"interface"`
	IPv4Only      bool   `yaml:"ipv4_only"`
	StatusAddress string `yaml:"status_address"`
}

func Default() Config {
	return Config{
		AdbPath:  adb.DefaultPath,
		Name:     qr.DefaultName,
		Password: qr.DefaultPassword,
		IPv4Only: true,
	}
}

func (c Config) Credential() qr.Credential {
	return qr.Credential{Name: c.Name, Password: c.Password}
}

func (c Config) Validate() error {
	if c.AdbPath == "" {
		return errors.New("adb_path is empty")
	}

	if err := c.Credential().Validate(); err != nil {
		return err
	}

	return nil
}

// Load reads a YAML file on top of base. Keys missing from the file keep the value of base.
func Load(filename string, base Config) (Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return Decode(f, base)
}

func Decode(r io.Reader, base Config) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}

	cfg := base
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Store holds the live configuration shared between the config watcher and its readers.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration and reports whether the credential changed.
func (s *Store) Set(cfg Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.cfg.Credential() != cfg.Credential()
	s.cfg = cfg
	return changed
}

func (s *Store) Credential() qr.Credential {
	return s.Get().Credential()
}
