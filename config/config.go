package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"ticketsale/core/genesis"
	"ticketsale/crypto"
)

// Duration wraps time.Duration so it can be written as "30s" in both TOML and
// YAML files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the runtime configuration of ticketd.
type Config struct {
	ListenAddress     string            `toml:"ListenAddress" yaml:"listenAddress"`
	DataDir           string            `toml:"DataDir" yaml:"dataDir"`
	NetworkName       string            `toml:"NetworkName" yaml:"networkName"`
	OwnerKeystorePath string            `toml:"OwnerKeystorePath" yaml:"ownerKeystorePath"`
	TicketPrice       string            `toml:"TicketPrice" yaml:"ticketPrice"`
	TicketCount       uint64            `toml:"TicketCount" yaml:"ticketCount"`
	Allocations       map[string]string `toml:"Allocations" yaml:"allocations"`
	RPC               RPC               `toml:"RPC" yaml:"rpc"`
	Indexer           Indexer           `toml:"Indexer" yaml:"indexer"`
	Telemetry         Telemetry         `toml:"Telemetry" yaml:"telemetry"`
	Logging           Logging           `toml:"Logging" yaml:"logging"`
}

// RPC configures the JSON-RPC server.
type RPC struct {
	JWTSecretEnv       string   `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	Issuer             string   `toml:"Issuer" yaml:"issuer"`
	Audience           string   `toml:"Audience" yaml:"audience"`
	RateLimitPerMinute int      `toml:"RateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst     int      `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	ReadTimeout        Duration `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout       Duration `toml:"WriteTimeout" yaml:"writeTimeout"`
	ShutdownTimeout    Duration `toml:"ShutdownTimeout" yaml:"shutdownTimeout"`
}

// Indexer configures the event history database. A DSN starting with
// postgres:// selects PostgreSQL; anything else is a sqlite DSN.
type Indexer struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}

// Logging configures log output. An empty File logs to stdout.
type Logging struct {
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
}

// LoadOption tunes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphrase supplies the passphrase used when a new owner
// keystore has to be created.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = func() (string, error) { return passphrase, nil }
	}
}

// WithPassphraseSource resolves the keystore passphrase lazily, only when a
// keystore has to be created.
func WithPassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) { o.passphrase = source }
}

func (o *loadOptions) resolvePassphrase() (string, error) {
	if o.passphrase == nil {
		return "", errors.New("owner keystore passphrase required to create a keystore")
	}
	passphrase, err := o.passphrase()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("owner keystore passphrase must not be empty")
	}
	return passphrase, nil
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a freshly generated owner keystore.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := decode(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, cfg *Config) error {
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "ticketsale-local"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ticketsale-data"
	}
	if cfg.Allocations == nil {
		cfg.Allocations = map[string]string{}
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		cfg.RPC.JWTSecretEnv = "TICKETSALE_JWT_SECRET"
	}
	if strings.TrimSpace(cfg.RPC.Issuer) == "" {
		cfg.RPC.Issuer = "ticketsale"
	}
	if strings.TrimSpace(cfg.RPC.Audience) == "" {
		cfg.RPC.Audience = "ticketsale-rpc"
	}
	if cfg.RPC.ReadTimeout.Duration == 0 {
		cfg.RPC.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.RPC.WriteTimeout.Duration == 0 {
		cfg.RPC.WriteTimeout.Duration = 10 * time.Second
	}
	if cfg.RPC.ShutdownTimeout.Duration == 0 {
		cfg.RPC.ShutdownTimeout.Duration = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func ensureKeystore(configPath string, cfg *Config, options *loadOptions) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		passphrase, err := options.resolvePassphrase()
		if err != nil {
			return err
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options *loadOptions) (*Config, error) {
	passphrase, err := options.resolvePassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:     ":8080",
		DataDir:           "./ticketsale-data",
		NetworkName:       "ticketsale-local",
		OwnerKeystorePath: keystorePath,
		TicketPrice:       "100",
		TicketCount:       100,
		RPC: RPC{
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

// GenesisSpec converts the pool and allocation settings into a genesis spec
// owned by owner.
func (c *Config) GenesisSpec(owner [20]byte) (*genesis.Spec, error) {
	spec := &genesis.Spec{
		TicketPrice: c.TicketPrice,
		TicketCount: c.TicketCount,
		Alloc:       make(map[string]string, len(c.Allocations)),
	}
	if owner != ([20]byte{}) {
		spec.Owner = crypto.FromRaw(owner).String()
	}
	for addr, amount := range c.Allocations {
		spec.Alloc[addr] = amount
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
