package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"gopkg.in/yaml.v3"
)

// defaults
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8080
	DefaultRoot        = "shared_files"
	DefaultMaxMemoryMB = 32
	DefaultWorkers     = 4
	DefaultLogLevel    = "info"
	qrCacheName        = "lanshare-qr.png"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			MaxMemoryMB: DefaultMaxMemoryMB,
		},
		Storage: StorageConfig{
			Root:         DefaultRoot,
			Workers:      DefaultWorkers,
			PurgeOnStart: true,
		},
		Archive:   ArchiveConfig{Mode: ArchiveStream},
		Discovery: DiscoveryConfig{QR: true},
		Watch:     WatchConfig{Enabled: true},
		Logging:   LoggingConfig{Level: DefaultLogLevel},
	}
}

// LoadConfig reads the YAML file at configPath over the defaults and
// validates the result.  Keys missing from the file keep their default.
func LoadConfig(configPath string) (config *Config, err error) {
	defer Return(&err)

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, errors.Errorf("config file does not exist: %s", configPath)
	}
	Ck(err)

	config = Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", configPath)
	}

	err = validateConfig(config)
	if err != nil {
		return nil, errors.Wrap(err, "config validation error")
	}
	return
}

// Validate fills in anything left empty and rejects values lanshare
// can't run with.  Callers that build a Config by hand should call it
// before use.
func (config *Config) Validate() error {
	return validateConfig(config)
}

func validateConfig(config *Config) error {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("port out of range: %d", config.Server.Port)
	}
	if config.Server.MaxMemoryMB <= 0 {
		config.Server.MaxMemoryMB = DefaultMaxMemoryMB
	}

	if config.Storage.Root == "" {
		config.Storage.Root = DefaultRoot
	}
	if config.Storage.Workers <= 0 {
		config.Storage.Workers = DefaultWorkers
	}

	switch config.Archive.Mode {
	case "":
		config.Archive.Mode = ArchiveStream
	case ArchiveStream, ArchiveDisk:
	default:
		return fmt.Errorf("unsupported archive mode: %s", config.Archive.Mode)
	}

	if config.Discovery.QRCache == "" {
		config.Discovery.QRCache = filepath.Join(os.TempDir(), qrCacheName)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	_, err := log.ParseLevel(config.Logging.Level)
	if err != nil {
		return err
	}
	return nil
}

// ApplyEnv lets SHAREDIR override the share root.
func (config *Config) ApplyEnv() {
	if dir := os.Getenv("SHAREDIR"); dir != "" {
		config.Storage.Root = dir
	}
}

// Addr is the listen address.
func (config *Config) Addr() string {
	return fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
}

// MaxMemory is the multipart memory threshold in bytes.
func (config *Config) MaxMemory() int64 {
	return config.Server.MaxMemoryMB << 20
}
