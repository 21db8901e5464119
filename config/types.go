package config

// Config is the lanshare configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// multipart parts larger than this spill to temp files
	MaxMemoryMB int64 `yaml:"max_memory_mb"`
}

type StorageConfig struct {
	Root         string `yaml:"root"`
	Workers      int    `yaml:"workers"`
	PurgeOnStart bool   `yaml:"purge_on_start"`
}

// archive modes
const (
	ArchiveStream = "stream"
	ArchiveDisk   = "disk"
)

type ArchiveConfig struct {
	Mode string `yaml:"mode"`
}

type DiscoveryConfig struct {
	// print a QR code of the server URL on the terminal at startup
	QR      bool   `yaml:"qr"`
	QRCache string `yaml:"qr_cache"`
}

type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}
