// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"instrument-service/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Store       StoreConfig        `mapstructure:"store"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Transport   TransportConfig    `mapstructure:"transport"`
	Discovery   DiscoveryConfig    `mapstructure:"discovery"`
	App         AppConfig          `mapstructure:"app"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           string        `mapstructure:"port" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TLS            TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents database configuration. The database is only
// opened when the postgres store backend is selected.
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
}

// StoreConfig selects where last-known ports are persisted
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // file, postgres or memory
	Dir     string `mapstructure:"dir"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig holds the default settings per connection type
type TransportConfig struct {
	Serial SerialPortConfig  `mapstructure:"serial"`
	UDP    NetworkPortConfig `mapstructure:"udp"`
	TCP    NetworkPortConfig `mapstructure:"tcp"`
	USB    USBPortConfig     `mapstructure:"usb"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	BaudRate        int           `mapstructure:"baud_rate"`
	DataBits        int           `mapstructure:"data_bits"`
	StopBits        float64       `mapstructure:"stop_bits"`
	Parity          string        `mapstructure:"parity"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadTerminator  string        `mapstructure:"read_terminator"`
	WriteTerminator string        `mapstructure:"write_terminator"`
}

// NetworkPortConfig represents UDP or TCP socket configuration
type NetworkPortConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// USBPortConfig represents USBTMC configuration
type USBPortConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DiscoveryConfig configures the port scanners behind the discovery endpoint
type DiscoveryConfig struct {
	SerialPatterns []string      `mapstructure:"serial_patterns"`
	USBOnly        bool          `mapstructure:"usb_only"`
	USB            bool          `mapstructure:"usb"`
	NetworkRanges  []string      `mapstructure:"network_ranges"`
	TCPPorts       []int         `mapstructure:"tcp_ports"`
	ConnTimeout    time.Duration `mapstructure:"conn_timeout"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name             string        `mapstructure:"name" validate:"required"`
	Version          string        `mapstructure:"version" validate:"required"`
	Environment      string        `mapstructure:"environment" validate:"required"`
	Debug            bool          `mapstructure:"debug"`
	ConnectOnStartup bool          `mapstructure:"connect_on_startup"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	// PollInterval polls every online instrument; zero disables polling.
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	EventRetention   time.Duration `mapstructure:"event_retention"`
}

// InstrumentConfig defines one instrument the service manages
type InstrumentConfig struct {
	Name       string `mapstructure:"name"`
	LongName   string `mapstructure:"long_name"`
	Driver     string `mapstructure:"driver"`
	Connection string `mapstructure:"connection"` // serial, udp, tcp or usbtmc
	// Addresses are tried in order before falling back to a scan.
	Addresses []string `mapstructure:"addresses"`
	// PortKey names the persisted last-known port. Defaults to Name.
	PortKey string `mapstructure:"port_key"`
	// Serial overrides the transport defaults for this instrument.
	Serial SerialPortConfig `mapstructure:"serial"`
	// Identity is the expected specific identity, e.g. a serial number.
	Identity string                 `mapstructure:"identity"`
	Options  map[string]interface{} `mapstructure:"options"`
	// Codec replaces the framing of drivers that accept one (scpi).
	Codec *protocol.CodecConfig `mapstructure:"codec"`
}

// Key returns the persisted port key
func (i InstrumentConfig) Key() string {
	if i.PortKey != "" {
		return i.PortKey
	}
	return i.Name
}

// Load reads configuration from path (or ./config.yaml when empty) and
// environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("INSTRUMENT_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "instrument_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Store defaults
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "config")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/instrument-service.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Transport defaults
	v.SetDefault("transport.serial.baud_rate", 9600)
	v.SetDefault("transport.serial.data_bits", 8)
	v.SetDefault("transport.serial.stop_bits", 1)
	v.SetDefault("transport.serial.parity", "none")
	v.SetDefault("transport.serial.read_timeout", "1s")
	v.SetDefault("transport.serial.write_timeout", "1s")
	v.SetDefault("transport.serial.read_terminator", "\n")
	v.SetDefault("transport.serial.write_terminator", "\n")

	v.SetDefault("transport.udp.read_timeout", "1s")
	v.SetDefault("transport.udp.write_timeout", "1s")
	v.SetDefault("transport.tcp.read_timeout", "2s")
	v.SetDefault("transport.tcp.write_timeout", "2s")
	v.SetDefault("transport.usb.timeout", "2s")

	// Discovery defaults
	v.SetDefault("discovery.usb", true)
	v.SetDefault("discovery.tcp_ports", []int{5025, 5024})
	v.SetDefault("discovery.conn_timeout", "500ms")

	// App defaults
	v.SetDefault("app.name", "instrument-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.connect_on_startup", true)
	v.SetDefault("app.operation_timeout", "10s")
	v.SetDefault("app.scan_timeout", "60s")
	v.SetDefault("app.poll_interval", "30s")
	v.SetDefault("app.event_retention", "720h")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validOutputs := []string{"stdout", "stderr", "file", "both"}
	if !contains(validOutputs, config.Logging.Output) {
		return fmt.Errorf("logging.output must be one of: %v", validOutputs)
	}

	validBackends := []string{"file", "postgres", "memory"}
	if !contains(validBackends, config.Store.Backend) {
		return fmt.Errorf("store.backend must be one of: %v", validBackends)
	}
	if config.Store.Backend == "postgres" && config.Database.Host == "" {
		return fmt.Errorf("database.host is required for the postgres store")
	}

	seen := make(map[string]bool, len(config.Instruments))
	for i, inst := range config.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("instruments[%d].name is required", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("instruments[%d]: duplicate name %q", i, inst.Name)
		}
		seen[inst.Name] = true
		if inst.Driver == "" {
			return fmt.Errorf("instruments[%d].driver is required", i)
		}
		if inst.Connection == "" {
			return fmt.Errorf("instruments[%d].connection is required", i)
		}
		if inst.Codec != nil {
			if _, err := protocol.NewCodec(*inst.Codec); err != nil {
				return fmt.Errorf("instruments[%d].codec: %w", i, err)
			}
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// Instrument returns the configuration of the named instrument
func (c *Config) Instrument(name string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
