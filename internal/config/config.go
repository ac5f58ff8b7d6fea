package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/q2demo/demorec/pkg/core"
)

// FileName is the name of the JSON config file looked up in the config dir.
const FileName = "demorec.cfg.json"

// DemoConfig holds recording and playback settings.
type DemoConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Snaps    int    `json:"snaps" mapstructure:"snaps"`
	MsgLen   int    `json:"msgLen" mapstructure:"msgLen"`
	Wait     bool   `json:"wait" mapstructure:"wait"`
	Format   int    `json:"format" mapstructure:"format"`
	TimeDemo bool   `json:"timedemo" mapstructure:"timedemo"`
}

// CatalogConfig selects the demo catalog database.
type CatalogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Type    string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	Path    string `json:"path" mapstructure:"path"`
	DSN     string `json:"dsn" mapstructure:"dsn"`
}

// InfluxConfig holds the recording statistics sink settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the server address of the InfluxDB instance.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// RelayConfig holds the broadcast relay settings.
type RelayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level          string
	Dir            string
	GraylogEnabled bool
	GraylogAddress string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("demo.dir", "./demos")
	viper.SetDefault("demo.snaps", 10)
	viper.SetDefault("demo.msgLen", core.MaxPacketLenWritableDefault)
	viper.SetDefault("demo.wait", false)
	viper.SetDefault("demo.format", 2)
	viper.SetDefault("demo.timedemo", false)

	viper.SetDefault("catalog.enabled", true)
	viper.SetDefault("catalog.type", "sqlite")
	viper.SetDefault("catalog.path", "./demos/catalog.db")
	viper.SetDefault("catalog.dsn", "host=localhost port=5432 user=postgres password=postgres dbname=demorec sslmode=disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "demorec")
	viper.SetDefault("influx.bucket", "demo_recordings")

	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.url", "ws://localhost:27910/relay")
	viper.SetDefault("relay.secret", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "demorec")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from the JSON file in configDir and sets default
// values.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetDemoConfig returns the demo settings.
func GetDemoConfig() DemoConfig {
	return DemoConfig{
		Dir:      viper.GetString("demo.dir"),
		Snaps:    viper.GetInt("demo.snaps"),
		MsgLen:   viper.GetInt("demo.msgLen"),
		Wait:     viper.GetBool("demo.wait"),
		Format:   viper.GetInt("demo.format"),
		TimeDemo: viper.GetBool("demo.timedemo"),
	}
}

// GetCatalogConfig returns the catalog settings.
func GetCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Enabled: viper.GetBool("catalog.enabled"),
		Type:    viper.GetString("catalog.type"),
		Path:    viper.GetString("catalog.path"),
		DSN:     viper.GetString("catalog.dsn"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetRelayConfig returns the relay settings.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Enabled: viper.GetBool("relay.enabled"),
		URL:     viper.GetString("relay.url"),
		Secret:  viper.GetString("relay.secret"),
	}
}

// GetLoggingConfig returns the logging settings.
func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:          viper.GetString("logLevel"),
		Dir:            viper.GetString("logsDir"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
