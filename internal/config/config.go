package config

import (
	"math"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "THERMOBEACON"
	DefaultConfigFile = "/etc/thermobeacon.toml"
	DefaultLogLevel   = "info"
)

type Config struct {
	Sampling    Sampling    `mapstructure:"sampling"`
	Reporting   Reporting   `mapstructure:"reporting"`
	History     History     `mapstructure:"history"`
	Alert       Alert       `mapstructure:"alert"`
	Acquisition Acquisition `mapstructure:"acquisition"`
	Sensor      Sensor      `mapstructure:"sensor"`
	Broadcast   Broadcast   `mapstructure:"broadcast"`
	MQTT        MQTT        `mapstructure:"mqtt"`
	GPIO        GPIO        `mapstructure:"gpio"`
	Metrics     Metrics     `mapstructure:"metrics"`
	Telemetry   Telemetry   `mapstructure:"telemetry"`
	LogLevel    string      `mapstructure:"log_level"`
	PIDFile     string      `mapstructure:"pid_file"`

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

type Sampling struct {
	Period time.Duration `mapstructure:"period"`
	Delay  time.Duration `mapstructure:"delay"`
}

type Reporting struct {
	Period time.Duration `mapstructure:"period"`
	Delay  time.Duration `mapstructure:"delay"`
}

type History struct {
	Capacity int `mapstructure:"capacity"`
}

type Alert struct {
	Threshold float64 `mapstructure:"threshold"`
}

type Acquisition struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Sensor struct {
	Driver         string  `mapstructure:"driver"`
	IIODevice      string  `mapstructure:"iio_device"`
	Channel        int     `mapstructure:"channel"`
	AuxChannel     int     `mapstructure:"aux_channel"`
	ReferenceMV    float64 `mapstructure:"reference_mv"`
	ResolutionBits int     `mapstructure:"resolution_bits"`
	Gain           float64 `mapstructure:"gain"`
	MVPerDegree    float64 `mapstructure:"mv_per_degree"`
	OffsetC        float64 `mapstructure:"offset_c"`
}

type Broadcast struct {
	Publisher        string `mapstructure:"publisher"`
	CompanyID        uint16 `mapstructure:"company_id"`
	GroupID          uint8  `mapstructure:"group_id"`
	DeviceName       string `mapstructure:"device_name"`
	PublishOnTrigger bool   `mapstructure:"publish_on_trigger"`
}

type MQTT struct {
	Broker          string        `mapstructure:"broker"`
	Topic           string        `mapstructure:"topic"`
	ClientID        string        `mapstructure:"client_id"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	QoS             int           `mapstructure:"qos"`
	Retained        bool          `mapstructure:"retained"`
	ConnectRetries  uint64        `mapstructure:"connect_retries"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type GPIO struct {
	ActivityLED string `mapstructure:"activity_led"`
	AlertLED    string `mapstructure:"alert_led"`
	Button      string `mapstructure:"button"`
}

type Metrics struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type Telemetry struct {
	Listen string `mapstructure:"listen"`
}

var defaults = map[string]any{
	"sampling.period":              time.Second,
	"sampling.delay":               time.Duration(0),
	"reporting.period":             60 * time.Second,
	"history.capacity":             60,
	"alert.threshold":              30.0,
	"acquisition.timeout":          time.Second,
	"sensor.driver":                "sim",
	"sensor.iio_device":            "iio:device0",
	"sensor.channel":               0,
	"sensor.aux_channel":           -1,
	"sensor.reference_mv":          3600.0,
	"sensor.resolution_bits":       12,
	"sensor.gain":                  1.0,
	"sensor.mv_per_degree":         10.0,
	"sensor.offset_c":              -273.15,
	"broadcast.publisher":          "log",
	"broadcast.company_id":         0x0059,
	"broadcast.group_id":           0xFF,
	"broadcast.device_name":        "thermobeacon",
	"broadcast.publish_on_trigger": true,
	"mqtt.broker":                  "tcp://localhost:1883",
	"mqtt.topic":                   "thermobeacon/summary",
	"mqtt.client_id":               "",
	"mqtt.username":                "",
	"mqtt.password":                "",
	"mqtt.qos":                     0,
	"mqtt.retained":                true,
	"mqtt.connect_retries":         5,
	"mqtt.publish_timeout":         5 * time.Second,
	"mqtt.breaker_failures":        5,
	"mqtt.breaker_timeout":         30 * time.Second,
	"gpio.activity_led":            "",
	"gpio.alert_led":               "",
	"gpio.button":                  "",
	"metrics.enabled":              false,
	"metrics.db_path":              "/var/lib/thermobeacon/reports.db",
	"metrics.batch_size":           10,
	"metrics.batch_timeout":        60,
	"telemetry.listen":             "",
	"log_level":                    DefaultLogLevel,
	"pid_file":                     "",
}

// flag name -> config key
var flagKeys = map[string]string{
	"sample-period":       "sampling.period",
	"sample-delay":        "sampling.delay",
	"report-period":       "reporting.period",
	"capacity":            "history.capacity",
	"threshold":           "alert.threshold",
	"acquisition-timeout": "acquisition.timeout",
	"driver":              "sensor.driver",
	"publisher":           "broadcast.publisher",
	"activity-led":        "gpio.activity_led",
	"alert-led":           "gpio.alert_led",
	"button":              "gpio.button",
	"listen":              "telemetry.listen",
	"log-level":           "log_level",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("thermobeacon", pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.Duration("sample-period", time.Second, "Interval between samples")
	fs.Duration("sample-delay", 0, "Delay before the first sample")
	fs.Duration("report-period", 60*time.Second, "Interval between reports")
	fs.Int("capacity", 60, "Number of readings kept in the rolling history")
	fs.Float64("threshold", 30.0, "Alert threshold for the mean temperature in °C")
	fs.Duration("acquisition-timeout", time.Second, "Timeout for a triggered conversion")
	fs.String("driver", "sim", "Sensor driver (sim, iio)")
	fs.String("publisher", "log", "Broadcast publisher (log, ble, mqtt)")
	fs.String("activity-led", "", "GPIO pin for the activity LED")
	fs.String("alert-led", "", "GPIO pin for the alert LED")
	fs.String("button", "", "GPIO pin for the trigger button")
	fs.String("listen", "", "Address for the telemetry HTTP endpoint")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")

	return fs
}

// Load reads configuration from defaults, the TOML file, the environment
// and args, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrParseFlags, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path := configPath(o, fs)
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else if path != DefaultConfigFile {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	} else {
		path = ""
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrUnmarshalConfig, err)
	}
	cfg.ConfigFile = path

	if !v.IsSet("reporting.delay") {
		cfg.Reporting.Delay = cfg.Reporting.Period
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configPath resolves the file to read: an explicit option, then --config,
// then $<PREFIX>_CONFIG, then the system default.
func configPath(o *options, fs *pflag.FlagSet) string {
	if o.configPath != "" {
		return o.configPath
	}
	if p, _ := fs.GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv(o.envPrefix + "_CONFIG"); p != "" {
		return p
	}

	return DefaultConfigFile
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	for name, d := range map[string]time.Duration{
		"sampling.period":     c.Sampling.Period,
		"reporting.period":    c.Reporting.Period,
		"acquisition.timeout": c.Acquisition.Timeout,
	} {
		if d <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, name+"="+d.String())
		}
	}
	if c.Sampling.Delay < 0 || c.Reporting.Delay < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "negative delay")
	}

	if c.History.Capacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidCapacity, c.History.Capacity)
	}

	if math.IsNaN(c.Alert.Threshold) || math.IsInf(c.Alert.Threshold, 0) {
		return errFactory.WithData(errors.ErrInvalidThreshold, c.Alert.Threshold)
	}

	switch c.Sensor.Driver {
	case "sim", "iio":
	default:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "unknown sensor driver: "+c.Sensor.Driver)
	}
	if c.Sensor.ResolutionBits < 1 || c.Sensor.ResolutionBits > 24 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor.resolution_bits must be between 1 and 24")
	}
	if c.Sensor.ReferenceMV <= 0 || c.Sensor.Gain <= 0 || c.Sensor.MVPerDegree == 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor calibration must be positive")
	}

	switch c.Broadcast.Publisher {
	case "log", "ble":
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return errFactory.New(errors.ErrMissingConfig).WithData("mqtt.broker and mqtt.topic")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt.qos must be 0, 1 or 2")
		}
		if c.MQTT.PublishTimeout <= 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt.publish_timeout must be positive")
		}
	default:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "unknown publisher: "+c.Broadcast.Publisher)
	}

	if c.Metrics.Enabled && c.Metrics.DBPath == "" {
		return errFactory.New(errors.ErrMissingConfig).WithData("metrics.db_path")
	}

	return nil
}
