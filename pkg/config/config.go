package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type SerialConfig struct {
	Port string `json:"port" yaml:"port"`
	Baud int    `json:"baud" yaml:"baud"`
}

type OutputConfig struct {
	Type   string        `json:"type" yaml:"type"`
	MQTT   *MQTTConfig   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// TemperatureConfig describes the SPI temperature converter and its trigger.
type TemperatureConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	PeriodMs    int     `json:"period_ms" yaml:"period_ms"`
	OffsetMs    int     `json:"offset_ms" yaml:"offset_ms"`
	SPIPort     string  `json:"spi_port" yaml:"spi_port"`
	SPISpeedHz  int64   `json:"spi_speed_hz" yaml:"spi_speed_hz"`
	DiscardBits int     `json:"discard_bits" yaml:"discard_bits"`
	Scale       float64 `json:"scale" yaml:"scale"`
}

// MoistureConfig describes the ADC soil-moisture probe and its trigger.
type MoistureConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	PeriodMs   int    `json:"period_ms" yaml:"period_ms"`
	OffsetMs   int    `json:"offset_ms" yaml:"offset_ms"`
	I2CBus     string `json:"i2c_bus" yaml:"i2c_bus"`
	I2CAddress int    `json:"i2c_address" yaml:"i2c_address"`
	Channel    int    `json:"channel" yaml:"channel"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	SettleMs   int    `json:"settle_ms" yaml:"settle_ms"`
	DryRaw     uint32 `json:"dry_raw" yaml:"dry_raw"`
	WetRaw     uint32 `json:"wet_raw" yaml:"wet_raw"`
}

type Config struct {
	LogLevel      string            `json:"log_level" yaml:"log_level"`
	QueueCapacity int               `json:"queue_capacity" yaml:"queue_capacity"`
	MaxTimers     int               `json:"max_timers" yaml:"max_timers"`
	Simulate      bool              `json:"simulate" yaml:"simulate"`
	Temperature   TemperatureConfig `json:"temperature" yaml:"temperature"`
	Moisture      MoistureConfig    `json:"moisture" yaml:"moisture"`
	Outputs       []OutputConfig    `json:"outputs" yaml:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		QueueCapacity: 10,
		MaxTimers:     8,
		Temperature: TemperatureConfig{
			Enabled:     true,
			PeriodMs:    2000,
			OffsetMs:    0,
			SPIPort:     "",
			SPISpeedHz:  1_000_000,
			DiscardBits: 3,
			Scale:       0.25,
		},
		Moisture: MoistureConfig{
			Enabled:    true,
			PeriodMs:   2000,
			OffsetMs:   1000,
			I2CBus:     "1",
			I2CAddress: 0x48,
			Channel:    0,
			SampleRate: 128,
			SettleMs:   250,
			DryRaw:     20000,
			WetRaw:     9000,
		},
		Outputs: []OutputConfig{{Type: "console"}},
	}
}

func (t TemperatureConfig) Period() time.Duration { return time.Duration(t.PeriodMs) * time.Millisecond }
func (t TemperatureConfig) Offset() time.Duration { return time.Duration(t.OffsetMs) * time.Millisecond }
func (m MoistureConfig) Period() time.Duration    { return time.Duration(m.PeriodMs) * time.Millisecond }
func (m MoistureConfig) Offset() time.Duration    { return time.Duration(m.OffsetMs) * time.Millisecond }

// LoadFromFlags loads configuration from the process arguments.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load reads an optional JSON or YAML config file and then applies flag
// overrides. Flags override values present in the file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("soil-temp-sampler", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagLogLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")
	flagSimulate := fs.Bool("simulate", false, "Use simulated sensors instead of hardware")
	flagQueue := fs.Int("queue-capacity", -1, "Ingestion queue capacity")
	flagTempPeriod := fs.Int("temp-period-ms", -1, "Temperature sampling period in ms")
	flagTempOffset := fs.Int("temp-offset-ms", -1, "Delay before the first temperature sample in ms")
	flagSPIPort := fs.String("spi-port", "", "SPI port name (empty selects the first port)")
	flagMoistPeriod := fs.Int("moisture-period-ms", -1, "Soil moisture sampling period in ms")
	flagMoistOffset := fs.Int("moisture-offset-ms", -1, "Delay before the first soil moisture sample in ms")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagChannel := fs.Int("moisture-channel", -1, "ADS1115 input channel of the moisture probe")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,serial)")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %s is replaced by the source name")
	flagSerialPort := fs.String("serial-port", "", "Serial port for the serial output")
	flagSerialBaud := fs.Int("serial-baud", -1, "Serial baud rate")

	cfg := DefaultConfig()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagSimulate {
		cfg.Simulate = true
	}
	if *flagQueue != -1 {
		cfg.QueueCapacity = *flagQueue
	}
	if *flagTempPeriod != -1 {
		cfg.Temperature.PeriodMs = *flagTempPeriod
	}
	if *flagTempOffset != -1 {
		cfg.Temperature.OffsetMs = *flagTempOffset
	}
	if *flagSPIPort != "" {
		cfg.Temperature.SPIPort = *flagSPIPort
	}
	if *flagMoistPeriod != -1 {
		cfg.Moisture.PeriodMs = *flagMoistPeriod
	}
	if *flagMoistOffset != -1 {
		cfg.Moisture.OffsetMs = *flagMoistOffset
	}
	if *flagI2CBus != "" {
		cfg.Moisture.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.Moisture.I2CAddress = v
	}
	if *flagChannel != -1 {
		cfg.Moisture.Channel = *flagChannel
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	// MQTT and serial flags apply to every output of that type; one is created if missing.
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		for _, m := range cfg.outputsOfType("mqtt", func(o *OutputConfig) {
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
		}) {
			if *flagMQTTServer != "" {
				m.MQTT.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.MQTT.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.MQTT.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.MQTT.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.MQTT.StateTopic = *flagTopic
			}
		}
	}
	if *flagSerialPort != "" || *flagSerialBaud != -1 {
		for _, s := range cfg.outputsOfType("serial", func(o *OutputConfig) {
			if o.Serial == nil {
				o.Serial = &SerialConfig{}
			}
		}) {
			if *flagSerialPort != "" {
				s.Serial.Port = *flagSerialPort
			}
			if *flagSerialBaud != -1 {
				s.Serial.Baud = *flagSerialBaud
			}
		}
	}

	cfg.applyOutputDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// outputsOfType returns pointers to every output of type t, appending an empty
// one when none exists. init runs on each before it is returned.
func (c *Config) outputsOfType(t string, init func(*OutputConfig)) []*OutputConfig {
	var out []*OutputConfig
	for i := range c.Outputs {
		if strings.ToLower(c.Outputs[i].Type) == t {
			out = append(out, &c.Outputs[i])
		}
	}
	if len(out) == 0 {
		c.Outputs = append(c.Outputs, OutputConfig{Type: t})
		out = append(out, &c.Outputs[len(c.Outputs)-1])
	}
	for _, o := range out {
		init(o)
	}
	return out
}

func (c *Config) applyOutputDefaults() {
	for i := range c.Outputs {
		o := &c.Outputs[i]
		o.Type = strings.ToLower(o.Type)
		switch o.Type {
		case "mqtt":
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			if o.MQTT.Server == "" {
				o.MQTT.Server = "tcp://localhost:1883"
			}
			if o.MQTT.ClientID == "" {
				o.MQTT.ClientID = "soil-temp-sampler"
			}
			if o.MQTT.StateTopic == "" {
				o.MQTT.StateTopic = "soil-temp-sampler/%s"
			}
		case "serial":
			if o.Serial == nil {
				o.Serial = &SerialConfig{}
			}
			if o.Serial.Baud == 0 {
				o.Serial.Baud = 115200
			}
		}
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue_capacity must be >= 1, got %d", ErrInvalid, c.QueueCapacity)
	}
	if c.MaxTimers < 1 {
		return fmt.Errorf("%w: max_timers must be >= 1, got %d", ErrInvalid, c.MaxTimers)
	}
	if c.Temperature.Enabled {
		if err := checkSchedule("temperature", c.Temperature.PeriodMs, c.Temperature.OffsetMs); err != nil {
			return err
		}
		if c.Temperature.DiscardBits < 0 || c.Temperature.DiscardBits > 15 {
			return fmt.Errorf("%w: temperature.discard_bits must be 0..15, got %d", ErrInvalid, c.Temperature.DiscardBits)
		}
		if c.Temperature.SPISpeedHz <= 0 {
			return fmt.Errorf("%w: temperature.spi_speed_hz must be > 0", ErrInvalid)
		}
	}
	if c.Moisture.Enabled {
		if err := checkSchedule("moisture", c.Moisture.PeriodMs, c.Moisture.OffsetMs); err != nil {
			return err
		}
		if c.Moisture.Channel < 0 || c.Moisture.Channel > 3 {
			return fmt.Errorf("%w: moisture.channel must be 0..3, got %d", ErrInvalid, c.Moisture.Channel)
		}
		if c.Moisture.SampleRate <= 0 {
			return fmt.Errorf("%w: moisture.sample_rate must be > 0", ErrInvalid)
		}
		if c.Moisture.DryRaw == c.Moisture.WetRaw {
			return fmt.Errorf("%w: moisture.dry_raw and wet_raw must differ", ErrInvalid)
		}
	}
	for i, o := range c.Outputs {
		switch o.Type {
		case "console":
		case "mqtt":
			if o.MQTT == nil || o.MQTT.Server == "" {
				return fmt.Errorf("%w: outputs[%d]: mqtt server is required", ErrInvalid, i)
			}
		case "serial":
			if o.Serial == nil || o.Serial.Port == "" {
				return fmt.Errorf("%w: outputs[%d]: serial port is required", ErrInvalid, i)
			}
		default:
			return fmt.Errorf("%w: outputs[%d]: unknown type %q", ErrInvalid, i, o.Type)
		}
	}
	return nil
}

func checkSchedule(name string, periodMs, offsetMs int) error {
	if periodMs <= 0 {
		return fmt.Errorf("%w: %s.period_ms must be > 0, got %d", ErrInvalid, name, periodMs)
	}
	if offsetMs < 0 {
		return fmt.Errorf("%w: %s.offset_ms must be >= 0, got %d", ErrInvalid, name, offsetMs)
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
