// Package config loads the controller configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/gpio"
	"github.com/sweeney/brew-controller/internal/pulse"
	"github.com/sweeney/brew-controller/internal/sensor"
)

// Environment variables that override file settings.
const (
	EnvMQTTBroker = "BREW_MQTT_BROKER"
	EnvHTTPAddr   = "BREW_HTTP_ADDR"
	EnvSerialPort = "BREW_SERIAL_PORT"
	EnvStorePath  = "BREW_STORE_PATH"
)

// Config represents the controller configuration.
type Config struct {
	GPIO     GPIOConfig      `yaml:"gpio"`
	Pulse    pulse.Config    `yaml:"pulse"`
	Actuator actuator.Config `yaml:"actuator"`
	Brew     brew.Config     `yaml:"brew"`
	Sensor   SensorConfig    `yaml:"sensor"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	HTTP     HTTPConfig      `yaml:"http"`
	Store    StoreConfig     `yaml:"store"`
}

// GPIOConfig contains the stepper driver and home switch wiring.
type GPIOConfig struct {
	Chip         string        `yaml:"chip"`
	StepPin      int           `yaml:"step_pin"`
	DirPin       int           `yaml:"dir_pin"`
	EnablePin    int           `yaml:"enable_pin"`
	HomePin      int           `yaml:"home_pin"`
	HomeDebounce time.Duration `yaml:"home_debounce"`
}

// SensorConfig contains the sensor MCU link.
type SensorConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	MaxAge   time.Duration `yaml:"max_age"` // Readings older than this are faults
}

// MQTTConfig contains broker settings. An explicitly empty broker disables
// publishing.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	BufferSize int    `yaml:"buffer_size"` // Messages held while disconnected
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig contains shot storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns a default configuration for the standard machine.
func Default() *Config {
	return &Config{
		GPIO: GPIOConfig{
			Chip:         gpio.DefaultChip,
			StepPin:      gpio.DefaultPinStep,
			DirPin:       gpio.DefaultPinDir,
			EnablePin:    gpio.DefaultPinEnable,
			HomePin:      gpio.DefaultPinHome,
			HomeDebounce: 10 * time.Millisecond,
		},
		Pulse:    pulse.DefaultConfig(),
		Actuator: actuator.DefaultConfig(),
		Brew:     brew.DefaultConfig(),
		Sensor: SensorConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: sensor.DefaultBaudRate,
			MaxAge:   250 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "brew-controller",
			BufferSize: 64,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Path: "/var/lib/brew-controller/shots",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFile loads KEY=value pairs from filename into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadEnvFile(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.Sensor.Port = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
}

// ensureDefaults fills zero fields with defaults. Pin 0 is treated as unset.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.GPIO.Chip == "" {
		c.GPIO.Chip = def.GPIO.Chip
	}
	if c.GPIO.StepPin == 0 {
		c.GPIO.StepPin = def.GPIO.StepPin
	}
	if c.GPIO.DirPin == 0 {
		c.GPIO.DirPin = def.GPIO.DirPin
	}
	if c.GPIO.EnablePin == 0 {
		c.GPIO.EnablePin = def.GPIO.EnablePin
	}
	if c.GPIO.HomePin == 0 {
		c.GPIO.HomePin = def.GPIO.HomePin
	}

	if c.Pulse.MinHz == 0 {
		c.Pulse.MinHz = def.Pulse.MinHz
	}
	if c.Pulse.MaxHz == 0 {
		c.Pulse.MaxHz = def.Pulse.MaxHz
	}

	if c.Actuator.CyclesPerPulse == 0 {
		c.Actuator.CyclesPerPulse = def.Actuator.CyclesPerPulse
	}
	if c.Actuator.MinFrequencyHz == 0 {
		c.Actuator.MinFrequencyHz = def.Actuator.MinFrequencyHz
	}
	if c.Actuator.HomingSpeed == 0 {
		c.Actuator.HomingSpeed = def.Actuator.HomingSpeed
	}
	if c.Actuator.HomingTimeout == 0 {
		c.Actuator.HomingTimeout = def.Actuator.HomingTimeout
	}
	if c.Actuator.HomingPoll == 0 {
		c.Actuator.HomingPoll = def.Actuator.HomingPoll
	}

	if c.Brew.SpeedScale == 0 {
		c.Brew.SpeedScale = def.Brew.SpeedScale
	}
	if c.Brew.PID.WindupMin == 0 && c.Brew.PID.WindupMax == 0 {
		c.Brew.PID.WindupMin = def.Brew.PID.WindupMin
		c.Brew.PID.WindupMax = def.Brew.PID.WindupMax
	}

	if c.Sensor.Port == "" {
		c.Sensor.Port = def.Sensor.Port
	}
	if c.Sensor.BaudRate == 0 {
		c.Sensor.BaudRate = def.Sensor.BaudRate
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
}
