package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceConfig identifies this tower in the fleet.
type DeviceConfig struct {
	TowerID uint32 `yaml:"tower_id"` // appears in every telemetry topic
}

// WifiConfig holds the provisioning credentials. Association itself is
// the host OS's job; the daemon only parses and logs these.
type WifiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// LocationConfig is the site the sun is computed for.
type LocationConfig struct {
	Latitude            float64 `yaml:"latitude"`
	Longitude           float64 `yaml:"longitude"`
	Altitude            float64 `yaml:"altitude"`
	TimezoneOffsetHours float64 `yaml:"timezone_offset_hours"`
}

// MQTTConfig configures the telemetry broker. An empty broker selects
// the log-only publisher.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. ssl://mqtt.jantaus.com:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MotionConfig tunes the drive train and the tracking loop.
type MotionConfig struct {
	MaxSpeedSPS      float64 `yaml:"max_speed_sps"`     // steps/s
	AccelerationSPS2 float64 `yaml:"acceleration_sps2"` // steps/s²
	ClosedLoop       *bool   `yaml:"closed_loop"`       // encoder feedback; default true
	HomeTicks        int64   `yaml:"home_ticks"`        // calibrated encoder count at the switch
	MinTravelDeg     float64 `yaml:"min_travel_deg"`    // mechanical stop, east
	MaxTravelDeg     float64 `yaml:"max_travel_deg"`    // mechanical stop, west
	RelaySettleMs    int     `yaml:"relay_settle_ms"`
}

// PinsConfig maps the drive train onto BCM pin numbers.
type PinsConfig struct {
	Step        int `yaml:"step"`
	Dir         int `yaml:"dir"`
	Relay       int `yaml:"relay"`
	EncoderA    int `yaml:"encoder_a"`
	EncoderB    int `yaml:"encoder_b"`
	LimitSwitch int `yaml:"limit_switch"` // active low, internal pull-up
}

// StoreConfig locates the persistent key/value state.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// FirmwareConfig configures over-the-air updates. An empty metadata URL
// disables them.
type FirmwareConfig struct {
	MetadataURL string `yaml:"metadata_url"`
	StagePath   string `yaml:"stage_path"`
}

// DefaultsConfig contains generic parameters (debug, mocks, cadence).
type DefaultsConfig struct {
	DebugLevel  int  `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	MockClock   bool `yaml:"mock_clock"`   // system time instead of the DS3231
	TickMinutes int  `yaml:"tick_minutes"` // tracking tick cadence
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Wifi     WifiConfig     `yaml:"wifi"`
	Location LocationConfig `yaml:"location"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Motion   MotionConfig   `yaml:"motion"`
	Pins     PinsConfig     `yaml:"pins"`
	Store    StoreConfig    `yaml:"store"`
	Firmware FirmwareConfig `yaml:"firmware"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Device.TowerID == 0 {
		return nil, fmt.Errorf("device.tower_id is required")
	}
	if cfg.Location.Latitude == 0 && cfg.Location.Longitude == 0 {
		return nil, fmt.Errorf("location.latitude and location.longitude are required")
	}
	if cfg.Location.Latitude < -90 || cfg.Location.Latitude > 90 {
		return nil, fmt.Errorf("location.latitude must be between -90 and 90, got %.6f", cfg.Location.Latitude)
	}
	if cfg.Location.Longitude < -180 || cfg.Location.Longitude > 180 {
		return nil, fmt.Errorf("location.longitude must be between -180 and 180, got %.6f", cfg.Location.Longitude)
	}
	if cfg.Location.TimezoneOffsetHours < -12 || cfg.Location.TimezoneOffsetHours > 14 {
		return nil, fmt.Errorf("location.timezone_offset_hours must be between -12 and 14, got %g", cfg.Location.TimezoneOffsetHours)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	// Default values for the drive train
	if cfg.Motion.MaxSpeedSPS <= 0 {
		cfg.Motion.MaxSpeedSPS = 43000
	}
	if cfg.Motion.AccelerationSPS2 <= 0 {
		cfg.Motion.AccelerationSPS2 = 20000
	}
	if cfg.Motion.ClosedLoop == nil {
		closed := true
		cfg.Motion.ClosedLoop = &closed
	}
	if cfg.Motion.MinTravelDeg == 0 && cfg.Motion.MaxTravelDeg == 0 {
		cfg.Motion.MinTravelDeg = 90
		cfg.Motion.MaxTravelDeg = 270
	}
	if cfg.Motion.MinTravelDeg >= cfg.Motion.MaxTravelDeg {
		return nil, fmt.Errorf("motion.min_travel_deg (%.1f) must be below motion.max_travel_deg (%.1f)",
			cfg.Motion.MinTravelDeg, cfg.Motion.MaxTravelDeg)
	}
	if cfg.Motion.RelaySettleMs <= 0 {
		cfg.Motion.RelaySettleMs = 100
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "/var/lib/trackerd/state.yaml"
	}
	if cfg.Firmware.MetadataURL != "" && cfg.Firmware.StagePath == "" {
		cfg.Firmware.StagePath = "/var/lib/trackerd/firmware.next"
	}

	if cfg.Defaults.TickMinutes <= 0 {
		cfg.Defaults.TickMinutes = 5
	}

	return &cfg, nil
}

// ClosedLoop reports whether the encoder feedback loop is enabled.
func (c *Config) ClosedLoop() bool {
	return c.Motion.ClosedLoop == nil || *c.Motion.ClosedLoop
}

// TickInterval returns the cadence of the tracking tick.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Defaults.TickMinutes) * time.Minute
}

// RelaySettle returns how long to wait after closing the motor relay
// before the first step pulse.
func (c *Config) RelaySettle() time.Duration {
	return time.Duration(c.Motion.RelaySettleMs) * time.Millisecond
}

// TimezoneOffset returns the site's fixed UTC offset.
func (c *Config) TimezoneOffset() time.Duration {
	return time.Duration(c.Location.TimezoneOffsetHours * float64(time.Hour))
}

// TopicPrefix returns the telemetry topic prefix for this tower,
// e.g. "device1A" for tower 26.
func (c *Config) TopicPrefix() string {
	return fmt.Sprintf("device%X", c.Device.TowerID)
}
