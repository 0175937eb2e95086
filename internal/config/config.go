// Package config loads the monitor configuration. Defaults match the
// Suptronics X120X reference setup; any of them can be overridden from a YAML
// file, normally /etc/ups-monitor.yaml.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/x120x/ups-monitor/internal/battery"
)

// DefaultFile is where the daemon looks for configuration when no path is
// given on the command line.
const DefaultFile = "/etc/ups-monitor.yaml"

type Config struct {
	PollIntervalSeconds int    `mapstructure:"poll-interval-seconds"`
	ShutdownThreshold   int    `mapstructure:"shutdown-threshold"`
	Loop                bool   `mapstructure:"loop"`
	ShutdownPolicy      string `mapstructure:"shutdown-policy"`

	CriticalVoltage  float32 `mapstructure:"critical-voltage"`
	CriticalCapacity float32 `mapstructure:"critical-capacity"`

	MaxChargeVoltage    float32 `mapstructure:"max-charge-voltage"`
	ResumeChargeVoltage float32 `mapstructure:"resume-charge-voltage"`
	ChargeHysteresis    float32 `mapstructure:"charge-hysteresis"`

	I2CBus          string `mapstructure:"i2c-bus"`
	GPIOChip        string `mapstructure:"gpio-chip"`
	PLDPin          int    `mapstructure:"pld-pin"`
	ChargePin       int    `mapstructure:"charge-pin"`
	ChargeActiveLow bool   `mapstructure:"charge-active-low"`

	LockFile string `mapstructure:"lock-file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll-interval-seconds", 60)
	v.SetDefault("shutdown-threshold", 3)
	v.SetDefault("loop", true)
	v.SetDefault("shutdown-policy", string(battery.PolicyGated))
	v.SetDefault("critical-voltage", 3.20)
	v.SetDefault("critical-capacity", 20.0)
	v.SetDefault("max-charge-voltage", 4.10)
	v.SetDefault("resume-charge-voltage", 3.89)
	v.SetDefault("charge-hysteresis", 0.05)
	v.SetDefault("i2c-bus", "")
	v.SetDefault("gpio-chip", "gpiochip0")
	v.SetDefault("pld-pin", 6)
	v.SetDefault("charge-pin", 16)
	v.SetDefault("charge-active-low", true)
	v.SetDefault("lock-file", "/var/lock/ups-monitor.lock")
}

// Load reads the configuration from path, falling back to defaults for any
// missing keys. The default file is optional; an explicitly chosen path must
// exist, so a typoed --config cannot silently run on defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) || path != DefaultFile {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate rejects configurations the state machines cannot operate on.
func (c *Config) Validate() error {
	if c.ShutdownThreshold < 1 {
		return fmt.Errorf("shutdown-threshold must be at least 1, got %d", c.ShutdownThreshold)
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll-interval-seconds must be at least 1, got %d", c.PollIntervalSeconds)
	}
	switch battery.Policy(c.ShutdownPolicy) {
	case battery.PolicyAdditive, battery.PolicyGated:
	default:
		return fmt.Errorf("unknown shutdown-policy %q", c.ShutdownPolicy)
	}
	// The hysteresis band must be non-empty or the charge line will chatter.
	if c.ResumeChargeVoltage-c.ChargeHysteresis >= c.MaxChargeVoltage {
		return fmt.Errorf("resume-charge-voltage %.2f (less hysteresis %.2f) must be below max-charge-voltage %.2f",
			c.ResumeChargeVoltage, c.ChargeHysteresis, c.MaxChargeVoltage)
	}
	return nil
}
