package application

import (
	"io"

	yaml "gopkg.in/yaml.v2"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/events"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/simulation"
)

type Config struct {
	Simulation    simulation.Config     `yaml:"simulation"`
	Notifications []events.Notification `yaml:"notifications"`
}

func DefaultConfig() *Config {
	return &Config{
		Simulation: simulation.Config{
			Enabled:  true,
			Interval: simulation.DefaultInterval,
		},
	}
}

// LoadConfiguration reads a yaml configuration on top of DefaultConfig.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Events() *events.Config {
	return &events.Config{Notifications: c.Notifications}
}
