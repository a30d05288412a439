package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/influx"
)

// Config is the yaml configuration file. Command line flags take
// precedence over it.
type Config struct {
	Broker      string        `yaml:"broker"`
	Http        string        `yaml:"http"`
	Token       string        `yaml:"token"`
	Codec       string        `yaml:"codec"`
	Period      time.Duration `yaml:"period"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	ParamServer string        `yaml:"param_server"`
	LogLevel    string        `yaml:"log_level"`

	Influx   *influx.Sink     `yaml:"influx"`
	Profiles drivers.Profiles `yaml:"profiles"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if len(path) == 0 {
		return cfg, nil
	}

	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config file %s", path)
	}

	err = yaml.Unmarshal(buff, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed unmarshalling yaml config %s", path)
	}
	return cfg, nil
}

// profiles returns the built in profiles with the configured ones on top.
func (c *Config) profiles() drivers.Profiles {
	profiles := drivers.DefaultProfiles()
	for name, profile := range c.Profiles {
		profiles[name] = profile
	}
	return profiles
}

func (c *Config) influxEnabled() bool {
	return c.Influx != nil && len(c.Influx.Host) > 0
}
