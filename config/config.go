// Package config loads the TOML configuration of the userprog machine.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/wnxd/microdbg-userprog/kernel"
)

type Config struct {
	Kernel  kernel.Config `toml:"kernel"`
	Console Console       `toml:"console"`
	Log     Log           `toml:"log"`
	Machine Machine       `toml:"machine"`
}

type Console struct {
	// Raw puts an interactive terminal into raw mode so every key press
	// reaches the console as it is typed.
	Raw bool `toml:"raw"`
}

type Log struct {
	// Level is a logrus level name.
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

type Machine struct {
	// HostStats adds host uptime and memory use to the power off report.
	HostStats bool `toml:"host_stats"`
}

func Default() Config {
	return Config{
		Kernel: kernel.DefaultConfig(),
		Log:    Log{Level: "warning", Format: "text"},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := c.Kernel.Validate(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: must be text or json", c.Log.Format)
	}
	return nil
}

// Logger builds the logger described by c, writing to w.
func (c Log) Logger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return log, nil
}
