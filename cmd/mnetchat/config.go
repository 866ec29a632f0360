package main

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the mnetchat TOML configuration. Zero values fall back to the
// mnet defaults.
type Config struct {
	Hostname string `toml:"hostname"`
	Channel  uint16 `toml:"channel"`
	Port     uint16 `toml:"port"`

	MTU                int      `toml:"mtu"`
	MaxSequence        uint32   `toml:"max_sequence"`
	RetransmitInterval duration `toml:"retransmit_interval"`
	DropTimeout        duration `toml:"drop_timeout"`

	Relay relayConfig `toml:"relay"`
	UDP   udpConfig   `toml:"udp"`
}

type relayConfig struct {
	URL string `toml:"url"`
}

type udpConfig struct {
	Port          int    `toml:"port"`
	BroadcastAddr string `toml:"broadcast_addr"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{Port: 1}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
