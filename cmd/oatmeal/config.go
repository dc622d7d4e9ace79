package main

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// fileConfig maps named ports to serial device settings:
//
//	[ports.gantry]
//	device = "/dev/ttyACM0"
//	baud = 115200
type fileConfig struct {
	Ports map[string]devConfig `toml:"ports"`
}

type devConfig struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

// lookupPort resolves a named port from a TOML config file.
func lookupPort(path, name string) (devConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return devConfig{}, fmt.Errorf("load port config: %w", err)
	}
	pc, ok := cfg.Ports[name]
	if !ok {
		known := make([]string, 0, len(cfg.Ports))
		for k := range cfg.Ports {
			known = append(known, k)
		}
		sort.Strings(known)
		return devConfig{}, fmt.Errorf("port %q not in %s (have %v)", name, path, known)
	}
	if pc.Device == "" {
		return devConfig{}, fmt.Errorf("port %q has no device", name)
	}
	return pc, nil
}
