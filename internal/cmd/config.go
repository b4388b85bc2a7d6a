package cmd

import (
	"github.com/spf13/pflag"

	"github.com/tomasbasham/cdn/internal/config"
)

const defaultConfigPath = "appsettings.yaml"

// ConfigOptions locates the layered configuration shared by every command.
type ConfigOptions struct {
	ConfigPath  string
	Environment string
}

// AddFlags registers the configuration flags on flags.
func (o *ConfigOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.ConfigPath, "config", "c", defaultConfigPath, "Path to the base configuration file")
	flags.StringVarP(&o.Environment, "environment", "e", "", "Environment name selecting an additional configuration file (default: $"+config.EnvironmentVariable+")")
}

// Load reads the configuration the flags point at.
func (o *ConfigOptions) Load() (*config.Config, error) {
	return config.Load(o.ConfigPath, o.Environment)
}
