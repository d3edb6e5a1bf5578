// Package config defines the top-level CLI grammar.
package config

import "github.com/Alia5/VAC/internal/cmd"

// LogConfig holds the logging flags shared by all commands.
type LogConfig struct {
	Level   string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"VAC_LOG_LEVEL"`
	File    string `help:"Write logs to this file in addition to the console" env:"VAC_LOG_FILE"`
	RawFile string `help:"Write raw USB-IP packet dumps to this file" env:"VAC_LOG_RAW_FILE"`
}

// CLI is the root command structure parsed by kong.
type CLI struct {
	Log    LogConfig `embed:"" prefix:"log."`
	Config string    `help:"Path to configuration file" env:"VAC_CONFIG"`

	Server    cmd.Server         `cmd:"" help:"Run the virtual audio USB-IP server" default:"withargs"`
	ConfigCmd cmd.ConfigCommand  `cmd:"" name:"config" help:"Configuration file utilities"`
	Service   cmd.ServiceCommand `cmd:"" help:"Manage the system service"`
}
