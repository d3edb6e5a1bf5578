package usb

import "time"

// ServerConfig represents the server subcommand configuration.
type ServerConfig struct {
	Addr              string        `help:"USB-IP server listen address" default:":3241" env:"VAC_USB_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
}
