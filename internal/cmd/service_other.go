//go:build !linux

package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
)

// ServiceCommand manages the system service for the server. Only
// systemd-based Linux hosts are supported.
type ServiceCommand struct {
	Install   ServiceInstall   `cmd:"" help:"Install and start the system service"`
	Uninstall ServiceUninstall `cmd:"" help:"Stop and remove the system service"`
}

type ServiceInstall struct{}

func (c *ServiceInstall) Run(logger *slog.Logger) error {
	return fmt.Errorf("service management is not supported on %s", runtime.GOOS)
}

type ServiceUninstall struct{}

func (c *ServiceUninstall) Run(logger *slog.Logger) error {
	return fmt.Errorf("service management is not supported on %s", runtime.GOOS)
}
