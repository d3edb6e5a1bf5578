//go:build linux

package cmd

import "log/slog"

// ServiceCommand manages the systemd unit for the server.
type ServiceCommand struct {
	Install   ServiceInstall   `cmd:"" help:"Install and start the systemd service"`
	Uninstall ServiceUninstall `cmd:"" help:"Stop and remove the systemd service"`
}

type ServiceInstall struct{}

func (c *ServiceInstall) Run(logger *slog.Logger) error { return install(logger) }

type ServiceUninstall struct{}

func (c *ServiceUninstall) Run(logger *slog.Logger) error { return uninstall(logger) }
