package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alia5/VAC/device"
	"github.com/Alia5/VAC/device/audio"
	"github.com/Alia5/VAC/internal/log"
	"github.com/Alia5/VAC/internal/server/usb"
	"github.com/Alia5/VAC/internal/util"
	"github.com/Alia5/VAC/virtualbus"
)

type Server struct {
	UsbServerConfig   usb.ServerConfig `embed:"" prefix:"usb."`
	Devices           []string         `help:"Audio devices to expose: headset, headphones, microphone" default:"headset" env:"VAC_DEVICES"`
	ConnectionTimeout time.Duration    `help:"Connection operation timeout" default:"30s" env:"VAC_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	s.UsbServerConfig.ConnectionTimeout = s.ConnectionTimeout

	logger.Info("Starting VAC USB-IP server", "addr", s.UsbServerConfig.Addr)

	usbSrv := usb.New(s.UsbServerConfig, logger, rawLogger)

	bus := virtualbus.New()
	if err := usbSrv.AddBus(bus); err != nil {
		return fmt.Errorf("register bus: %w", err)
	}
	for i, kind := range s.Devices {
		dev, err := newDevice(kind, i, logger)
		if err != nil {
			return err
		}
		devCtx, err := bus.Add(dev)
		if err != nil {
			return fmt.Errorf("add %s to bus: %w", kind, err)
		}
		busID := ""
		if meta := device.GetDeviceMeta(devCtx); meta != nil {
			busID = string(bytes.TrimRight(meta.USBBusId[:], "\x00"))
		}
		logger.Info("Exposed audio device", "kind", kind, "busid", busID)
	}

	usbErrCh := make(chan error, 1)
	go func() {
		usbErrCh <- usbSrv.ListenAndServe()
	}()

	select {
	case err := <-usbErrCh:
		return err
	case <-usbSrv.Ready():
	}

	if util.IsRunFromGUI() {
		go (func() {
			time.Sleep(250 * time.Millisecond)
			util.HideConsoleWindow()
		})()
	}

	select {
	case <-ctx.Done():
		_ = usbSrv.Close()
		<-usbErrCh
		return nil
	case err := <-usbErrCh:
		return err
	}
}

func newDevice(kind string, idx int, logger *slog.Logger) (*audio.Audio, error) {
	name := fmt.Sprintf("%s%d", kind, idx)
	switch kind {
	case "headset":
		return audio.New(logger, audio.Headset(name, audio.Options{}, audio.Options{}))
	case "headphones":
		return audio.New(logger, audio.Headphones(name, audio.Options{}))
	case "microphone":
		return audio.New(logger, audio.Microphone(name, audio.Options{}))
	default:
		return nil, fmt.Errorf("unknown device kind %q (want headset, headphones or microphone)", kind)
	}
}
