package usb

// Device is the minimal interface a device must implement.
// It only handles non-EP0 (isochronous/interrupt/bulk) transfers.
type Device interface {
	// HandleTransfer processes a non-EP0 transfer. ep is the endpoint
	// number (without direction). dir is usbip.DirIn or usbip.DirOut.
	// For IN transfers, return the payload to send; for OUT, consume
	// 'out' and return nil.
	HandleTransfer(ep uint32, dir uint32, out []byte) []byte
	GetDescriptor() *Descriptor
}

// ControlHandler is implemented by devices that service class- or
// vendor-specific EP0 requests. handled=false hands the request back to
// the standard request handler; a non-nil err stalls EP0.
type ControlHandler interface {
	HandleControl(setup Setup, data []byte) (resp []byte, handled bool, err error)
}

// AltSettingObserver is implemented by devices that track which alternate
// setting the host selected for one of their interfaces.
type AltSettingObserver interface {
	// SetAltSetting is invoked on a standard SET_INTERFACE request.
	SetAltSetting(ifnum, alt uint8)
	// AltSetting reports the currently selected alternate setting.
	AltSetting(ifnum uint8) uint8
}
