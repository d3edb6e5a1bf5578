package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alia5/VAC/uac"
	"github.com/Alia5/VAC/usb"
	"github.com/Alia5/VAC/usbip"
)

// inPacket is one queued IN transfer: payload plus its completion.
type inPacket struct {
	data []byte
	done func(size int)
}

// Audio is a virtual audio device hosting one or more audio functions in
// a single configuration. It bridges URB traffic to the class core: OUT
// isochronous transfers are staged and consumed synchronously, IN
// transfers drain packets the application queued via uac.Function.Send,
// and EP0 class requests are dispatched through the function registry.
type Audio struct {
	descriptor usb.Descriptor
	registry   *uac.Registry
	byName     map[string]*uac.Function
	logger     *slog.Logger

	mu          sync.Mutex
	altSettings map[uint8]uint8
	pendingOut  map[uint8][]byte
	inQueue     map[uint8][]inPacket
}

// New assembles a device from the given function topologies. Interface
// numbers are assigned sequentially across functions, endpoint numbers
// sequentially across streaming interfaces, and every descriptor set is
// fixed up before its function is registered.
func New(logger *slog.Logger, specs ...FunctionSpec) (*Audio, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no audio functions given")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Audio{
		registry:    uac.NewRegistry(logger),
		byName:      make(map[string]*uac.Function),
		logger:      logger,
		altSettings: make(map[uint8]uint8),
		pendingOut:  make(map[uint8][]byte),
		inQueue:     make(map[uint8][]inPacket),
	}

	var ifaceBase, epNum uint8 = 0, 1
	for _, spec := range specs {
		set := spec.Set
		for i := range set.Streams {
			ep := &set.Streams[i].Endpoint
			ep.BEndpointAddress = ep.BEndpointAddress&usb.EndpointDirIn | epNum
			epNum++
		}
		set.Fixup(ifaceBase)
		ifaceBase += 1 + uint8(len(set.Streams))

		fn, err := uac.NewFunction(spec.Name, set, a, logger)
		if err != nil {
			return nil, err
		}
		if err := a.registry.Add(fn); err != nil {
			return nil, fmt.Errorf("register %q: %w", spec.Name, err)
		}
		a.byName[spec.Name] = fn
	}

	a.descriptor = usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB:             0x0200,
			BDeviceClass:       0x00, // per interface
			BMaxPacketSize0:    0x40,
			IDVendor:           0x2FE3,
			IDProduct:          0x0101,
			BcdDevice:          0x0100,
			IManufacturer:      0x01,
			IProduct:           0x02,
			ISerialNumber:      0x03,
			BNumConfigurations: 0x01,
			Speed:              2, // Full speed
		},
		Strings: map[uint8]string{
			1: "VAC",
			2: "Virtual Audio Device",
			3: "000001",
		},
	}
	for _, fn := range a.registry.Functions() {
		a.descriptor.Interfaces = append(a.descriptor.Interfaces, fn.Descriptors().Interfaces()...)
	}
	return a, nil
}

// Function returns the named audio function for observer registration
// and buffer traffic, or nil.
func (a *Audio) Function(name string) *uac.Function { return a.byName[name] }

// Functions returns all functions on the device.
func (a *Audio) Functions() []*uac.Function { return a.registry.Functions() }

func (a *Audio) GetDescriptor() *usb.Descriptor { return &a.descriptor }

// HandleTransfer services isochronous URBs. An IN poll doubles as the
// frame tick: the function gets its data request before the queue is
// drained, so an application producing synchronously never misses a
// frame.
func (a *Audio) HandleTransfer(ep uint32, dir uint32, out []byte) []byte {
	if dir == usbip.DirIn {
		addr := usb.EndpointDirIn | uint8(ep)
		fn := a.registry.ByEndpoint(addr)
		if fn == nil {
			return nil
		}
		fn.SOF()

		a.mu.Lock()
		q := a.inQueue[addr]
		if len(q) == 0 {
			a.mu.Unlock()
			return nil
		}
		pkt := q[0]
		a.inQueue[addr] = q[1:]
		a.mu.Unlock()

		// The buffer returns to the pool inside done; hand the
		// transport its own copy.
		payload := make([]byte, len(pkt.data))
		copy(payload, pkt.data)
		pkt.done(len(pkt.data))
		return payload
	}

	addr := uint8(ep) & usb.EndpointNumberMask
	fn := a.registry.ByEndpoint(addr)
	if fn == nil || len(out) == 0 {
		return nil
	}
	a.mu.Lock()
	a.pendingOut[addr] = out
	a.mu.Unlock()
	fn.DataAvailable(addr)
	a.mu.Lock()
	delete(a.pendingOut, addr)
	a.mu.Unlock()
	return nil
}

// HandleControl dispatches EP0 class requests addressed to the device's
// audio functions. Standard and vendor requests are left to the caller.
func (a *Audio) HandleControl(setup usb.Setup, data []byte) ([]byte, bool, error) {
	if setup.Type() != usb.RequestTypeClass {
		return nil, false, nil
	}
	resp, err := a.registry.HandleClassRequest(setup, data)
	if err != nil {
		return nil, true, err
	}
	return resp, true, nil
}

// SetAltSetting records a SET_INTERFACE selection and forwards it to the
// owning function's streaming state.
func (a *Audio) SetAltSetting(ifnum, alt uint8) {
	a.mu.Lock()
	a.altSettings[ifnum] = alt
	a.mu.Unlock()
	if fn := a.registry.ByInterface(ifnum); fn != nil {
		fn.SetAltSetting(ifnum, alt)
	}
}

// AltSetting reports the currently selected alternate setting, zero for
// interfaces the host never addressed.
func (a *Audio) AltSetting(ifnum uint8) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.altSettings[ifnum]
}

// Read consumes the staged OUT payload for the endpoint.
func (a *Audio) Read(ep uint8, buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.pendingOut[ep]
	if !ok {
		return 0, nil
	}
	delete(a.pendingOut, ep)
	if len(data) > len(buf) {
		return 0, fmt.Errorf("packet of %d bytes exceeds %d byte buffer", len(data), len(buf))
	}
	return copy(buf, data), nil
}

// Write queues an IN payload for the next isochronous poll of the
// endpoint. done runs when the packet is drained.
func (a *Audio) Write(ep uint8, data []byte, done func(size int)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inQueue[ep] = append(a.inQueue[ep], inPacket{data: data, done: done})
	return nil
}
