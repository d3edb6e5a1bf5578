package uac

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alia5/VAC/usb"
)

// Registry maps one USB configuration's interface and endpoint numbers to
// the audio functions that own them. It is populated while the device is
// assembled, under a single coarse lock, and is effectively read-only
// once the device is exported.
type Registry struct {
	mu          sync.Mutex
	fns         []*Function
	byInterface map[uint8]*Function
	byEndpoint  map[uint8]*Function
	logger      *slog.Logger
}

// NewRegistry creates an empty function registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byInterface: make(map[uint8]*Function),
		byEndpoint:  make(map[uint8]*Function),
		logger:      logger,
	}
}

// Add indexes a function by its AC and streaming interface numbers and by
// its isochronous endpoint addresses.
func (r *Registry) Add(fn *Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := fn.Descriptors()
	nrs := append([]uint8{set.ACInterface.BInterfaceNumber}, set.Header.BaInterfaceNr...)
	for _, nr := range nrs {
		if other, ok := r.byInterface[nr]; ok {
			return fmt.Errorf("interface %d already owned by %q", nr, other.Name())
		}
	}
	for i := range set.Streams {
		addr := set.Streams[i].Endpoint.BEndpointAddress
		if other, ok := r.byEndpoint[addr]; ok {
			return fmt.Errorf("endpoint %#02x already owned by %q", addr, other.Name())
		}
	}

	for _, nr := range nrs {
		r.byInterface[nr] = fn
	}
	for i := range set.Streams {
		r.byEndpoint[set.Streams[i].Endpoint.BEndpointAddress] = fn
	}
	r.fns = append(r.fns, fn)
	return nil
}

// ByInterface returns the function owning the interface number, or nil.
func (r *Registry) ByInterface(nr uint8) *Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byInterface[nr]
}

// ByEndpoint returns the function owning the endpoint address, or nil.
func (r *Registry) ByEndpoint(addr uint8) *Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEndpoint[addr]
}

// Functions returns the registered functions in registration order.
func (r *Registry) Functions() []*Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Function, len(r.fns))
	copy(out, r.fns)
	return out
}

// HandleClassRequest is the entry point for class-specific requests the
// standard stack did not consume. Interface requests carry the entity
// identifier in the high byte of wIndex and the interface number in the
// low byte; the request is routed to the owning function and dispatched
// by the addressed entity's subtype. Requests to unsupported recipients
// or entity subtypes, and every validation failure below, come back
// wrapping ErrStall so the transport answers with a protocol stall.
func (r *Registry) HandleClassRequest(setup usb.Setup, data []byte) ([]byte, error) {
	switch setup.Recipient() {
	case usb.RequestRecipientInterface:
		return r.handleInterfaceRequest(setup, data)
	case usb.RequestRecipientEndpoint:
		// Class-specific endpoint requests (sampling frequency,
		// pitch) are not supported.
		return nil, fmt.Errorf("endpoint requests unsupported: %w", ErrStall)
	default:
		return nil, fmt.Errorf("recipient %#02x invalid for class request: %w", setup.Recipient(), ErrStall)
	}
}

func (r *Registry) handleInterfaceRequest(setup usb.Setup, data []byte) ([]byte, error) {
	nr := uint8(setup.WIndex)
	entityID := uint8(setup.WIndex >> 8)

	fn := r.ByInterface(nr)
	if fn == nil {
		return nil, fmt.Errorf("no function owns interface %d: %w", nr, ErrStall)
	}

	subtype, ok := fn.Descriptors().ResolveEntity(entityID)
	if !ok {
		return nil, fmt.Errorf("no entity %d on %q: %w", entityID, fn.Name(), ErrStall)
	}

	switch subtype {
	case SubtypeFeatureUnit:
		return fn.handleFeatureUnit(setup, data)
	default:
		r.logger.Info("request to unsupported entity subtype", "entity", entityID, "subtype", uint8(subtype))
		return nil, fmt.Errorf("entity subtype %#02x unsupported: %w", uint8(subtype), ErrStall)
	}
}
