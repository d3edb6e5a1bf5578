package uac

import (
	"fmt"
	"log/slog"
)

// Transport is the narrow endpoint I/O contract the class core consumes.
// Implementations are expected to serialize calls into the core; the core
// introduces no locking of its own around function state.
type Transport interface {
	// Read copies data pending on the OUT endpoint into buf and
	// returns the number of bytes read. A zero count is not an error.
	Read(ep uint8, buf []byte) (int, error)
	// Write hands data to the IN endpoint for asynchronous
	// transmission. done runs exactly once when the transfer
	// completes, with the transmitted size.
	Write(ep uint8, data []byte, done func(size int)) error
}

// FeatureEvent describes a host-driven change to a feature unit control.
type FeatureEvent struct {
	Dir      Direction
	Selector ControlSelector
	Channel  uint8
	Mute     bool
}

// Ops are the observer callbacks an application attaches at registration.
// Any of them may be nil.
type Ops struct {
	// DataRequest is called when the host is ready to accept data on
	// the IN endpoint.
	DataRequest func(fn *Function)
	// DataWritten is called once an IN transfer handed to Send has
	// been transmitted; the buffer has already returned to the pool.
	DataWritten func(fn *Function, size int)
	// DataReceived hands an inbound packet to the application. The
	// application owns the buffer and must release it exactly once.
	DataReceived func(fn *Function, buf *Buffer, size int)
	// FeatureUpdate is called when the host manipulates a feature
	// unit control.
	FeatureUpdate func(fn *Function, evt FeatureEvent)
}

// Controls is the per-channel mutable control state of one feature unit
// channel. Only mute is acted on; the remaining fields are reserved per
// audio10.pdf Table 5-27.
type Controls struct {
	Mute             bool
	Volume           uint16
	ToneControl      [3]uint8
	GraphicEqualizer uint8
	AutomaticGain    bool
	Delay            uint16
	BassBoost        bool
	Loudness         bool
}

// Function is the runtime state of one registered audio function. It is
// created when the function is assembled, completed by descriptor fixup,
// and afterwards mutated only by control requests, alternate-setting
// selections and buffer traffic - all serialized by the transport.
type Function struct {
	name   string
	set    *DescriptorSet
	tr     Transport
	pool   *BufferPool
	logger *slog.Logger

	ops Ops

	// One control-state table per streaming direction slot, indexed
	// by channel with the master channel at 0.
	controls [2][]Controls

	rxEnabled bool
	txEnabled bool
}

// NewFunction wires a descriptor set to a transport. The set must already
// be fixed up; the control-state tables are sized from the feature unit
// descriptors, zero-initialized, with streaming disabled until the host
// selects an operational alternate setting.
func NewFunction(name string, set *DescriptorSet, tr Transport, logger *slog.Logger) (*Function, error) {
	if !set.fixed {
		return nil, fmt.Errorf("descriptor set of %q was not fixed up", name)
	}
	fus := set.FeatureUnits()
	if len(fus) == 0 || len(fus) > 2 {
		return nil, fmt.Errorf("function %q declares %d feature units, want 1 or 2", name, len(fus))
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Pool buffers must hold the largest packet any of the function's
	// endpoints negotiated.
	size := EndpointSize
	for i := range set.Streams {
		if n := int(set.Streams[i].Endpoint.WMaxPacketSize); n > size {
			size = n
		}
	}
	f := &Function{
		name:   name,
		set:    set,
		tr:     tr,
		pool:   NewBufferPool(poolPackets, size),
		logger: logger.With("function", name),
	}
	for i, fu := range fus {
		f.controls[i] = make([]Controls, fu.ChannelCount())
	}
	return f, nil
}

// Register attaches the observer callbacks. It must be called before the
// host starts streaming for the application to see any traffic.
func (f *Function) Register(ops Ops) { f.ops = ops }

// Name returns the function's registration name.
func (f *Function) Name() string { return f.name }

// Descriptors returns the function's descriptor set.
func (f *Function) Descriptors() *DescriptorSet { return f.set }

// RxEnabled reports whether the host enabled the OUT streaming interface.
func (f *Function) RxEnabled() bool { return f.rxEnabled }

// TxEnabled reports whether the host enabled the IN streaming interface.
func (f *Function) TxEnabled() bool { return f.txEnabled }

// AllocBuffer draws a packet buffer from the function's pool, or returns
// nil when the pool is exhausted. It never blocks.
func (f *Function) AllocBuffer() *Buffer { return f.pool.Get() }

// inEndpoint returns the address of the function's isochronous IN
// endpoint, or false if the function has no host-bound path.
func (f *Function) inEndpoint() (uint8, bool) {
	for i := range f.set.Streams {
		if ep := f.set.Streams[i].Endpoint; ep.In() {
			return ep.BEndpointAddress, true
		}
	}
	return 0, false
}

// Send hands a packet buffer to the transport for transmission on the
// function's IN endpoint. Returns ErrNotReady while the host has the
// passive alternate setting selected; that is a retry condition, not a
// failure. On success the transport owns the buffer until completion, at
// which point it returns to the pool and the DataWritten observer fires.
func (f *Function) Send(buf *Buffer, length int) error {
	ep, ok := f.inEndpoint()
	if !ok {
		return fmt.Errorf("function %q has no IN endpoint", f.name)
	}
	if !f.txEnabled {
		return ErrNotReady
	}
	if length > buf.Cap() {
		return fmt.Errorf("cannot send %d bytes, buffer holds %d", length, buf.Cap())
	}
	return f.tr.Write(ep, buf.Bytes()[:length], func(size int) {
		buf.Release()
		if f.ops.DataWritten != nil {
			f.ops.DataWritten(f, size)
		}
	})
}

// DataAvailable services an endpoint-data-available notification from the
// transport. While the OUT interface is passive the notification is a
// no-op and the data stays unread. Pool exhaustion drops the packet;
// there is no backpressure signal upstream.
func (f *Function) DataAvailable(ep uint8) {
	if !f.rxEnabled {
		return
	}
	buf := f.pool.Get()
	if buf == nil {
		f.logger.Error("packet buffer pool exhausted, dropping packet", "ep", fmt.Sprintf("%#02x", ep))
		return
	}
	n, err := f.tr.Read(ep, buf.Bytes())
	if err != nil {
		f.logger.Error("endpoint read failed", "ep", fmt.Sprintf("%#02x", ep), "error", err)
		buf.Release()
		return
	}
	if n == 0 {
		buf.Release()
		return
	}
	if f.ops.DataReceived == nil {
		buf.Release()
		return
	}
	f.ops.DataReceived(f, buf, n)
}

// SOF marks a frame boundary: while the IN interface is active the
// application is told it may supply data.
func (f *Function) SOF() {
	if f.txEnabled && f.ops.DataRequest != nil {
		f.ops.DataRequest(f)
	}
}
