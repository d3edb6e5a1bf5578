package uac

import (
	"bytes"

	"github.com/Alia5/VAC/usb"
)

// StreamInterface bundles the descriptors of one audio streaming
// interface: the zero-bandwidth alternate setting 0, the operational
// alternate setting 1 and its class-specific and endpoint descriptors.
type StreamInterface struct {
	Alt0       usb.InterfaceDescriptor
	Alt1       usb.InterfaceDescriptor
	General    ASGeneral
	Format     FormatTypeI
	Endpoint   usb.EndpointDescriptor
	CSEndpoint CSEndpoint
}

// DescriptorSet is the typed descriptor tree of one audio function,
// built once when the function is assembled. Control-path lookups iterate
// its tagged records instead of walking the packed blob by offsets; the
// packed form is produced on demand for enumeration.
type DescriptorSet struct {
	ACInterface usb.InterfaceDescriptor
	Header      ACHeader
	Entities    []Entity
	Streams     []StreamInterface

	fixed bool
}

// Fixup completes the descriptor fields whose correct value depends on
// run-time instance numbering: every feature unit's per-channel control
// bitmaps are mirrored from channel 0, and the interface numbers of the
// function are renumbered sequentially from base (AC interface = base,
// streaming interfaces = base+1, base+2) together with the AC header's
// back-references. It must run exactly once per function, before the
// function becomes reachable by requests.
func (s *DescriptorSet) Fixup(base uint8) {
	for _, e := range s.Entities {
		fu, ok := e.(*FeatureUnit)
		if !ok {
			continue
		}
		// Element 0 is filled when the unit is declared.
		for i := 1; i < len(fu.BmaControls); i++ {
			fu.BmaControls[i] = fu.BmaControls[0]
		}
	}

	s.ACInterface.BInterfaceNumber = base
	for i := range s.Streams {
		nr := base + 1 + uint8(i)
		s.Header.BaInterfaceNr[i] = nr
		s.Streams[i].Alt0.BInterfaceNumber = nr
		s.Streams[i].Alt1.BInterfaceNumber = nr
	}
	s.fixed = true
}

// ResolveEntity walks the function's entities looking for the one the
// request addresses. Returns the entity's declared subtype and true on a
// match, false if no entity carries the identifier.
func (s *DescriptorSet) ResolveEntity(id uint8) (EntitySubtype, bool) {
	for _, e := range s.Entities {
		if e.ID() == id {
			return e.Subtype(), true
		}
	}
	return SubtypeUndefined, false
}

// FeatureUnits returns the function's feature units in declaration order.
func (s *DescriptorSet) FeatureUnits() []*FeatureUnit {
	var out []*FeatureUnit
	for _, e := range s.Entities {
		if fu, ok := e.(*FeatureUnit); ok {
			out = append(out, fu)
		}
	}
	return out
}

// DirectionOf determines the streaming direction a feature unit belongs
// to by inspecting its downstream output terminal: a unit feeding a
// USB-streaming terminal feeds the host path (In), anything else is Out.
func (s *DescriptorSet) DirectionOf(fu *FeatureUnit) Direction {
	for _, e := range s.Entities {
		ot, ok := e.(*OutputTerminal)
		if !ok || ot.BSourceID != fu.BUnitID {
			continue
		}
		if ot.WTerminalType == TerminalUSBStreaming {
			return In
		}
		return Out
	}
	return Out
}

// OwnsInterface reports whether the interface number belongs to this
// function, by scanning the AC header's interface-number list and the AC
// interface itself.
func (s *DescriptorSet) OwnsInterface(nr uint8) bool {
	if s.ACInterface.BInterfaceNumber == nr {
		return true
	}
	for _, n := range s.Header.BaInterfaceNr {
		if n == nr {
			return true
		}
	}
	return false
}

// StreamByInterface returns the streaming interface with the given
// number, or nil.
func (s *DescriptorSet) StreamByInterface(nr uint8) *StreamInterface {
	for i := range s.Streams {
		if s.Streams[i].Alt1.BInterfaceNumber == nr {
			return &s.Streams[i]
		}
	}
	return nil
}

// classBlob encodes the class-specific AC interface descriptors (header
// plus entities) as one packed byte sequence, patching the header's
// wTotalLength.
func (s *DescriptorSet) classBlob() []byte {
	var ents bytes.Buffer
	for _, e := range s.Entities {
		e.Write(&ents)
	}
	hdr := s.Header
	hdr.WTotalLength = uint16(int(hdr.length()) + ents.Len())

	var b bytes.Buffer
	hdr.Write(&b)
	b.Write(ents.Bytes())
	return b.Bytes()
}

// Interfaces serializes the descriptor set into the per-interface
// configuration entries the enumeration path emits: the AC interface with
// its class payload, then each streaming interface's passive and active
// alternate settings.
func (s *DescriptorSet) Interfaces() []usb.InterfaceConfig {
	out := []usb.InterfaceConfig{{
		Descriptor: s.ACInterface,
		ClassData:  s.classBlob(),
	}}
	for i := range s.Streams {
		st := &s.Streams[i]

		var cls bytes.Buffer
		st.General.Write(&cls)
		st.Format.Write(&cls)

		var csep bytes.Buffer
		st.CSEndpoint.Write(&csep)

		out = append(out,
			usb.InterfaceConfig{Descriptor: st.Alt0},
			usb.InterfaceConfig{
				Descriptor: st.Alt1,
				ClassData:  cls.Bytes(),
				Endpoints: []usb.EndpointConfig{{
					Descriptor: st.Endpoint,
					ClassData:  csep.Bytes(),
				}},
			},
		)
	}
	return out
}
