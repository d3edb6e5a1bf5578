package usb

import "encoding/binary"

// bmRequestType fields.
const (
	RequestDirectionMask = 0x80
	RequestDirToHost     = 0x80

	RequestTypeMask     = 0x60
	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientMask      = 0x1F
	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
)

// Setup is a parsed 8-byte SETUP packet.
type Setup struct {
	BmRequestType uint8
	BRequest      uint8
	WValue        uint16 // LE on the wire
	WIndex        uint16
	WLength       uint16
}

// ParseSetup decodes an 8-byte SETUP packet. ok is false if b is short.
func ParseSetup(b []byte) (Setup, bool) {
	if len(b) < 8 {
		return Setup{}, false
	}
	return Setup{
		BmRequestType: b[0],
		BRequest:      b[1],
		WValue:        binary.LittleEndian.Uint16(b[2:4]),
		WIndex:        binary.LittleEndian.Uint16(b[4:6]),
		WLength:       binary.LittleEndian.Uint16(b[6:8]),
	}, true
}

// ToHost reports whether the data stage is device-to-host.
func (s Setup) ToHost() bool { return s.BmRequestType&RequestDirectionMask == RequestDirToHost }

// Type extracts the request type bits (standard/class/vendor).
func (s Setup) Type() uint8 { return s.BmRequestType & RequestTypeMask }

// Recipient extracts the request recipient bits.
func (s Setup) Recipient() uint8 { return s.BmRequestType & RequestRecipientMask }
