package uac

import (
	"bytes"
	"encoding/binary"

	"github.com/Alia5/VAC/usb"
)

// Fixed class-specific descriptor lengths in bytes.
const (
	InputTerminalDescLen  = 12
	OutputTerminalDescLen = 9
	ASGeneralDescLen      = 7
	FormatTypeIDescLen    = 11 // one discrete sampling frequency
	CSEndpointDescLen     = 7
	// A feature unit descriptor is 7 fixed bytes plus one 16-bit
	// control bitmap per channel (master included).
	featureUnitFixedLen = 7
)

// Entity is an addressable node (terminal or unit) inside an audio
// function's topology. Refer to 1.4 Terms and Abbreviations, audio10.pdf.
type Entity interface {
	ID() uint8
	Subtype() EntitySubtype
	Write(b *bytes.Buffer)
}

// ACHeader is the class-specific AC interface header descriptor,
// audio10.pdf Table 4-2. BInCollection is implied by len(BaInterfaceNr);
// wTotalLength is computed at serialization time.
type ACHeader struct {
	BcdADC        uint16
	WTotalLength  uint16
	BaInterfaceNr []uint8
}

func (h ACHeader) length() uint8 { return uint8(8 + len(h.BaInterfaceNr)) }

func (h ACHeader) Write(b *bytes.Buffer) {
	b.WriteByte(h.length())
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(uint8(SubtypeHeader))
	_ = binary.Write(b, binary.LittleEndian, h.BcdADC)
	_ = binary.Write(b, binary.LittleEndian, h.WTotalLength)
	b.WriteByte(uint8(len(h.BaInterfaceNr)))
	b.Write(h.BaInterfaceNr)
}

// InputTerminal descriptor, audio10.pdf Table 4-3.
type InputTerminal struct {
	BTerminalID    uint8
	WTerminalType  uint16
	BAssocTerminal uint8
	BNrChannels    uint8
	WChannelConfig uint16
	IChannelNames  uint8
	ITerminal      uint8
}

func (t *InputTerminal) ID() uint8              { return t.BTerminalID }
func (t *InputTerminal) Subtype() EntitySubtype { return SubtypeInputTerminal }

func (t *InputTerminal) Write(b *bytes.Buffer) {
	b.WriteByte(InputTerminalDescLen)
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(uint8(SubtypeInputTerminal))
	b.WriteByte(t.BTerminalID)
	_ = binary.Write(b, binary.LittleEndian, t.WTerminalType)
	b.WriteByte(t.BAssocTerminal)
	b.WriteByte(t.BNrChannels)
	_ = binary.Write(b, binary.LittleEndian, t.WChannelConfig)
	b.WriteByte(t.IChannelNames)
	b.WriteByte(t.ITerminal)
}

// OutputTerminal descriptor, audio10.pdf Table 4-4.
type OutputTerminal struct {
	BTerminalID    uint8
	WTerminalType  uint16
	BAssocTerminal uint8
	BSourceID      uint8
	ITerminal      uint8
}

func (t *OutputTerminal) ID() uint8              { return t.BTerminalID }
func (t *OutputTerminal) Subtype() EntitySubtype { return SubtypeOutputTerminal }

func (t *OutputTerminal) Write(b *bytes.Buffer) {
	b.WriteByte(OutputTerminalDescLen)
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(uint8(SubtypeOutputTerminal))
	b.WriteByte(t.BTerminalID)
	_ = binary.Write(b, binary.LittleEndian, t.WTerminalType)
	b.WriteByte(t.BAssocTerminal)
	b.WriteByte(t.BSourceID)
	b.WriteByte(t.ITerminal)
}

// FeatureUnit descriptor, audio10.pdf Table 4-7. BControlSize is fixed at
// two bytes; BmaControls carries one bitmap per channel with the master
// channel at index 0. Static declaration only populates index 0 — the
// remaining channels are completed by DescriptorSet.Fixup.
type FeatureUnit struct {
	BUnitID     uint8
	BSourceID   uint8
	BmaControls []uint16
	IFeature    uint8
}

func (u *FeatureUnit) ID() uint8              { return u.BUnitID }
func (u *FeatureUnit) Subtype() EntitySubtype { return SubtypeFeatureUnit }

func (u *FeatureUnit) length() uint8 {
	return uint8(featureUnitFixedLen + 2*len(u.BmaControls))
}

func (u *FeatureUnit) Write(b *bytes.Buffer) {
	b.WriteByte(u.length())
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(uint8(SubtypeFeatureUnit))
	b.WriteByte(u.BUnitID)
	b.WriteByte(u.BSourceID)
	b.WriteByte(2) // bControlSize
	for _, c := range u.BmaControls {
		_ = binary.Write(b, binary.LittleEndian, c)
	}
	b.WriteByte(u.IFeature)
}

// ChannelCount returns the number of addressable channels of the unit,
// master channel 0 included. It is derived from the descriptor shape the
// same way the wire form derives it from bLength.
func (u *FeatureUnit) ChannelCount() int { return len(u.BmaControls) }

// Supports reports whether the control selector is available on this
// unit. The selector numbering is offset by one against the bitmap (bit 0
// is mute, selector 0x01).
func (u *FeatureUnit) Supports(cs ControlSelector) bool {
	if len(u.BmaControls) == 0 {
		return false
	}
	return uint32(u.BmaControls[0])<<1&(1<<uint32(cs)) != 0
}

// RawEntity carries an entity this package recognizes by subtype tag only
// (mixer, selector, processing and extension units). Body holds the full
// descriptor bytes including the header.
type RawEntity struct {
	BEntityID uint8
	Tag       EntitySubtype
	Body      []byte
}

func (e *RawEntity) ID() uint8              { return e.BEntityID }
func (e *RawEntity) Subtype() EntitySubtype { return e.Tag }
func (e *RawEntity) Write(b *bytes.Buffer)  { b.Write(e.Body) }

// ASGeneral is the class-specific AS interface descriptor,
// audio10.pdf section 4.5.2.
type ASGeneral struct {
	BTerminalLink uint8
	BDelay        uint8
	WFormatTag    uint16
}

func (g ASGeneral) Write(b *bytes.Buffer) {
	b.WriteByte(ASGeneralDescLen)
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(SubtypeASGeneral)
	b.WriteByte(g.BTerminalLink)
	b.WriteByte(g.BDelay)
	_ = binary.Write(b, binary.LittleEndian, g.WFormatTag)
}

// FormatTypeI is the class-specific AS format type descriptor for type I
// PCM with one discrete sampling frequency, audio10.pdf section 4.5.3.
type FormatTypeI struct {
	BNrChannels    uint8
	BSubframeSize  uint8
	BBitResolution uint8
	TSamFreq       [3]byte
}

func (f FormatTypeI) Write(b *bytes.Buffer) {
	b.WriteByte(FormatTypeIDescLen)
	b.WriteByte(usb.CSInterfaceDescType)
	b.WriteByte(SubtypeFormatType)
	b.WriteByte(0x01) // bFormatType: FORMAT_TYPE_I
	b.WriteByte(f.BNrChannels)
	b.WriteByte(f.BSubframeSize)
	b.WriteByte(f.BBitResolution)
	b.WriteByte(1) // bSamFreqType: one discrete frequency
	b.Write(f.TSamFreq[:])
}

// CSEndpoint is the class-specific isochronous audio data endpoint
// descriptor, audio10.pdf section 4.6.1.2.
type CSEndpoint struct {
	BmAttributes    uint8
	BLockDelayUnits uint8
	WLockDelay      uint16
}

func (e CSEndpoint) Write(b *bytes.Buffer) {
	b.WriteByte(CSEndpointDescLen)
	b.WriteByte(usb.CSEndpointDescType)
	b.WriteByte(0x01) // bDescriptorSubtype: EP_GENERAL
	b.WriteByte(e.BmAttributes)
	b.WriteByte(e.BLockDelayUnits)
	_ = binary.Write(b, binary.LittleEndian, e.WLockDelay)
}
