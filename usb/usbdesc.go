// Package usb contains helpers for building USB descriptors and data.
package usb

import (
	"bytes"
	"encoding/binary"
)

// USB descriptor type constants
const (
	DeviceDescType      = 0x01
	ConfigDescType      = 0x02
	StringDescType      = 0x03
	InterfaceDescType   = 0x04
	EndpointDescType    = 0x05
	CSInterfaceDescType = 0x24
	CSEndpointDescType  = 0x25
)

// Descriptor lengths in bytes (fixed values from USB spec)
const (
	DeviceDescLen    = 18
	ConfigDescLen    = 9
	InterfaceDescLen = 9
	EndpointDescLen  = 7
	// Audio-class isochronous endpoints use the 9-byte extended form
	// with bRefresh and bSynchAddress appended.
	AudioEndpointDescLen = 9
)

// Endpoint address/attribute bits.
const (
	EndpointDirIn       = 0x80
	EndpointTransferIso = 0x01
	EndpointNumberMask  = 0x0F
)

// Descriptor holds all static descriptor/config data for a device.
type Descriptor struct {
	Device     DeviceDescriptor
	Interfaces []InterfaceConfig
	Strings    map[uint8]string
}

// InterfaceConfig holds all descriptors for a single interface alternate
// setting. Class-specific descriptors that belong to the interface are
// carried as pre-encoded bytes and emitted right after the interface
// descriptor in the configuration blob.
type InterfaceConfig struct {
	Descriptor InterfaceDescriptor
	ClassData  []byte
	Endpoints  []EndpointConfig
}

// EndpointConfig pairs a standard endpoint descriptor with optional
// class-specific endpoint descriptor bytes.
type EndpointConfig struct {
	Descriptor EndpointDescriptor
	ClassData  []byte
}

// EncodeStringDescriptor converts a UTF-8 string to a USB string descriptor byte array.
// The resulting descriptor has the format:
//
//	Byte 0: bLength (total descriptor length)
//	Byte 1: bDescriptorType (0x03 for string)
//	Bytes 2+: UTF-16LE encoded string
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf)) // bLength
	buf[1] = StringDescType
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}

// DeviceDescriptor represents the standard USB device descriptor.
// BLength is computed dynamically; BDescriptorType is implied DeviceDescType.
type DeviceDescriptor struct {
	BcdUSB             uint16 // LE
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16 // LE; may get overridden
	IDProduct          uint16 // LE; may get overridden
	BcdDevice          uint16 // LE
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
	Speed              uint32 // USB speed: 1=low, 2=full, 3=high, 4=super
}

// Bytes returns the binary representation of the DeviceDescriptor with BLength auto-filled.
func (d Descriptor) Bytes() []byte {
	var b bytes.Buffer
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DeviceDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.Device.BcdUSB)
	b.WriteByte(d.Device.BDeviceClass)
	b.WriteByte(d.Device.BDeviceSubClass)
	b.WriteByte(d.Device.BDeviceProtocol)
	b.WriteByte(d.Device.BMaxPacketSize0)
	_ = binary.Write(&b, binary.LittleEndian, d.Device.IDVendor)
	_ = binary.Write(&b, binary.LittleEndian, d.Device.IDProduct)
	_ = binary.Write(&b, binary.LittleEndian, d.Device.BcdDevice)
	b.WriteByte(d.Device.IManufacturer)
	b.WriteByte(d.Device.IProduct)
	b.WriteByte(d.Device.ISerialNumber)
	b.WriteByte(d.Device.BNumConfigurations)
	return b.Bytes()
}

// ConfigHeader represents the USB configuration descriptor header (9 bytes).
type ConfigHeader struct {
	WTotalLength        uint16 // LE, to be patched after building
	BNumInterfaces      uint8
	BConfigurationValue uint8
	IConfiguration      uint8
	BMAttributes        uint8
	BMaxPower           uint8
}

func (h ConfigHeader) Write(b *bytes.Buffer) {
	b.WriteByte(ConfigDescLen)
	b.WriteByte(ConfigDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WTotalLength)
	b.WriteByte(h.BNumInterfaces)
	b.WriteByte(h.BConfigurationValue)
	b.WriteByte(h.IConfiguration)
	b.WriteByte(h.BMAttributes)
	b.WriteByte(h.BMaxPower)
}

// InterfaceDescriptor (9 bytes) for each interface altsetting.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(InterfaceDescType)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(i.BNumEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// EndpointDescriptor for each endpoint. Audio selects the 9-byte
// audio-class form with bRefresh and bSynchAddress appended.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16 // LE
	BInterval        uint8

	Audio         bool
	BRefresh      uint8
	BSynchAddress uint8
}

func (e EndpointDescriptor) Write(b *bytes.Buffer) {
	if e.Audio {
		b.WriteByte(AudioEndpointDescLen)
	} else {
		b.WriteByte(EndpointDescLen)
	}
	b.WriteByte(EndpointDescType)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
	if e.Audio {
		b.WriteByte(e.BRefresh)
		b.WriteByte(e.BSynchAddress)
	}
}

// In reports whether the endpoint address is device-to-host.
func (e EndpointDescriptor) In() bool {
	return e.BEndpointAddress&EndpointDirIn != 0
}

// ConfigBytes assembles the full configuration descriptor: header, then
// each interface alternate setting followed by its class-specific payload
// and endpoints. wTotalLength is patched after building. bNumInterfaces
// counts distinct interface numbers, not alternate settings.
func (d Descriptor) ConfigBytes() []byte {
	seen := map[uint8]bool{}
	for _, iface := range d.Interfaces {
		seen[iface.Descriptor.BInterfaceNumber] = true
	}

	var b bytes.Buffer
	h := ConfigHeader{
		WTotalLength:        0, // to be patched
		BNumInterfaces:      uint8(len(seen)),
		BConfigurationValue: 1,
		IConfiguration:      0,
		BMAttributes:        0x80, // bus powered
		BMaxPower:           50,   // 100mA in 2mA units
	}
	h.Write(&b)
	for _, iface := range d.Interfaces {
		iface.Descriptor.Write(&b)
		if len(iface.ClassData) > 0 {
			b.Write(iface.ClassData)
		}
		for _, ep := range iface.Endpoints {
			ep.Descriptor.Write(&b)
			if len(ep.ClassData) > 0 {
				b.Write(ep.ClassData)
			}
		}
	}

	data := b.Bytes()
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)))
	return data
}
