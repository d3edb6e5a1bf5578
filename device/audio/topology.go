// Package audio implements virtual USB Audio Class 1.0 devices:
// headphones, a microphone, a headset and compositions thereof. The class
// logic lives in package uac; this package assembles the descriptor
// topologies and bridges URB traffic to the class core.
package audio

import (
	"github.com/Alia5/VAC/uac"
	"github.com/Alia5/VAC/usb"
)

// Options selects the audio format and feature-unit capabilities of one
// streaming direction.
type Options struct {
	// Channels is the spatial channel bitmap. Zero means a single
	// channel with no declared position.
	Channels uac.ChannelConfig
	// Features is the feature-unit control bitmap for the master
	// channel; per-channel bitmaps are mirrored from it during fixup.
	Features uac.Features
	// Resolution is the sample width in bits. Zero means 16.
	Resolution uint8
}

func (o Options) withDefaults() Options {
	if o.Channels == 0 {
		o.Channels = uac.ChannelLeft | uac.ChannelRight
	}
	if o.Features == 0 {
		o.Features = uac.FeatureMute
	}
	if o.Resolution == 0 {
		o.Resolution = 16
	}
	return o
}

func (o Options) channelCount() uint8 {
	if n := o.Channels.Count(); n > 0 {
		return uint8(n)
	}
	return 1
}

// packetSize is the isochronous payload for one 1ms frame at 48kHz.
func (o Options) packetSize() uint16 {
	return uint16(o.channelCount()) * uint16(o.Resolution/8) * 48
}

// FunctionSpec is one audio function to place into a device
// configuration. Interface and endpoint numbers inside Set are
// placeholders until New runs the fixup.
type FunctionSpec struct {
	Name string
	Set  *uac.DescriptorSet
}

// sampling frequency 48000 Hz as the 3-byte descriptor field
var freq48kHz = [3]byte{0x80, 0xBB, 0x00}

func acInterface() usb.InterfaceDescriptor {
	return usb.InterfaceDescriptor{
		BInterfaceClass:    uac.ClassAudio,
		BInterfaceSubClass: uac.SubclassAudioControl,
	}
}

// stream assembles one audio streaming interface pair with its
// class-specific payload. dirIn selects a device-to-host endpoint; the
// endpoint number is assigned later, only the direction bit is placed.
func stream(o Options, terminalLink uint8, dirIn bool) uac.StreamInterface {
	iface := usb.InterfaceDescriptor{
		BInterfaceClass:    uac.ClassAudio,
		BInterfaceSubClass: uac.SubclassAudioStreaming,
	}
	alt1 := iface
	alt1.BAlternateSetting = 1
	alt1.BNumEndpoints = 1

	var addr uint8
	if dirIn {
		addr = usb.EndpointDirIn
	}
	return uac.StreamInterface{
		Alt0: iface,
		Alt1: alt1,
		General: uac.ASGeneral{
			BTerminalLink: terminalLink,
			WFormatTag:    0x0001, // PCM
		},
		Format: uac.FormatTypeI{
			BNrChannels:    o.channelCount(),
			BSubframeSize:  o.Resolution / 8,
			BBitResolution: o.Resolution,
			TSamFreq:       freq48kHz,
		},
		Endpoint: usb.EndpointDescriptor{
			BEndpointAddress: addr,
			BMAttributes:     usb.EndpointTransferIso,
			WMaxPacketSize:   o.packetSize(),
			BInterval:        0x01,
			Audio:            true,
		},
		CSEndpoint: uac.CSEndpoint{},
	}
}

// controls builds a feature unit bitmap table for the channel count of o
// with only the master entry filled; the remaining entries are mirrored
// during fixup.
func controls(o Options) []uint16 {
	c := make([]uint16, o.channelCount()+1)
	c[0] = uint16(o.Features)
	return c
}

// chain builds the three-entity topology shared by the headphones and
// microphone devices: input terminal, feature unit, output terminal with
// ids base, base+1, base+2.
func chain(o Options, base uint8, itType, otType uint16) []uac.Entity {
	return []uac.Entity{
		&uac.InputTerminal{
			BTerminalID:    base,
			WTerminalType:  itType,
			BNrChannels:    o.channelCount(),
			WChannelConfig: uint16(o.Channels),
		},
		&uac.FeatureUnit{
			BUnitID:     base + 1,
			BSourceID:   base,
			BmaControls: controls(o),
		},
		&uac.OutputTerminal{
			BTerminalID:   base + 2,
			WTerminalType: otType,
			BSourceID:     base + 1,
		},
	}
}

// Headphones is a playback-only topology: a USB streaming input terminal
// feeds a feature unit feeding a headphones output terminal, with one OUT
// streaming interface.
func Headphones(name string, o Options) FunctionSpec {
	o = o.withDefaults()
	return FunctionSpec{
		Name: name,
		Set: &uac.DescriptorSet{
			ACInterface: acInterface(),
			Header: uac.ACHeader{
				BcdADC:        0x0100,
				BaInterfaceNr: make([]uint8, 1),
			},
			Entities: chain(o, 1, uac.TerminalUSBStreaming, uac.TerminalOutHeadphones),
			Streams: []uac.StreamInterface{
				// The AS interface links to the USB streaming
				// input terminal.
				stream(o, 1, false),
			},
		},
	}
}

// Microphone is a capture-only topology: a microphone input terminal
// feeds a feature unit feeding a USB streaming output terminal, with one
// IN streaming interface.
func Microphone(name string, o Options) FunctionSpec {
	o = o.withDefaults()
	return FunctionSpec{
		Name: name,
		Set: &uac.DescriptorSet{
			ACInterface: acInterface(),
			Header: uac.ACHeader{
				BcdADC:        0x0100,
				BaInterfaceNr: make([]uint8, 1),
			},
			Entities: chain(o, 1, uac.TerminalInMicrophone, uac.TerminalUSBStreaming),
			Streams: []uac.StreamInterface{
				// The AS interface links to the USB streaming
				// output terminal.
				stream(o, 3, true),
			},
		},
	}
}

// Headset is a bidirectional topology with six entities: the capture
// chain (headset input terminal 1, feature unit 2, USB streaming output
// terminal 3) and the playback chain (USB streaming input terminal 4,
// feature unit 5, headset output terminal 6), each with its own
// streaming interface. mic configures the capture direction, hp the
// playback direction.
func Headset(name string, mic, hp Options) FunctionSpec {
	mic = mic.withDefaults()
	hp = hp.withDefaults()
	ents := append(
		chain(mic, 1, uac.TerminalIOHeadset, uac.TerminalUSBStreaming),
		chain(hp, 4, uac.TerminalUSBStreaming, uac.TerminalIOHeadset)...,
	)
	return FunctionSpec{
		Name: name,
		Set: &uac.DescriptorSet{
			ACInterface: acInterface(),
			Header: uac.ACHeader{
				BcdADC:        0x0100,
				BaInterfaceNr: make([]uint8, 2),
			},
			Entities: ents,
			Streams: []uac.StreamInterface{
				stream(mic, 3, true),
				stream(hp, 4, false),
			},
		},
	}
}
