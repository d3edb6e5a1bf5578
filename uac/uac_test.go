package uac_test

import (
	"github.com/Alia5/VAC/uac"
	"github.com/Alia5/VAC/usb"
)

// fakeTransport records endpoint traffic and serves canned OUT data.
type fakeTransport struct {
	pending map[uint8][]byte
	writes  []fakeWrite
	readErr error
}

type fakeWrite struct {
	ep   uint8
	data []byte
	done func(size int)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pending: make(map[uint8][]byte)}
}

func (t *fakeTransport) Read(ep uint8, buf []byte) (int, error) {
	if t.readErr != nil {
		return 0, t.readErr
	}
	data := t.pending[ep]
	delete(t.pending, ep)
	return copy(buf, data), nil
}

func (t *fakeTransport) Write(ep uint8, data []byte, done func(size int)) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, fakeWrite{ep: ep, data: cp, done: done})
	return nil
}

// completeWrites fires the completion of every recorded write.
func (t *fakeTransport) completeWrites() {
	for _, w := range t.writes {
		w.done(len(w.data))
	}
	t.writes = nil
}

// stereo mute-only control table: master plus left and right.
func stereoControls() []uint16 {
	return []uint16{uint16(uac.FeatureMute), 0, 0}
}

func streamInterface(epAddr uint8) uac.StreamInterface {
	alt0 := usb.InterfaceDescriptor{
		BInterfaceClass:    uac.ClassAudio,
		BInterfaceSubClass: uac.SubclassAudioStreaming,
	}
	alt1 := alt0
	alt1.BAlternateSetting = 1
	alt1.BNumEndpoints = 1
	return uac.StreamInterface{
		Alt0:    alt0,
		Alt1:    alt1,
		General: uac.ASGeneral{BTerminalLink: 1, WFormatTag: 0x0001},
		Format: uac.FormatTypeI{
			BNrChannels:    2,
			BSubframeSize:  2,
			BBitResolution: 16,
			TSamFreq:       [3]byte{0x80, 0xBB, 0x00},
		},
		Endpoint: usb.EndpointDescriptor{
			BEndpointAddress: epAddr,
			BMAttributes:     usb.EndpointTransferIso,
			WMaxPacketSize:   uac.EndpointSize,
			BInterval:        1,
			Audio:            true,
		},
	}
}

// speakerSet is a playback-only topology: USB streaming input terminal 1,
// feature unit 2, speaker output terminal 3, one OUT endpoint 0x01.
func speakerSet() *uac.DescriptorSet {
	return &uac.DescriptorSet{
		ACInterface: usb.InterfaceDescriptor{
			BInterfaceClass:    uac.ClassAudio,
			BInterfaceSubClass: uac.SubclassAudioControl,
		},
		Header: uac.ACHeader{BcdADC: 0x0100, BaInterfaceNr: make([]uint8, 1)},
		Entities: []uac.Entity{
			&uac.InputTerminal{BTerminalID: 1, WTerminalType: uac.TerminalUSBStreaming, BNrChannels: 2, WChannelConfig: 0x0003},
			&uac.FeatureUnit{BUnitID: 2, BSourceID: 1, BmaControls: stereoControls()},
			&uac.OutputTerminal{BTerminalID: 3, WTerminalType: uac.TerminalOutSpeaker, BSourceID: 2},
		},
		Streams: []uac.StreamInterface{streamInterface(0x01)},
	}
}

// headsetSet is a bidirectional topology: capture chain 1-2-3 feeding the
// host via IN endpoint 0x81, playback chain 4-5-6 fed by OUT endpoint
// 0x02.
func headsetSet() *uac.DescriptorSet {
	capture := streamInterface(0x81)
	capture.General.BTerminalLink = 3
	playback := streamInterface(0x02)
	playback.General.BTerminalLink = 4
	return &uac.DescriptorSet{
		ACInterface: usb.InterfaceDescriptor{
			BInterfaceClass:    uac.ClassAudio,
			BInterfaceSubClass: uac.SubclassAudioControl,
		},
		Header: uac.ACHeader{BcdADC: 0x0100, BaInterfaceNr: make([]uint8, 2)},
		Entities: []uac.Entity{
			&uac.InputTerminal{BTerminalID: 1, WTerminalType: uac.TerminalIOHeadset, BNrChannels: 2, WChannelConfig: 0x0003},
			&uac.FeatureUnit{BUnitID: 2, BSourceID: 1, BmaControls: stereoControls()},
			&uac.OutputTerminal{BTerminalID: 3, WTerminalType: uac.TerminalUSBStreaming, BSourceID: 2},
			&uac.InputTerminal{BTerminalID: 4, WTerminalType: uac.TerminalUSBStreaming, BNrChannels: 2, WChannelConfig: 0x0003},
			&uac.FeatureUnit{BUnitID: 5, BSourceID: 4, BmaControls: stereoControls()},
			&uac.OutputTerminal{BTerminalID: 6, WTerminalType: uac.TerminalIOHeadset, BSourceID: 5},
		},
		Streams: []uac.StreamInterface{capture, playback},
	}
}

// classSetup builds the SETUP packet fields of a class-specific interface
// request addressed to an entity.
func classSetup(toHost bool, bRequest, entityID, iface, selector, channel uint8, wLength uint16) usb.Setup {
	bm := uint8(usb.RequestTypeClass | usb.RequestRecipientInterface)
	if toHost {
		bm |= usb.RequestDirToHost
	}
	return usb.Setup{
		BmRequestType: bm,
		BRequest:      bRequest,
		WValue:        uint16(selector)<<8 | uint16(channel),
		WIndex:        uint16(entityID)<<8 | uint16(iface),
		WLength:       wLength,
	}
}
