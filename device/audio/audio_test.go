package audio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VAC/device/audio"
	"github.com/Alia5/VAC/uac"
	"github.com/Alia5/VAC/usb"
	"github.com/Alia5/VAC/usbip"
)

func TestNewAssignsNumbering(t *testing.T) {
	dev, err := audio.New(nil,
		audio.Headset("headset0", audio.Options{}, audio.Options{}),
		audio.Microphone("mic0", audio.Options{}),
	)
	assert.NoError(t, err)

	hs := dev.Function("headset0").Descriptors()
	assert.Equal(t, uint8(0), hs.ACInterface.BInterfaceNumber)
	assert.Equal(t, []uint8{1, 2}, hs.Header.BaInterfaceNr)
	assert.Equal(t, uint8(0x81), hs.Streams[0].Endpoint.BEndpointAddress, "capture endpoint keeps the IN direction bit")
	assert.Equal(t, uint8(0x02), hs.Streams[1].Endpoint.BEndpointAddress)

	mic := dev.Function("mic0").Descriptors()
	assert.Equal(t, uint8(3), mic.ACInterface.BInterfaceNumber)
	assert.Equal(t, []uint8{4}, mic.Header.BaInterfaceNr)
	assert.Equal(t, uint8(0x83), mic.Streams[0].Endpoint.BEndpointAddress)

	// The configuration blob covers five distinct interfaces.
	cfg := dev.GetDescriptor().ConfigBytes()
	assert.Equal(t, uint8(5), cfg[4])

	assert.Nil(t, dev.Function("nope"))
	assert.Len(t, dev.Functions(), 2)
}

func TestNewRejectsEmptyDevice(t *testing.T) {
	_, err := audio.New(nil)
	assert.Error(t, err)
}

func TestOutTransferReachesApplication(t *testing.T) {
	dev, err := audio.New(nil, audio.Headphones("hp0", audio.Options{}))
	assert.NoError(t, err)
	fn := dev.Function("hp0")

	var got []byte
	fn.Register(uac.Ops{DataReceived: func(_ *uac.Function, buf *uac.Buffer, size int) {
		got = append([]byte(nil), buf.Bytes()[:size]...)
		buf.Release()
	}})

	// Host enables the playback interface (number 1), then streams.
	dev.SetAltSetting(1, 1)
	assert.Equal(t, uint8(1), dev.AltSetting(1))

	pkt := make([]byte, 192)
	pkt[0] = 0xAA
	assert.Nil(t, dev.HandleTransfer(1, usbip.DirOut, pkt))
	assert.Equal(t, pkt, got)

	// Alternate setting 0 closes the stream again.
	dev.SetAltSetting(1, 0)
	got = nil
	dev.HandleTransfer(1, usbip.DirOut, pkt)
	assert.Nil(t, got)
}

func TestInPollDrainsSendQueue(t *testing.T) {
	dev, err := audio.New(nil, audio.Microphone("mic0", audio.Options{}))
	assert.NoError(t, err)
	fn := dev.Function("mic0")

	written := 0
	fn.Register(uac.Ops{DataWritten: func(_ *uac.Function, size int) { written += size }})

	dev.SetAltSetting(1, 1)

	buf := fn.AllocBuffer()
	copy(buf.Bytes(), []byte{1, 2, 3, 4})
	assert.NoError(t, fn.Send(buf, 4))

	payload := dev.HandleTransfer(1, usbip.DirIn, nil)
	assert.Equal(t, []byte{1, 2, 3, 4}, payload)
	assert.Equal(t, 4, written)

	// Queue drained; the next poll carries nothing.
	assert.Nil(t, dev.HandleTransfer(1, usbip.DirIn, nil))
}

func TestInPollTicksDataRequest(t *testing.T) {
	dev, err := audio.New(nil, audio.Microphone("mic0", audio.Options{}))
	assert.NoError(t, err)
	fn := dev.Function("mic0")

	// Produce synchronously from the frame tick, like a real capture
	// source would.
	fn.Register(uac.Ops{DataRequest: func(f *uac.Function) {
		buf := f.AllocBuffer()
		if buf == nil {
			return
		}
		buf.Bytes()[0] = 0x55
		if err := f.Send(buf, 1); err != nil {
			buf.Release()
		}
	}})

	assert.Nil(t, dev.HandleTransfer(1, usbip.DirIn, nil), "no tick while the interface is passive")

	dev.SetAltSetting(1, 1)
	payload := dev.HandleTransfer(1, usbip.DirIn, nil)
	assert.Equal(t, []byte{0x55}, payload)
}

func TestHandleControlMuteRoundTrip(t *testing.T) {
	dev, err := audio.New(nil, audio.Headphones("hp0", audio.Options{}))
	assert.NoError(t, err)
	fn := dev.Function("hp0")

	set := usb.Setup{
		BmRequestType: usb.RequestTypeClass | usb.RequestRecipientInterface,
		BRequest:      uac.SetCur,
		WValue:        uint16(uac.MuteControl) << 8,
		WIndex:        2 << 8, // feature unit 2, interface 0
		WLength:       1,
	}
	resp, handled, err := dev.HandleControl(set, []byte{1})
	assert.NoError(t, err)
	assert.True(t, handled)
	assert.Nil(t, resp)
	assert.True(t, fn.Mute(0, 0))

	get := set
	get.BmRequestType |= usb.RequestDirToHost
	get.BRequest = uac.GetCur
	resp, handled, err = dev.HandleControl(get, nil)
	assert.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []byte{1}, resp)
}

func TestHandleControlPassesOnStandardRequests(t *testing.T) {
	dev, err := audio.New(nil, audio.Headphones("hp0", audio.Options{}))
	assert.NoError(t, err)

	setup := usb.Setup{BmRequestType: usb.RequestDirToHost, BRequest: 0x06}
	_, handled, err := dev.HandleControl(setup, nil)
	assert.NoError(t, err)
	assert.False(t, handled)
}

func TestHandleControlStall(t *testing.T) {
	dev, err := audio.New(nil, audio.Headphones("hp0", audio.Options{}))
	assert.NoError(t, err)

	setup := usb.Setup{
		BmRequestType: usb.RequestTypeClass | usb.RequestRecipientInterface,
		BRequest:      uac.SetCur,
		WValue:        uint16(uac.VolumeControl) << 8,
		WIndex:        2 << 8,
		WLength:       2,
	}
	_, handled, err := dev.HandleControl(setup, []byte{0, 0})
	assert.True(t, handled)
	assert.ErrorIs(t, err, uac.ErrStall)
}

func TestHighResolutionPacketRoundTrip(t *testing.T) {
	hires := audio.Options{Resolution: 24}
	dev, err := audio.New(nil, audio.Headset("headset0", hires, hires))
	assert.NoError(t, err)
	fn := dev.Function("headset0")
	assert.Equal(t, uint16(288), fn.Descriptors().Streams[0].Endpoint.WMaxPacketSize)

	var got []byte
	fn.Register(uac.Ops{DataReceived: func(_ *uac.Function, buf *uac.Buffer, size int) {
		got = append([]byte(nil), buf.Bytes()[:size]...)
		buf.Release()
	}})

	// A full 288-byte frame arrives on the playback endpoint.
	dev.SetAltSetting(2, 1)
	pkt := make([]byte, 288)
	pkt[0], pkt[287] = 0xAA, 0x55
	dev.HandleTransfer(2, usbip.DirOut, pkt)
	assert.Equal(t, pkt, got)

	// And a full frame goes back out on the capture endpoint.
	dev.SetAltSetting(1, 1)
	buf := fn.AllocBuffer()
	assert.GreaterOrEqual(t, buf.Cap(), 288)
	copy(buf.Bytes(), pkt)
	assert.NoError(t, fn.Send(buf, 288))
	assert.Equal(t, pkt, dev.HandleTransfer(1, usbip.DirIn, nil))
}

func TestOptionsShapeDescriptors(t *testing.T) {
	spec := audio.Microphone("mic0", audio.Options{
		Channels:   uac.ChannelCenter,
		Resolution: 24,
	})
	st := spec.Set.Streams[0]
	assert.Equal(t, uint8(1), st.Format.BNrChannels)
	assert.Equal(t, uint8(3), st.Format.BSubframeSize)
	assert.Equal(t, uint8(24), st.Format.BBitResolution)
	assert.Equal(t, uint16(1*3*48), st.Endpoint.WMaxPacketSize)

	fus := spec.Set.FeatureUnits()
	assert.Len(t, fus, 1)
	assert.Equal(t, 2, fus[0].ChannelCount(), "master plus one spatial channel")

	def := audio.Headphones("hp0", audio.Options{})
	st = def.Set.Streams[0]
	assert.Equal(t, uint8(2), st.Format.BNrChannels)
	assert.Equal(t, uint16(2*2*48), st.Endpoint.WMaxPacketSize)
}
