package usb

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VAC/device/audio"
	"github.com/Alia5/VAC/uac"
	usbdesc "github.com/Alia5/VAC/usb"
	"github.com/Alia5/VAC/usbip"
)

func testServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ServerConfig{Addr: ":0"}, logger, nil)
}

func testDevice(t *testing.T) *audio.Audio {
	t.Helper()
	dev, err := audio.New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		audio.Headset("headset0", audio.Options{}, audio.Options{}))
	assert.NoError(t, err)
	return dev
}

// setupBytes packs the 8-byte SETUP stage of a control URB.
func setupBytes(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) []byte {
	b := make([]byte, 8)
	b[0] = bmRequestType
	b[1] = bRequest
	binary.LittleEndian.PutUint16(b[2:4], wValue)
	binary.LittleEndian.PutUint16(b[4:6], wIndex)
	binary.LittleEndian.PutUint16(b[6:8], wLength)
	return b
}

func TestProcessSubmitGetDescriptor(t *testing.T) {
	s := testServer()
	dev := testDevice(t)

	t.Run("device descriptor", func(t *testing.T) {
		setup := setupBytes(usbReqTypeStandardFromDevice, usbReqGetDescriptor, usbdesc.DeviceDescType<<8, 0, 18)
		data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
		assert.Equal(t, int32(0), status)
		assert.Len(t, data, usbdesc.DeviceDescLen)
		assert.Equal(t, uint16(0x2FE3), binary.LittleEndian.Uint16(data[8:10]))
	})

	t.Run("config descriptor clamped to wLength", func(t *testing.T) {
		setup := setupBytes(usbReqTypeStandardFromDevice, usbReqGetDescriptor, usbdesc.ConfigDescType<<8, 0, 9)
		data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
		assert.Equal(t, int32(0), status)
		assert.Len(t, data, 9)
		full := dev.GetDescriptor().ConfigBytes()
		assert.Equal(t, uint16(len(full)), binary.LittleEndian.Uint16(data[2:4]), "header still reports the full length")
	})

	t.Run("full config descriptor", func(t *testing.T) {
		setup := setupBytes(usbReqTypeStandardFromDevice, usbReqGetDescriptor, usbdesc.ConfigDescType<<8, 0, 0xFFFF)
		data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
		assert.Equal(t, int32(0), status)
		assert.Equal(t, dev.GetDescriptor().ConfigBytes(), data)
	})

	t.Run("string descriptor", func(t *testing.T) {
		setup := setupBytes(usbReqTypeStandardFromDevice, usbReqGetDescriptor, usbdesc.StringDescType<<8|1, 0, 0xFF)
		data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
		assert.Equal(t, int32(0), status)
		assert.Equal(t, usbdesc.EncodeStringDescriptor("VAC"), data)
	})

	t.Run("unknown string index returns nothing", func(t *testing.T) {
		setup := setupBytes(usbReqTypeStandardFromDevice, usbReqGetDescriptor, usbdesc.StringDescType<<8|9, 0, 0xFF)
		data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
		assert.Equal(t, int32(0), status)
		assert.Nil(t, data)
	})
}

func TestProcessSubmitInterfaceRequests(t *testing.T) {
	s := testServer()
	dev := testDevice(t)
	fn := dev.Function("headset0")

	// Capture interface 1 starts on alternate setting 0.
	setup := setupBytes(usbReqTypeStandardFromInterface, usbReqGetInterface, 0, 1, 1)
	data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
	assert.Equal(t, int32(0), status)
	assert.Equal(t, []byte{0}, data)

	setup = setupBytes(usbReqTypeStandardToInterface, usbReqSetInterface, 1, 1, 0)
	_, status = s.processSubmit(dev, 0, usbip.DirOut, setup, nil)
	assert.Equal(t, int32(0), status)
	assert.True(t, fn.TxEnabled())

	setup = setupBytes(usbReqTypeStandardFromInterface, usbReqGetInterface, 0, 1, 1)
	data, status = s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
	assert.Equal(t, int32(0), status)
	assert.Equal(t, []byte{1}, data)
}

func TestProcessSubmitEnumerationPlumbing(t *testing.T) {
	s := testServer()
	dev := testDevice(t)

	setup := setupBytes(usbReqTypeStandardToDevice, usbReqSetAddress, 3, 0, 0)
	_, status := s.processSubmit(dev, 0, usbip.DirOut, setup, nil)
	assert.Equal(t, int32(0), status)

	setup = setupBytes(usbReqTypeStandardToDevice, usbReqSetConfiguration, 1, 0, 0)
	_, status = s.processSubmit(dev, 0, usbip.DirOut, setup, nil)
	assert.Equal(t, int32(0), status)

	setup = setupBytes(usbReqTypeStandardFromDevice, usbReqGetConfiguration, 0, 0, 1)
	data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
	assert.Equal(t, int32(0), status)
	assert.Equal(t, []byte{usbConfigValueDefault}, data)

	// A truncated SETUP stage stalls.
	_, status = s.processSubmit(dev, 0, usbip.DirOut, []byte{0, 0, 0}, nil)
	assert.Equal(t, int32(errPipe), status)
}

func TestProcessSubmitClassRequests(t *testing.T) {
	s := testServer()
	dev := testDevice(t)
	fn := dev.Function("headset0")

	// Mute the master channel of the capture feature unit (entity 2,
	// interface 0).
	setup := setupBytes(usbdesc.RequestTypeClass|usbdesc.RequestRecipientInterface,
		uac.SetCur, uint16(uac.MuteControl)<<8, 2<<8, 1)
	_, status := s.processSubmit(dev, 0, usbip.DirOut, setup, []byte{1})
	assert.Equal(t, int32(0), status)
	assert.True(t, fn.Mute(0, 0))

	setup = setupBytes(usbdesc.RequestDirToHost|usbdesc.RequestTypeClass|usbdesc.RequestRecipientInterface,
		uac.GetCur, uint16(uac.MuteControl)<<8, 2<<8, 1)
	data, status := s.processSubmit(dev, 0, usbip.DirIn, setup, nil)
	assert.Equal(t, int32(0), status)
	assert.Equal(t, []byte{1}, data)

	// An unavailable selector is answered with a stall.
	setup = setupBytes(usbdesc.RequestTypeClass|usbdesc.RequestRecipientInterface,
		uac.SetCur, uint16(uac.VolumeControl)<<8, 2<<8, 2)
	_, status = s.processSubmit(dev, 0, usbip.DirOut, setup, []byte{0, 0})
	assert.Equal(t, int32(errPipe), status)

	// Vendor requests have no handler on audio devices.
	setup = setupBytes(usbdesc.RequestTypeVendor, 0x01, 0, 0, 0)
	_, status = s.processSubmit(dev, 0, usbip.DirOut, setup, nil)
	assert.Equal(t, int32(errPipe), status)
}

func TestProcessSubmitEndpointTraffic(t *testing.T) {
	s := testServer()
	dev := testDevice(t)
	fn := dev.Function("headset0")

	var got []byte
	fn.Register(uac.Ops{DataReceived: func(_ *uac.Function, buf *uac.Buffer, size int) {
		got = append([]byte(nil), buf.Bytes()[:size]...)
		buf.Release()
	}})
	dev.SetAltSetting(2, 1) // playback interface carries the OUT endpoint

	payload := []byte{9, 8, 7}
	data, status := s.processSubmit(dev, 2, usbip.DirOut, nil, payload)
	assert.Equal(t, int32(0), status)
	assert.Nil(t, data)
	assert.Equal(t, payload, got)
}

func TestExportedDevice(t *testing.T) {
	dev := testDevice(t)
	meta := usbip.ExportMeta{}
	exp := exportedDevice(meta, dev.GetDescriptor())

	// One AC plus two streaming interfaces; alternate setting 1
	// entries are not repeated.
	assert.Equal(t, uint8(3), exp.BNumInterfaces)
	assert.Len(t, exp.Interfaces, 3)
	for _, iface := range exp.Interfaces {
		assert.Equal(t, uint8(uac.ClassAudio), iface.Class)
	}
	assert.Equal(t, exp.Interfaces[0].SubClass, uint8(uac.SubclassAudioControl))
	assert.Equal(t, exp.Interfaces[1].SubClass, uint8(uac.SubclassAudioStreaming))
	assert.Equal(t, uint16(0x2FE3), exp.IDVendor)
	assert.Equal(t, uint32(2), exp.Speed)
}
