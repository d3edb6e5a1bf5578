package uac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VAC/uac"
	"github.com/Alia5/VAC/usb"
)

func TestFixupMirrorsControlBitmaps(t *testing.T) {
	set := headsetSet()
	set.Fixup(0)

	for _, fu := range set.FeatureUnits() {
		for i, c := range fu.BmaControls {
			assert.Equal(t, fu.BmaControls[0], c, "channel %d bitmap should mirror the master", i)
		}
	}
}

func TestFixupRenumbersInterfaces(t *testing.T) {
	cases := []struct {
		name string
		set  *uac.DescriptorSet
		base uint8
	}{
		{name: "single stream from zero", set: speakerSet(), base: 0},
		{name: "single stream offset", set: speakerSet(), base: 3},
		{name: "two streams offset", set: headsetSet(), base: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.set.Fixup(tc.base)

			assert.Equal(t, tc.base, tc.set.ACInterface.BInterfaceNumber)
			for i := range tc.set.Streams {
				want := tc.base + 1 + uint8(i)
				assert.Equal(t, want, tc.set.Streams[i].Alt0.BInterfaceNumber)
				assert.Equal(t, want, tc.set.Streams[i].Alt1.BInterfaceNumber)
				assert.Equal(t, want, tc.set.Header.BaInterfaceNr[i])
			}
		})
	}
}

func TestResolveEntity(t *testing.T) {
	set := headsetSet()
	set.Fixup(0)

	cases := []struct {
		id      uint8
		subtype uac.EntitySubtype
		ok      bool
	}{
		{1, uac.SubtypeInputTerminal, true},
		{2, uac.SubtypeFeatureUnit, true},
		{3, uac.SubtypeOutputTerminal, true},
		{5, uac.SubtypeFeatureUnit, true},
		{6, uac.SubtypeOutputTerminal, true},
		{7, uac.SubtypeUndefined, false},
		{0, uac.SubtypeUndefined, false},
	}
	for _, tc := range cases {
		subtype, ok := set.ResolveEntity(tc.id)
		assert.Equal(t, tc.ok, ok, "entity %d", tc.id)
		assert.Equal(t, tc.subtype, subtype, "entity %d", tc.id)
	}
}

func TestDirectionOf(t *testing.T) {
	set := headsetSet()
	set.Fixup(0)
	fus := set.FeatureUnits()

	// Unit 2 feeds the USB streaming output terminal, unit 5 the
	// headset speaker.
	assert.Equal(t, uac.In, set.DirectionOf(fus[0]))
	assert.Equal(t, uac.Out, set.DirectionOf(fus[1]))
}

func TestInterfacesSerialization(t *testing.T) {
	set := speakerSet()
	set.Fixup(0)

	ifaces := set.Interfaces()
	// AC interface, then alt 0 and alt 1 of the streaming interface.
	assert.Len(t, ifaces, 3)
	assert.NotEmpty(t, ifaces[0].ClassData)
	assert.Empty(t, ifaces[1].ClassData)
	assert.Empty(t, ifaces[1].Endpoints)
	assert.Len(t, ifaces[2].Endpoints, 1)

	// The class payload of the AC interface must be a well-formed
	// descriptor sequence whose header declares its full length.
	blob := ifaces[0].ClassData
	var types []uint8
	total := 0
	usb.WalkDescriptors(blob, func(hdr usb.DescHeader, body []byte) bool {
		assert.Equal(t, uint8(usb.CSInterfaceDescType), hdr.Type)
		assert.Len(t, body, int(hdr.Length))
		types = append(types, body[2])
		total += int(hdr.Length)
		return true
	})
	assert.Equal(t, len(blob), total, "walk should consume the blob exactly")
	assert.Equal(t, []uint8{
		uint8(uac.SubtypeHeader),
		uint8(uac.SubtypeInputTerminal),
		uint8(uac.SubtypeFeatureUnit),
		uint8(uac.SubtypeOutputTerminal),
	}, types)

	// wTotalLength sits at offset 5 of the header descriptor.
	wTotal := int(blob[5]) | int(blob[6])<<8
	assert.Equal(t, len(blob), wTotal)

	// Feature unit length tracks the channel count: 7 fixed bytes
	// plus two per bitmap.
	usb.WalkDescriptors(blob, func(hdr usb.DescHeader, body []byte) bool {
		if body[2] == uint8(uac.SubtypeFeatureUnit) {
			assert.Equal(t, 7+2*3, int(hdr.Length))
		}
		return true
	})
}

func TestOwnsInterfaceAndStreamLookup(t *testing.T) {
	set := headsetSet()
	set.Fixup(2)

	assert.True(t, set.OwnsInterface(2), "AC interface")
	assert.True(t, set.OwnsInterface(3), "first stream")
	assert.True(t, set.OwnsInterface(4), "second stream")
	assert.False(t, set.OwnsInterface(5))
	assert.False(t, set.OwnsInterface(0))

	assert.NotNil(t, set.StreamByInterface(3))
	assert.NotNil(t, set.StreamByInterface(4))
	assert.Nil(t, set.StreamByInterface(2), "AC interface is not a stream")
	assert.Nil(t, set.StreamByInterface(9))
}
