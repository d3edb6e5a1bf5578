package uac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VAC/uac"
)

func newSpeakerRegistry(t *testing.T) (*uac.Registry, *uac.Function) {
	t.Helper()
	set := speakerSet()
	set.Fixup(0)
	fn, err := uac.NewFunction("speaker0", set, newFakeTransport(), nil)
	assert.NoError(t, err)
	reg := uac.NewRegistry(nil)
	assert.NoError(t, reg.Add(fn))
	return reg, fn
}

func TestMuteSetAndGet(t *testing.T) {
	reg, fn := newSpeakerRegistry(t)

	// Mute the left channel (channel 1) of feature unit 2 via the AC
	// interface 0.
	set := classSetup(false, uac.SetCur, 2, 0, uint8(uac.MuteControl), 1, 1)
	resp, err := reg.HandleClassRequest(set, []byte{1})
	assert.NoError(t, err)
	assert.Nil(t, resp)
	assert.True(t, fn.Mute(0, 1))
	assert.False(t, fn.Mute(0, 0))
	assert.False(t, fn.Mute(0, 2))

	get := classSetup(true, uac.GetCur, 2, 0, uint8(uac.MuteControl), 1, 1)
	resp, err = reg.HandleClassRequest(get, nil)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1}, resp)

	// Unmute again.
	resp, err = reg.HandleClassRequest(set, []byte{0})
	assert.NoError(t, err)
	assert.Nil(t, resp)
	assert.False(t, fn.Mute(0, 1))
}

func TestMuteChannelWildcard(t *testing.T) {
	reg, fn := newSpeakerRegistry(t)

	// 0xFF addresses master, left and right; one payload byte per
	// channel.
	set := classSetup(false, uac.SetCur, 2, 0, uint8(uac.MuteControl), uac.ChannelAll, 3)
	_, err := reg.HandleClassRequest(set, []byte{1, 0, 1})
	assert.NoError(t, err)
	assert.True(t, fn.Mute(0, 0))
	assert.False(t, fn.Mute(0, 1))
	assert.True(t, fn.Mute(0, 2))

	get := classSetup(true, uac.GetCur, 2, 0, uint8(uac.MuteControl), uac.ChannelAll, 3)
	resp, err := reg.HandleClassRequest(get, nil)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 1}, resp)
}

func TestMutePayloadTooShort(t *testing.T) {
	reg, fn := newSpeakerRegistry(t)

	var events []uac.FeatureEvent
	fn.Register(uac.Ops{FeatureUpdate: func(_ *uac.Function, evt uac.FeatureEvent) {
		events = append(events, evt)
	}})

	// Two bytes for three channels: the request must stall without
	// touching the channels the payload does cover.
	set := classSetup(false, uac.SetCur, 2, 0, uint8(uac.MuteControl), uac.ChannelAll, 3)
	_, err := reg.HandleClassRequest(set, []byte{1, 1})
	assert.ErrorIs(t, err, uac.ErrStall)
	for ch := uint8(0); ch < 3; ch++ {
		assert.False(t, fn.Mute(0, ch))
	}
	assert.Empty(t, events)
}

func TestFeatureRequestValidation(t *testing.T) {
	cases := []struct {
		name     string
		toHost   bool
		bRequest uint8
		entity   uint8
		selector uint8
		channel  uint8
	}{
		{name: "selector not in bitmap", bRequest: uac.SetCur, entity: 2, selector: uint8(uac.VolumeControl), channel: 0},
		{name: "channel out of range", bRequest: uac.SetCur, entity: 2, selector: uint8(uac.MuteControl), channel: 3},
		{name: "request code unsupported", bRequest: uac.SetMin, entity: 2, selector: uint8(uac.MuteControl), channel: 0},
		{name: "get stat unsupported", toHost: true, bRequest: uac.GetStat, entity: 2, selector: uint8(uac.MuteControl), channel: 0},
		{name: "entity is not a feature unit", bRequest: uac.SetCur, entity: 1, selector: uint8(uac.MuteControl), channel: 0},
		{name: "entity unknown", bRequest: uac.SetCur, entity: 9, selector: uint8(uac.MuteControl), channel: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, fn := newSpeakerRegistry(t)
			setup := classSetup(tc.toHost, tc.bRequest, tc.entity, 0, tc.selector, tc.channel, 1)
			_, err := reg.HandleClassRequest(setup, []byte{1})
			assert.ErrorIs(t, err, uac.ErrStall)
			assert.False(t, fn.Mute(0, 0), "state must not change on a stalled request")
		})
	}
}

func TestFeatureUpdateObserver(t *testing.T) {
	reg, fn := newSpeakerRegistry(t)

	var events []uac.FeatureEvent
	fn.Register(uac.Ops{FeatureUpdate: func(_ *uac.Function, evt uac.FeatureEvent) {
		events = append(events, evt)
	}})

	set := classSetup(false, uac.SetCur, 2, 0, uint8(uac.MuteControl), uac.ChannelAll, 3)
	_, err := reg.HandleClassRequest(set, []byte{1, 1, 0})
	assert.NoError(t, err)

	assert.Len(t, events, 3)
	for i, evt := range events {
		assert.Equal(t, uac.MuteControl, evt.Selector)
		assert.Equal(t, uint8(i), evt.Channel)
		assert.Equal(t, uac.Out, evt.Dir, "speaker feature unit serves the playback path")
	}
	assert.True(t, events[0].Mute)
	assert.True(t, events[1].Mute)
	assert.False(t, events[2].Mute)

	// GET_CUR must not fire the observer.
	events = nil
	get := classSetup(true, uac.GetCur, 2, 0, uint8(uac.MuteControl), 0, 1)
	_, err = reg.HandleClassRequest(get, nil)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestHeadsetTwoFeatureUnits(t *testing.T) {
	set := headsetSet()
	set.Fixup(0)
	fn, err := uac.NewFunction("headset0", set, newFakeTransport(), nil)
	assert.NoError(t, err)
	reg := uac.NewRegistry(nil)
	assert.NoError(t, reg.Add(fn))

	// Unit 2 sits on the capture path, unit 5 on playback; their mute
	// states are independent.
	_, err = reg.HandleClassRequest(classSetup(false, uac.SetCur, 2, 0, uint8(uac.MuteControl), 0, 1), []byte{1})
	assert.NoError(t, err)
	assert.True(t, fn.Mute(0, 0))
	assert.False(t, fn.Mute(1, 0))

	_, err = reg.HandleClassRequest(classSetup(false, uac.SetCur, 5, 0, uint8(uac.MuteControl), 0, 1), []byte{1})
	assert.NoError(t, err)
	assert.True(t, fn.Mute(1, 0))
}
