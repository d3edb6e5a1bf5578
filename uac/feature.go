package uac

import (
	"fmt"

	"github.com/Alia5/VAC/usb"
)

// featureUnit locates a feature unit by identifier. A function owns at
// most two feature units (one per streaming direction); the lookup checks
// the first and falls back to the second. An identifier matching neither
// slot is a validation error - topologies with more than two feature
// units are unsupported.
func (f *Function) featureUnit(id uint8) (*FeatureUnit, int, error) {
	fus := f.set.FeatureUnits()
	if fus[0].BUnitID == id {
		return fus[0], 0, nil
	}
	if len(fus) == 2 && fus[1].BUnitID == id {
		return fus[1], 1, nil
	}
	return nil, 0, fmt.Errorf("no feature unit %d: %w", id, ErrStall)
}

// handleFeatureUnit validates and executes a class-specific request
// addressed to one of the function's feature units.
//
// The feature unit identifier arrives in the high byte of wIndex, the
// control selector in the high byte of wValue and the channel number in
// its low byte (0xFF addresses every channel). The requested selector
// must be present in the unit's control-availability bitmap and an
// explicit channel must exist on the unit, otherwise the request is
// answered with a stall.
//
// Only mute is acted on. SET_CUR copies one payload byte per addressed
// channel into the channel's mute flag and notifies the feature observer;
// GET_CUR collects the current flags into the reply. The other selectors
// the bitmap may allow (volume, tone, AGC, delay, ...) are accepted
// without any state change, pending future extension.
func (f *Function) handleFeatureUnit(setup usb.Setup, data []byte) ([]byte, error) {
	fuID := uint8(setup.WIndex >> 8)
	fu, slot, err := f.featureUnit(fuID)
	if err != nil {
		return nil, err
	}

	dir := f.set.DirectionOf(fu)
	chNum := uint8(setup.WValue)
	cs := ControlSelector(setup.WValue >> 8)

	f.logger.Debug("feature unit request",
		"unit", fuID, "selector", uint8(cs), "channel", chNum, "request", fmt.Sprintf("%#02x", setup.BRequest))

	if !fu.Supports(cs) {
		return nil, fmt.Errorf("control selector %#02x not available on unit %d: %w", uint8(cs), fuID, ErrStall)
	}
	if chNum != ChannelAll && int(chNum) >= fu.ChannelCount() {
		return nil, fmt.Errorf("channel %d out of range on unit %d: %w", chNum, fuID, ErrStall)
	}

	chStart, chEnd := int(chNum), int(chNum)+1
	if chNum == ChannelAll {
		chStart, chEnd = 0, fu.ChannelCount()
	}

	// The payload carries one byte per addressed channel. Checked up
	// front so a short request leaves every channel untouched.
	if cs == MuteControl && setup.BRequest == SetCur && len(data) < chEnd-chStart {
		return nil, fmt.Errorf("mute payload of %d bytes for %d channels: %w", len(data), chEnd-chStart, ErrStall)
	}

	// Reply scratch space is owned by this request, never shared.
	resp := make([]byte, 0, chEnd-chStart)
	offset := 0

	for ch := chStart; ch < chEnd; ch++ {
		switch cs {
		case MuteControl:
			switch setup.BRequest {
			case SetCur:
				val := data[offset] != 0
				f.controls[slot][ch].Mute = val
				if f.ops.FeatureUpdate != nil {
					f.ops.FeatureUpdate(f, FeatureEvent{
						Dir:      dir,
						Selector: cs,
						Channel:  uint8(ch),
						Mute:     val,
					})
				}
			case GetCur:
				v := byte(0)
				if f.controls[slot][ch].Mute {
					v = 1
				}
				resp = append(resp, v)
			default:
				return nil, fmt.Errorf("request code %#02x unsupported for mute: %w", setup.BRequest, ErrStall)
			}
			offset++
		default:
			// Volume, bass, mid, treble, graphic equalizer, AGC,
			// delay, bass boost and loudness are recognized but
			// not yet backed by state.
		}
	}

	if setup.ToHost() {
		return resp, nil
	}
	return nil, nil
}

// Mute reports the current mute flag of one channel of the feature unit
// in the given direction slot.
func (f *Function) Mute(slot int, channel uint8) bool {
	if slot < 0 || slot >= len(f.controls) || int(channel) >= len(f.controls[slot]) {
		return false
	}
	return f.controls[slot][channel].Mute
}
