// Package uac implements the device-side function logic of the USB Audio
// Class 1.0 specification for isochronous audio endpoints.
//
// The package models one audio function's topology (terminals, feature
// units, streaming interfaces), services the class-specific control
// requests the host addresses to it, tracks which alternate streaming
// interface the host selected, and moves audio packet buffers between the
// application observer and the endpoint transport.
//
// Numeric tables follow Device Class Definition for Audio Devices 1.0
// (audio10.pdf) and the terminal type document (termt10.pdf).
package uac

// Audio device/interface class codes.
const (
	ClassAudio = 0x01

	// Audio interface subclass codes, audio10.pdf Table A-2.
	SubclassUndefined      = 0x00
	SubclassAudioControl   = 0x01
	SubclassAudioStreaming = 0x02
	SubclassMIDIStreaming  = 0x03
)

// EntitySubtype tags a class-specific AC interface descriptor,
// audio10.pdf Table A-5.
type EntitySubtype uint8

const (
	SubtypeUndefined      EntitySubtype = 0x00
	SubtypeHeader         EntitySubtype = 0x01
	SubtypeInputTerminal  EntitySubtype = 0x02
	SubtypeOutputTerminal EntitySubtype = 0x03
	SubtypeMixerUnit      EntitySubtype = 0x04
	SubtypeSelectorUnit   EntitySubtype = 0x05
	SubtypeFeatureUnit    EntitySubtype = 0x06
	SubtypeProcessingUnit EntitySubtype = 0x07
	SubtypeExtensionUnit  EntitySubtype = 0x08
)

// Class-specific AS interface descriptor subtypes, audio10.pdf Table A-6.
const (
	SubtypeASGeneral  = 0x01
	SubtypeFormatType = 0x02
)

// Class-specific request codes, audio10.pdf Table A-9.
const (
	RequestCodeUndefined = 0x00
	SetCur               = 0x01
	GetCur               = 0x81
	SetMin               = 0x02
	GetMin               = 0x82
	SetMax               = 0x03
	GetMax               = 0x83
	SetRes               = 0x04
	GetRes               = 0x84
	SetMem               = 0x05
	GetMem               = 0x85
	GetStat              = 0xFF
)

// ControlSelector identifies a feature unit control,
// audio10.pdf Table A-11.
type ControlSelector uint8

const (
	ControlUndefined        ControlSelector = 0x00
	MuteControl             ControlSelector = 0x01
	VolumeControl           ControlSelector = 0x02
	BassControl             ControlSelector = 0x03
	MidControl              ControlSelector = 0x04
	TrebleControl           ControlSelector = 0x05
	GraphicEqualizerControl ControlSelector = 0x06
	AutomaticGainControl    ControlSelector = 0x07
	DelayControl            ControlSelector = 0x08
	BassBoostControl        ControlSelector = 0x09
	LoudnessControl         ControlSelector = 0x0A
)

// ChannelAll is the channel-number wildcard meaning "all channels of
// this feature unit".
const ChannelAll = 0xFF

// Terminal types, termt10.pdf Table 2-1 through Table 2-4.
const (
	TerminalUSBUndefined  = 0x0100
	TerminalUSBStreaming  = 0x0101
	TerminalUSBVendorSpec = 0x01FF

	TerminalInUndefined   = 0x0200
	TerminalInMicrophone  = 0x0201
	TerminalInDesktopMic  = 0x0202
	TerminalInPersonalMic = 0x0203
	TerminalInOmniDirMic  = 0x0204
	TerminalInMicArray    = 0x0205

	TerminalOutUndefined      = 0x0300
	TerminalOutSpeaker        = 0x0301
	TerminalOutHeadphones     = 0x0302
	TerminalOutHeadAudio      = 0x0303
	TerminalOutDesktopSpeaker = 0x0304
	TerminalOutRoomSpeaker    = 0x0305
	TerminalOutCommSpeaker    = 0x0306
	TerminalOutLFESpeaker     = 0x0307

	TerminalIOUndefined = 0x0400
	TerminalIOHandset   = 0x0401
	TerminalIOHeadset   = 0x0402
)

// Direction of one streaming path, viewed from the host: In feeds the
// host (device-to-host), Out feeds the device.
type Direction uint8

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Features is the control-availability bitmap of a feature unit,
// audio10.pdf Table 4-7 (bmaControls bit layout).
type Features uint16

const (
	FeatureMute             Features = 1 << 0
	FeatureVolume           Features = 1 << 1
	FeatureBass             Features = 1 << 2
	FeatureMid              Features = 1 << 3
	FeatureTreble           Features = 1 << 4
	FeatureGraphicEqualizer Features = 1 << 5
	FeatureAutomaticGain    Features = 1 << 6
	FeatureDelay            Features = 1 << 7
	FeatureBassBoost        Features = 1 << 8
	FeatureLoudness         Features = 1 << 9

	// FeatureToneControl groups bass, mid and treble the way the
	// original class driver exposes them.
	FeatureToneControl = FeatureBass | FeatureMid | FeatureTreble
)

// Spatial channel location bits, audio10.pdf Table 4-3 (wChannelConfig).
type ChannelConfig uint16

const (
	ChannelLeft          ChannelConfig = 1 << 0
	ChannelRight         ChannelConfig = 1 << 1
	ChannelCenter        ChannelConfig = 1 << 2
	ChannelLFE           ChannelConfig = 1 << 3
	ChannelLeftSurround  ChannelConfig = 1 << 4
	ChannelRightSurround ChannelConfig = 1 << 5
	ChannelLeftCenter    ChannelConfig = 1 << 6
	ChannelRightCenter   ChannelConfig = 1 << 7
	ChannelSurround      ChannelConfig = 1 << 8
	ChannelSideLeft      ChannelConfig = 1 << 9
	ChannelSideRight     ChannelConfig = 1 << 10
	ChannelTop           ChannelConfig = 1 << 11
)

// Count returns the number of logical channels in the bitmap.
func (c ChannelConfig) Count() int {
	n := 0
	for v := uint16(c); v != 0; v &= v - 1 {
		n++
	}
	return n
}
