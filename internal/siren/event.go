// Package siren defines the event contract delivered by the local
// wake-word/VAD front-end. The front-end is an external
// collaborator; this package only models the data it hands over.
package siren

// Kind identifies the category of a front-end event.
type Kind int

const (
	KindWakePre Kind = iota
	KindWakeCmd
	KindVADStart
	KindVADData
	KindVADEnd
	KindVADCancel
	KindVoicePrint
	KindSleep
)

func (k Kind) String() string {
	switch k {
	case KindWakePre:
		return "WAKE_PRE"
	case KindWakeCmd:
		return "WAKE_CMD"
	case KindVADStart:
		return "VAD_START"
	case KindVADData:
		return "VAD_DATA"
	case KindVADEnd:
		return "VAD_END"
	case KindVADCancel:
		return "VAD_CANCEL"
	case KindVoicePrint:
		return "VOICE_PRINT"
	case KindSleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Flag bits carried on an Event.
type Flag uint32

const (
	FlagHasVoice Flag = 1 << iota
	FlagHasVT
)

// Has reports whether f is set.
func (flags Flag) Has(f Flag) bool { return flags&f != 0 }

// VoiceTrigger carries the wake-trigger window stashed by a VOICE_PRINT
// event for consumption by the next VAD_START.
type VoiceTrigger struct {
	Start  int64
	End    int64
	Energy float32
	Data   []byte
}

// Event is a single front-end event. Buff is always an owned copy, even
// when empty — callers must never retain a front-end-supplied slice
// past this constructor.
type Event struct {
	Kind   Kind
	Flag   Flag
	SL     int32
	Length int32
	Buff   []byte
	VT     VoiceTrigger
}

// NewEvent copies buff and vt.Data so the returned Event owns all of its
// memory independent of the front-end's buffer lifetime.
func NewEvent(kind Kind, flag Flag, sl int32, buff []byte, vt VoiceTrigger) Event {
	ownedBuff := make([]byte, len(buff))
	copy(ownedBuff, buff)

	ownedVT := vt
	ownedVT.Data = make([]byte, len(vt.Data))
	copy(ownedVT.Data, vt.Data)

	return Event{
		Kind:   kind,
		Flag:   flag,
		SL:     sl,
		Length: int32(len(ownedBuff)),
		Buff:   ownedBuff,
		VT:     ownedVT,
	}
}
