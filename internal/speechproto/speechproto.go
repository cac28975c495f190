// Package speechproto defines the request/response value types
// exchanged with the remote speech-understanding service. The wire
// codec itself lives in internal/transport; this package only carries
// the normative field set.
package speechproto

import "github.com/rokid/voiceclient/internal/options"

// DefaultLang and DefaultCodec are used when a SessionRequest leaves
// Lang or Codec empty; framework options are not consulted for them.
const (
	DefaultLang  = "zh"
	DefaultCodec = "pcm"
)

// RequestKind enumerates the request types carried on the wire.
type RequestKind int

const (
	RequestText RequestKind = iota
	RequestVoiceStart
	RequestVoiceData
	RequestVoiceEnd
	RequestCancelled
)

// SessionRequest is a single item on the wire for one session id.
// Cancelled requests carry no payload; they exist so the sender can
// tell the controller a session was abandoned before any protocol
// message was sent. Options carries the framework options bag; only a
// VOICE_START request also carries a skill options bag, forwarded to
// the server opaquely.
type SessionRequest struct {
	ID           int64
	Kind         RequestKind
	Payload      []byte
	Options      *options.Bag
	SkillOptions *options.Bag
	Lang         string
	Codec        string
	VT           string
}

// WireMessage is what actually crosses internal/transport — a
// SessionRequest with defaults resolved.
type WireMessage struct {
	ID               int64  `json:"id"`
	Type             string `json:"type"`
	ASR              string `json:"asr,omitempty"`
	Voice            []byte `json:"voice,omitempty"`
	Lang             string `json:"lang"`
	Codec            string `json:"codec"`
	VT               string `json:"vt"`
	FrameworkOptions string `json:"framework_options,omitempty"`
	SkillOptions     string `json:"skill_options,omitempty"`
}

func requestKindWireType(k RequestKind) string {
	switch k {
	case RequestText:
		return "TEXT"
	case RequestVoiceStart:
		return "START"
	case RequestVoiceData:
		return "VOICE"
	case RequestVoiceEnd:
		return "END"
	case RequestCancelled:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// ToWireMessage builds the outbound message for req, resolving lang/codec
// defaults and serializing req.Options into framework_options when this
// is the first message of the session (START or TEXT).
func ToWireMessage(req SessionRequest) (WireMessage, error) {
	lang := req.Lang
	if lang == "" {
		lang = DefaultLang
	}
	codec := req.Codec
	if codec == "" {
		codec = DefaultCodec
	}

	wm := WireMessage{
		ID:    req.ID,
		Type:  requestKindWireType(req.Kind),
		Lang:  lang,
		Codec: codec,
		VT:    req.VT,
	}

	switch req.Kind {
	case RequestText:
		wm.ASR = string(req.Payload)
		if req.Options != nil {
			s, err := req.Options.ToJSONString()
			if err != nil {
				return WireMessage{}, err
			}
			wm.FrameworkOptions = s
		}
	case RequestVoiceStart:
		if req.Options != nil {
			s, err := req.Options.ToJSONString()
			if err != nil {
				return WireMessage{}, err
			}
			wm.FrameworkOptions = s
		}
		if req.SkillOptions != nil {
			s, err := req.SkillOptions.ToJSONString()
			if err != nil {
				return WireMessage{}, err
			}
			wm.SkillOptions = s
		}
	case RequestVoiceData:
		wm.Voice = req.Payload
	case RequestVoiceEnd:
		// no payload
	}
	return wm, nil
}

// ResultCode is the server's per-response status.
type ResultCode int

const (
	Success                 ResultCode = 0
	Unauthenticated         ResultCode = 2
	ConnectionExceeded      ResultCode = 3
	ServerResourceExhausted ResultCode = 4
	ServerBusy              ResultCode = 5
	ServerInternal          ResultCode = 6
	ServiceUnavailable      ResultCode = 101
	SDKClosed               ResultCode = 102
)

// ResponseBody holds the decoded payload fields common to all
// non-terminal-error responses.
type ResponseBody struct {
	ASR    string
	NLP    string
	Action string
	Extra  string
}

// SessionResponse is a single decoded message from the server.
type SessionResponse struct {
	ID         int64
	ResultCode ResultCode
	Finish     bool
	Body       ResponseBody
}
