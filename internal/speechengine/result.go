package speechengine

import (
	"github.com/rokid/voiceclient/internal/opctl"
	"github.com/rokid/voiceclient/internal/speechproto"
)

// ResultType is the poll result's type.
type ResultType int

const (
	ResultInter ResultType = iota
	ResultStart
	ResultEnd
	ResultCancelled
	ResultError
)

// IsTerminal reports whether t is one of END, CANCELLED, ERROR — the
// test Poll uses to decide whether to call RemoveFrontOp, and
// that voiceservice uses to clear per-session state.
func (t ResultType) IsTerminal() bool {
	return t == ResultEnd || t == ResultCancelled || t == ResultError
}

// resultCodeToErrorKind maps a server result code to an opctl.ErrorKind,
// since that is also what the OperationController's own error field
// already carries.
func resultCodeToErrorKind(code speechproto.ResultCode) opctl.ErrorKind {
	switch code {
	case speechproto.Success:
		return opctl.ErrorNone
	case speechproto.Unauthenticated:
		return opctl.ErrorUnauthenticated
	case speechproto.ConnectionExceeded:
		return opctl.ErrorConnectionExceeded
	case speechproto.ServerResourceExhausted:
		return opctl.ErrorServerResourceExhausted
	case speechproto.ServerBusy:
		return opctl.ErrorServerBusy
	case speechproto.ServerInternal:
		return opctl.ErrorServerInternal
	case speechproto.ServiceUnavailable:
		return opctl.ErrorServiceUnavailable
	case speechproto.SDKClosed:
		return opctl.ErrorSDKClosed
	default:
		return opctl.ErrorUnknown
	}
}

// PollResult is the unit emitted to Poll's caller.
type PollResult struct {
	ID     int64
	Type   ResultType
	Err    opctl.ErrorKind
	ASR    string
	NLP    string
	Action string
	Extra  string
}
