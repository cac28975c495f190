// Package transport defines the wire boundary to the remote
// speech-understanding service and a WebSocket
// implementation of it. The SpeechEngine depends only on the Transport
// interface; the codec and connection lifecycle live entirely here, kept
// deliberately swappable for tests.
package transport

import (
	"time"

	"github.com/rokid/voiceclient/internal/speechproto"
)

// SendResult mirrors send() return codes.
type SendResult int

const (
	SendSuccess SendResult = iota
	SendConnectionNotAvailable
	SendTimeout
	SendConnectionBroken
	SendUnknown
)

// RecvResult mirrors recv() return codes.
type RecvResult int

const (
	RecvSuccess RecvResult = iota
	RecvNotReady
	RecvTimeout
	RecvConnectionBroken
	RecvUnknown
)

// Transport is the framed message connection to the cloud.
// Implementations must be safe for one concurrent Send and one
// concurrent Recv call (the engine never calls either method from more
// than one goroutine at a time, but Send and Recv themselves run on
// different goroutines).
type Transport interface {
	// Send encodes and writes req, blocking at most timeout.
	Send(req speechproto.WireMessage, timeout time.Duration) SendResult
	// Recv blocks at most timeout waiting for the next decoded message.
	Recv(timeout time.Duration) (speechproto.SessionResponse, RecvResult)
	// Close tears down the connection. Safe to call more than once and
	// concurrently with a blocked Send or Recv, which must then return
	// promptly with a non-success result.
	Close() error
}
