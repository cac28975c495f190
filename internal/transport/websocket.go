package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rokid/voiceclient/internal/speechproto"
)

// wireEnvelope carries a decoded SessionResponse plus the result code
// and finish flag needed to reconstruct it, over a single JSON text
// frame.
type wireEnvelope struct {
	ID         int64  `json:"id"`
	ResultCode int    `json:"result_code"`
	Finish     bool   `json:"finish"`
	ASR        string `json:"asr,omitempty"`
	NLP        string `json:"nlp,omitempty"`
	Action     string `json:"action,omitempty"`
	Extra      string `json:"extra,omitempty"`
}

// WebSocketTransport implements Transport over a gorilla/websocket
// connection, framing every message as a JSON text frame. Grounded on
// vango-go-vai-lite/sdk/live.go's LiveSession: a dialed connection, a
// background readLoop feeding a channel, and a once-only error latch.
type WebSocketTransport struct {
	conn *websocket.Conn

	recvCh chan speechproto.SessionResponse
	done   chan struct{}

	closeOnce           sync.Once
	closedIntentionally atomic.Bool
	errMu               sync.Mutex
	err                 error
}

// Dial opens a WebSocket connection to url and starts the background
// read loop. header carries any connection-level auth token the caller
// resolved during the (out-of-scope) credential handshake.
func Dial(url string, header http.Header, connectTimeout time.Duration) (*WebSocketTransport, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}

	t := &WebSocketTransport{
		conn:   conn,
		recvCh: make(chan speechproto.SessionResponse, 16),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.done)
	defer close(t.recvCh)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closedIntentionally.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setErr(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.setErr(err)
			return
		}

		resp := speechproto.SessionResponse{
			ID:         env.ID,
			ResultCode: speechproto.ResultCode(env.ResultCode),
			Finish:     env.Finish,
			Body: speechproto.ResponseBody{
				ASR:    env.ASR,
				NLP:    env.NLP,
				Action: env.Action,
				Extra:  env.Extra,
			},
		}

		select {
		case t.recvCh <- resp:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *WebSocketTransport) lastErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Send implements Transport.
func (t *WebSocketTransport) Send(req speechproto.WireMessage, timeout time.Duration) SendResult {
	data, err := json.Marshal(req)
	if err != nil {
		return SendUnknown
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return SendUnknown
	}
	err = t.conn.WriteMessage(websocket.TextMessage, data)
	if err == nil {
		return SendSuccess
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return SendConnectionBroken
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SendTimeout
	}
	return SendConnectionBroken
}

// Recv implements Transport.
func (t *WebSocketTransport) Recv(timeout time.Duration) (speechproto.SessionResponse, RecvResult) {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp, ok := <-t.recvCh:
		if !ok {
			if err := t.lastErr(); err != nil {
				return speechproto.SessionResponse{}, RecvConnectionBroken
			}
			return speechproto.SessionResponse{}, RecvNotReady
		}
		return resp, RecvSuccess
	case <-timeoutCh:
		return speechproto.SessionResponse{}, RecvTimeout
	case <-t.done:
		if err := t.lastErr(); err != nil {
			return speechproto.SessionResponse{}, RecvConnectionBroken
		}
		return speechproto.SessionResponse{}, RecvNotReady
	}
}

// Close implements Transport. Marks the connection as deliberately
// closed first, so the read loop's subsequent "use of closed
// connection" error does not get mistaken for a broken connection by
// Recv.
func (t *WebSocketTransport) Close() error {
	t.closedIntentionally.Store(true)
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
