package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rokid/voiceclient/internal/speechproto"
)

// startEchoServer runs an httptest server that upgrades every connection
// to a WebSocket and hands the server-side conn to onConn for the test
// to drive. It returns the ws:// URL and a cleanup function.
func startEchoServer(t *testing.T, onConn func(*websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		onConn(conn)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return url, srv.Close
}

func dialTest(t *testing.T, url string) *WebSocketTransport {
	t.Helper()
	tr, err := Dial(url, nil, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestDialSendRecvRoundTrip(t *testing.T) {
	done := make(chan struct{})
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		defer close(done)
		var req speechproto.WireMessage
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if req.ID != 42 {
			t.Errorf("server saw id %d, want 42", req.ID)
		}
		env := wireEnvelope{ID: req.ID, ResultCode: 0, Finish: true, ASR: "hello"}
		if err := conn.WriteJSON(env); err != nil {
			t.Errorf("server write: %v", err)
		}
	})
	defer closeSrv()

	tr := dialTest(t, url)

	res := tr.Send(speechproto.WireMessage{ID: 42}, time.Second)
	if res != SendSuccess {
		t.Fatalf("Send = %v, want SendSuccess", res)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server handler never completed")
	}

	resp, rr := tr.Recv(time.Second)
	if rr != RecvSuccess {
		t.Fatalf("Recv = %v, want RecvSuccess", rr)
	}
	if resp.ID != 42 || !resp.Finish || resp.Body.ASR != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRecvTimesOutWhenNothingArrives(t *testing.T) {
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		<-make(chan struct{})
	})
	defer closeSrv()

	tr := dialTest(t, url)

	_, rr := tr.Recv(30 * time.Millisecond)
	if rr != RecvTimeout {
		t.Fatalf("Recv = %v, want RecvTimeout", rr)
	}
}

func TestCloseIsDeliberateNotSurfacedAsBroken(t *testing.T) {
	accepted := make(chan struct{})
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		close(accepted)
		conn.ReadMessage()
	})
	defer closeSrv()

	tr := dialTest(t, url)
	<-accepted

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, rr := tr.Recv(200 * time.Millisecond)
	if rr != RecvNotReady {
		t.Fatalf("Recv after deliberate Close = %v, want RecvNotReady", rr)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer closeSrv()

	tr := dialTest(t, url)
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestServerAbruptCloseSurfacesAsConnectionBroken(t *testing.T) {
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})
	defer closeSrv()

	tr := dialTest(t, url)

	_, rr := tr.Recv(time.Second)
	if rr != RecvConnectionBroken {
		t.Fatalf("Recv after abrupt server close = %v, want RecvConnectionBroken", rr)
	}
}

func TestSendAfterCloseReportsConnectionBroken(t *testing.T) {
	url, closeSrv := startEchoServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer closeSrv()

	tr := dialTest(t, url)
	tr.Close()

	res := tr.Send(speechproto.WireMessage{ID: 1}, time.Second)
	if res != SendConnectionBroken {
		t.Fatalf("Send after Close = %v, want SendConnectionBroken", res)
	}
}
