package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer returns every text frame it receives
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// closingServer sends one frame then closes the socket
func closingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("bye"))
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnection_DefaultOptions(t *testing.T) {
	srv := echoServer(t)
	conn, err := Dial(context.Background(), wsURL(srv), nil, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.opts.WriteTimeout != 5*time.Second {
		t.Errorf("Expected 5s write timeout, got %v", conn.opts.WriteTimeout)
	}
}

func TestConnection_OrderedRoundTrip(t *testing.T) {
	srv := echoServer(t)
	conn, err := Dial(context.Background(), wsURL(srv), nil, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	frames := make(chan string, 50)
	conn.Start(func(frame []byte) { frames <- string(frame) })

	for i := 0; i < 20; i++ {
		if err := conn.WriteText([]byte(fmt.Sprintf("frame-%d", i))); err != nil {
			t.Fatalf("WriteText %d: %v", i, err)
		}
	}

	// FUNCTIONAL DISCOVERY: Single writer plus single reader means the echo
	// order must match the write order exactly
	for i := 0; i < 20; i++ {
		select {
		case got := <-frames:
			if want := fmt.Sprintf("frame-%d", i); got != want {
				t.Fatalf("frame %d = %q, want %q", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	conn, err := Dial(context.Background(), wsURL(srv), nil, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Start(func([]byte) {})

	_ = conn.Close()
	_ = conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	if conn.Err() != nil {
		t.Errorf("Err after local close = %v, want nil", conn.Err())
	}
	if err := conn.WriteText([]byte("late")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("WriteText after close = %v, want ErrConnectionClosed", err)
	}
}

func TestConnection_RemoteCloseSurfacesError(t *testing.T) {
	srv := closingServer(t)
	conn, err := Dial(context.Background(), wsURL(srv), nil, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := make(chan string, 1)
	conn.Start(func(frame []byte) { got <- string(frame) })

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote close not detected")
	}
	if !errors.Is(conn.Err(), ErrConnectionDropped) {
		t.Errorf("Err = %v, want ErrConnectionDropped", conn.Err())
	}
	if frame := <-got; frame != "bye" {
		t.Errorf("frame before close = %q", frame)
	}
}

func TestConnection_ReadTimeout(t *testing.T) {
	srv := echoServer(t)
	conn, err := Dial(context.Background(), wsURL(srv), nil, Options{ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Start(func([]byte) {})

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection should hit the read deadline")
	}
	if !errors.Is(conn.Err(), ErrConnectionDropped) {
		t.Errorf("Err = %v, want ErrConnectionDropped", conn.Err())
	}
}

func TestDial_Failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), wsURL(srv), nil, Options{})
	if !errors.Is(err, ErrDialFailed) {
		t.Fatalf("Dial error = %v, want ErrDialFailed", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status code: %v", err)
	}
}
