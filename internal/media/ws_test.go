package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSocket stands in for a browser-side capture socket.
type fakeSocket struct {
	in     chan Envelope
	out    chan Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan Envelope, 16),
		out:    make(chan Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) ReadJSON(v any) error {
	select {
	case env := <-f.in:
		*(v.(*Envelope)) = env
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeSocket) WriteJSON(v any) error {
	select {
	case f.out <- v.(Envelope):
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) clientSend(t *testing.T, msgType string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", msgType, err)
		}
		raw = b
	}
	select {
	case f.in <- Envelope{Type: msgType, Data: raw}:
	case <-time.After(time.Second):
		t.Fatalf("client send %s blocked", msgType)
	}
}

// runClient answers the server's start request the way a browser would.
func (f *fakeSocket) runClient(t *testing.T, onStart func()) {
	go func() {
		for {
			select {
			case <-f.closed:
				return
			case env := <-f.out:
				if env.Type == "start" {
					onStart()
				}
			}
		}
	}()
}

func TestHubRecordsAudioOverSocket(t *testing.T) {
	hub := NewHub()
	sock := newFakeSocket()
	defer sock.Close()

	sock.runClient(t, func() {
		sock.clientSend(t, "ready", readyPayload{MIMEType: "audio/webm"})
		sock.clientSend(t, "chunk", chunkPayload{Data: []byte("ab")})
		sock.clientSend(t, "chunk", chunkPayload{Data: []byte("cd")})
		sock.clientSend(t, "eof", nil)
	})
	go hub.Serve("u1", sock)

	waitConnected(t, hub, "u1")

	mgr := NewManager(hub.DeviceFor("u1"))
	clip, err := mgr.StartAudioCapture(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("StartAudioCapture: %v", err)
	}

	want := "data:audio/webm;base64," + base64.StdEncoding.EncodeToString([]byte("abcd"))
	if string(clip) != want {
		t.Fatalf("clip = %q, want %q", clip, want)
	}
}

func TestHubPermissionDenied(t *testing.T) {
	hub := NewHub()
	sock := newFakeSocket()
	defer sock.Close()

	sock.runClient(t, func() {
		sock.clientSend(t, "denied", nil)
	})
	go hub.Serve("u1", sock)

	waitConnected(t, hub, "u1")

	mgr := NewManager(hub.DeviceFor("u1"))
	_, err := mgr.StartAudioCapture(context.Background(), time.Second)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
}

func TestHubNoSocketMeansNoDevice(t *testing.T) {
	hub := NewHub()
	mgr := NewManager(hub.DeviceFor("nobody"))

	_, err := mgr.StartAudioCapture(context.Background(), time.Second)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
	if !strings.Contains(err.Error(), "no capture socket") {
		t.Fatalf("err = %v, want no-socket context", err)
	}
}

func waitConnected(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.lookup(userID) != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("socket for %s never registered", userID)
}
