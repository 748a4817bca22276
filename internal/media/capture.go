package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Capture errors.
var (
	// ErrPermissionDenied means the user declined camera/microphone access.
	// It propagates to the caller and is never retried automatically.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrCaptureBusy means a capture session is already active. Voice and
	// face capture are mutually exclusive.
	ErrCaptureBusy = errors.New("media: capture already active")

	// ErrNoData means the session finished without recording anything.
	ErrNoData = errors.New("media: no data captured")
)

// Kind distinguishes the two capture modes.
type Kind int

const (
	KindNone Kind = iota
	KindAudio
	KindFace
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindFace:
		return "face"
	default:
		return "none"
	}
}

// Stream is a live media source handle. Implementations are the websocket
// capture device in production and fakes in tests.
type Stream interface {
	// NextChunk blocks until the next recorded audio chunk arrives.
	// It returns io.EOF when the source ends.
	NextChunk(ctx context.Context) ([]byte, error)

	// StillFrame waits until the video source reports ready dimensions,
	// then grabs one encoded frame.
	StillFrame(ctx context.Context) ([]byte, error)

	// MIMEType declares the encoding of chunks/frames, e.g. "audio/webm".
	MIMEType() string

	Close() error
}

// Device acquires streams. Acquire returns ErrPermissionDenied when the
// user declines access.
type Device interface {
	Acquire(ctx context.Context, kind Kind) (Stream, error)
}

// captureSession owns one live stream, its accumulated chunks, and the
// finalize-once guarantee. Lifecycle: create, record, timeout or explicit
// stop, finalize to data, release.
type captureSession struct {
	kind     Kind
	stream   Stream
	chunks   [][]byte
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (s *captureSession) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// finalize concatenates chunks into one encoded blob.
func (s *captureSession) finalize() (DataURI, error) {
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	if total == 0 {
		return "", ErrNoData
	}
	blob := make([]byte, 0, total)
	for _, c := range s.chunks {
		blob = append(blob, c...)
	}
	return EncodeDataURI(s.stream.MIMEType(), blob), nil
}

// Manager acquires and releases the camera and microphone. At most one
// session is active at a time; Release must run on every exit path,
// success or failure, before another mode can acquire a stream.
type Manager struct {
	mu      sync.Mutex
	device  Device
	session *captureSession
}

// NewManager wires a Manager to its device.
func NewManager(device Device) *Manager {
	return &Manager{device: device}
}

// Active reports which capture mode currently owns the stream.
func (m *Manager) Active() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return KindNone
	}
	return m.session.kind
}

func (m *Manager) begin(ctx context.Context, kind Kind) (*captureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return nil, ErrCaptureBusy
	}
	stream, err := m.device.Acquire(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("acquire %s stream: %w", kind, err)
	}
	session := &captureSession{
		kind:   kind,
		stream: stream,
		stopCh: make(chan struct{}),
	}
	m.session = session
	return session, nil
}

// StartAudioCapture records microphone chunks until maxDuration elapses or
// Stop is called, then resolves exactly once with the concatenated clip.
func (m *Manager) StartAudioCapture(ctx context.Context, maxDuration time.Duration) (DataURI, error) {
	session, err := m.begin(ctx, KindAudio)
	if err != nil {
		return "", err
	}
	defer m.Release()

	recordCtx, cancel := context.WithTimeout(ctx, maxDuration)
	defer cancel()
	go func() {
		select {
		case <-session.stopCh:
			cancel()
		case <-recordCtx.Done():
		}
	}()

	for {
		chunk, err := session.stream.NextChunk(recordCtx)
		if err != nil {
			if ctx.Err() != nil {
				// The caller itself went away.
				return "", ctx.Err()
			}
			if errors.Is(err, io.EOF) || recordCtx.Err() != nil {
				// Source end, timeout, or explicit stop all finish normally.
				return session.finalize()
			}
			return "", fmt.Errorf("read audio chunk: %w", err)
		}
		if len(chunk) > 0 {
			session.chunks = append(session.chunks, chunk)
		}
	}
}

// StartFaceCapture waits settleDelay after the video stream is ready so the
// first black/garbage frame is never captured, then grabs one still image.
func (m *Manager) StartFaceCapture(ctx context.Context, settleDelay time.Duration) (DataURI, error) {
	session, err := m.begin(ctx, KindFace)
	if err != nil {
		return "", err
	}
	defer m.Release()

	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-session.stopCh:
		return "", ErrNoData
	case <-ctx.Done():
		return "", ctx.Err()
	}

	frame, err := session.stream.StillFrame(ctx)
	if err != nil {
		return "", fmt.Errorf("grab still frame: %w", err)
	}
	session.chunks = append(session.chunks, frame)
	return session.finalize()
}

// Stop ends the active recording early. Stopping twice, or stopping when no
// recording is active, is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session != nil {
		session.stop()
	}
}

// Release stops all tracks and detaches the stream handle. It is idempotent
// and runs on every exit path; this is a scoped-resource guarantee, not
// optional cleanup.
func (m *Manager) Release() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()
	if session == nil {
		return
	}
	session.stop()
	if err := session.stream.Close(); err != nil {
		log.Printf("[media] close stream: %v", err)
	}
}
