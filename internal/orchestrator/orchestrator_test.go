package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emotifriend/backend/internal/emotion"
	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/chat"
	"github.com/emotifriend/backend/internal/model/persona"
	"github.com/emotifriend/backend/internal/store"
	"github.com/emotifriend/backend/internal/store/kv"
)

type fakeGateway struct {
	analyzeText   func(text string) (*gateway.TextSentiment, error)
	analyzeFace   func(image media.DataURI) (*gateway.FaceAnalysis, error)
	analyzeVoice  func(audio media.DataURI) (*gateway.VoiceAnalysis, error)
	transcribe    func(audio media.DataURI) (*gateway.Transcript, error)
	translate     func(text, lang string) (*gateway.Translation, error)
	generateReply func(in gateway.ReplyInput) (*gateway.Reply, error)
	speech        func(text string, g persona.Gender) (*gateway.Speech, error)
	avatarImage   func(photo media.DataURI) (*gateway.AvatarImage, error)
	talkingVideo  func(avatar media.DataURI, text string) (*gateway.AvatarVideo, error)
}

func (f *fakeGateway) AnalyzeText(_ context.Context, text string) (*gateway.TextSentiment, error) {
	if f.analyzeText != nil {
		return f.analyzeText(text)
	}
	return &gateway.TextSentiment{Sentiment: "neutral"}, nil
}

func (f *fakeGateway) AnalyzeFace(_ context.Context, image media.DataURI) (*gateway.FaceAnalysis, error) {
	if f.analyzeFace != nil {
		return f.analyzeFace(image)
	}
	return &gateway.FaceAnalysis{EmotionalState: "neutral"}, nil
}

func (f *fakeGateway) AnalyzeVoice(_ context.Context, audio media.DataURI) (*gateway.VoiceAnalysis, error) {
	if f.analyzeVoice != nil {
		return f.analyzeVoice(audio)
	}
	return &gateway.VoiceAnalysis{Emotion: "neutral"}, nil
}

func (f *fakeGateway) Transcribe(_ context.Context, audio media.DataURI) (*gateway.Transcript, error) {
	if f.transcribe != nil {
		return f.transcribe(audio)
	}
	return &gateway.Transcript{Transcript: "hello"}, nil
}

func (f *fakeGateway) Translate(_ context.Context, text, lang string) (*gateway.Translation, error) {
	if f.translate != nil {
		return f.translate(text, lang)
	}
	return &gateway.Translation{TranslatedText: text}, nil
}

func (f *fakeGateway) GenerateReply(_ context.Context, in gateway.ReplyInput) (*gateway.Reply, error) {
	if f.generateReply != nil {
		return f.generateReply(in)
	}
	return &gateway.Reply{Response: "I hear you."}, nil
}

func (f *fakeGateway) SynthesizeSpeech(_ context.Context, text string, g persona.Gender) (*gateway.Speech, error) {
	if f.speech != nil {
		return f.speech(text, g)
	}
	return &gateway.Speech{AudioDataURI: "data:audio/wav;base64,UklGRg=="}, nil
}

func (f *fakeGateway) SynthesizeAvatarImage(_ context.Context, photo media.DataURI) (*gateway.AvatarImage, error) {
	if f.avatarImage != nil {
		return f.avatarImage(photo)
	}
	return &gateway.AvatarImage{AvatarDataURI: "data:image/png;base64,aW1n"}, nil
}

func (f *fakeGateway) SynthesizeTalkingVideo(_ context.Context, avatar media.DataURI, text string) (*gateway.AvatarVideo, error) {
	if f.talkingVideo != nil {
		return f.talkingVideo(avatar, text)
	}
	return &gateway.AvatarVideo{VideoDataURI: "data:video/mp4;base64,dmlk"}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	states  []Snapshot
	notices []Notice
}

func (s *fakeSink) PublishState(_ string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, snap)
}

func (s *fakeSink) PublishNotice(_ string, n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
}

func (s *fakeSink) noticeTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, 0, len(s.notices))
	for _, n := range s.notices {
		titles = append(titles, n.Title)
	}
	return titles
}

type stubStream struct {
	chunks [][]byte
	frame  []byte
	mime   string
	pos    int
}

func (s *stubStream) NextChunk(ctx context.Context) ([]byte, error) {
	if s.pos >= len(s.chunks) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *stubStream) StillFrame(context.Context) ([]byte, error) { return s.frame, nil }
func (s *stubStream) MIMEType() string                           { return s.mime }
func (s *stubStream) Close() error                               { return nil }

type stubDevice struct {
	stream media.Stream
	err    error
}

func (d *stubDevice) Acquire(context.Context, media.Kind) (media.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func newTestOrchestrator(t *testing.T, gw gateway.Gateway) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWith(t, gw, &fakeSink{}, &stubDevice{stream: &stubStream{mime: "audio/webm"}})
}

func newTestOrchestratorWith(t *testing.T, gw gateway.Gateway, sink Sink, device media.Device) *Orchestrator {
	t.Helper()
	conv := store.NewConversation(kv.NewMemory())
	cfg := Config{AudioMaxDuration: 100 * time.Millisecond, FaceSettleDelay: time.Millisecond}
	return New(gw, conv, media.NewManager(device), sink, cfg, "test-user")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitAppendsBothMessagesAndFusesEmotion(t *testing.T) {
	gw := &fakeGateway{
		analyzeText: func(string) (*gateway.TextSentiment, error) {
			return &gateway.TextSentiment{Sentiment: "sad"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	if err := o.Submit(ctx, "I feel down today"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := o.Snapshot(ctx)
	if snap.Emotion != emotion.Sad {
		t.Fatalf("emotion = %s, want sad", snap.Emotion)
	}
	// welcome + user + AI
	if len(snap.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(snap.Messages))
	}
	if snap.Messages[1].Sender != chat.SenderUser || snap.Messages[1].Text != "I feel down today" {
		t.Fatalf("unexpected user message: %+v", snap.Messages[1])
	}
	if snap.Messages[2].Sender != chat.SenderAI {
		t.Fatalf("unexpected AI message: %+v", snap.Messages[2])
	}
	if snap.Thinking {
		t.Fatal("thinking flag still set after turn")
	}
}

func TestSubmitReplyFailureKeepsUserMessage(t *testing.T) {
	replyErr := errors.New("model unavailable")
	gw := &fakeGateway{
		generateReply: func(gateway.ReplyInput) (*gateway.Reply, error) {
			return nil, replyErr
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()

	if err := o.Submit(ctx, "anyone there?"); !errors.Is(err, replyErr) {
		t.Fatalf("Submit error = %v, want %v", err, replyErr)
	}

	snap := o.Snapshot(ctx)
	if len(snap.Messages) != 2 {
		t.Fatalf("message count = %d, want welcome + user", len(snap.Messages))
	}
	if snap.Messages[1].Sender != chat.SenderUser {
		t.Fatalf("second message sender = %s, want user", snap.Messages[1].Sender)
	}
	if snap.Emotion != emotion.Sad {
		t.Fatalf("emotion = %s, want sad", snap.Emotion)
	}
	if snap.Thinking {
		t.Fatal("thinking flag still set after failed turn")
	}
	titles := sink.noticeTitles()
	if len(titles) == 0 || titles[0] != "A quiet moment..." {
		t.Fatalf("notices = %v, want reply failure notice", titles)
	}
}

func TestSubmitRejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	gw := &fakeGateway{
		generateReply: func(gateway.ReplyInput) (*gateway.Reply, error) {
			close(entered)
			<-release
			return &gateway.Reply{Response: "done"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- o.Submit(ctx, "first") }()
	<-entered

	if err := o.Submit(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Submit = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
}

func TestSpeechAttachesToReplyMessage(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{})
	ctx := context.Background()

	if err := o.Submit(ctx, "say something"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "audio attachment", func() bool {
		snap := o.Snapshot(ctx)
		last := snap.Messages[len(snap.Messages)-1]
		return last.Sender == chat.SenderAI && last.AudioDataURI != ""
	})
}

func TestVideoBillingFailureIsSilentAndSpeechStillAttaches(t *testing.T) {
	gw := &fakeGateway{
		talkingVideo: func(media.DataURI, string) (*gateway.AvatarVideo, error) {
			return nil, errors.New("billing account not in good standing")
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()
	o.SetAvatar(ctx, "data:image/png;base64,aW1n")

	if err := o.Submit(ctx, "make a video"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "audio attachment", func() bool {
		snap := o.Snapshot(ctx)
		last := snap.Messages[len(snap.Messages)-1]
		return last.AudioDataURI != ""
	})
	time.Sleep(50 * time.Millisecond) // let the video goroutine finish too

	if snap := o.Snapshot(ctx); snap.VideoDataURI != "" {
		t.Fatalf("video URI = %q, want empty", snap.VideoDataURI)
	}
	for _, title := range sink.noticeTitles() {
		if title == "Camera shy" {
			t.Fatal("billing failure must not surface a video notice")
		}
	}
}

func TestVideoLandsForActiveTurn(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()
	o.SetAvatar(ctx, "data:image/png;base64,aW1n")

	if err := o.Submit(ctx, "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "video URI", func() bool {
		return o.Snapshot(ctx).VideoDataURI != ""
	})
}

func TestRateLimitedSpeechNotice(t *testing.T) {
	gw := &fakeGateway{
		speech: func(string, persona.Gender) (*gateway.Speech, error) {
			return nil, errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()

	if err := o.Submit(ctx, "talk to me"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "rate-limit notice", func() bool {
		for _, title := range sink.noticeTitles() {
			if title == "Catching my breath" {
				return true
			}
		}
		return false
	})
}

func TestToolCallsChangePersona(t *testing.T) {
	gw := &fakeGateway{
		generateReply: func(gateway.ReplyInput) (*gateway.Reply, error) {
			return &gateway.Reply{
				Response: "Switching now.",
				ToolCalls: []gateway.ToolCall{
					call("changeLanguage", `{"language":"Japanese"}`),
					call("changeVoiceGender", `{"gender":"male"}`),
				},
			}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	if err := o.Submit(ctx, "speak Japanese with a male voice"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := o.Snapshot(ctx)
	if snap.Persona.Language != "Japanese" {
		t.Fatalf("language = %q, want Japanese", snap.Persona.Language)
	}
	if snap.Persona.Gender != persona.Male {
		t.Fatalf("gender = %q, want male", snap.Persona.Gender)
	}
}

func TestTranslationAppliedBeforeAnalysis(t *testing.T) {
	var analyzed string
	gw := &fakeGateway{
		translate: func(text, lang string) (*gateway.Translation, error) {
			if lang != "Spanish" {
				t.Errorf("translate target = %q, want Spanish", lang)
			}
			return &gateway.Translation{TranslatedText: "hola"}, nil
		},
		analyzeText: func(text string) (*gateway.TextSentiment, error) {
			analyzed = text
			return &gateway.TextSentiment{Sentiment: "happy"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()
	o.SetLanguage(ctx, "Spanish")

	if err := o.Submit(ctx, "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if analyzed != "hola" {
		t.Fatalf("analyzed %q, want the translated text", analyzed)
	}
}

func TestTranslationFailureAbortsTurn(t *testing.T) {
	gw := &fakeGateway{
		translate: func(string, string) (*gateway.Translation, error) {
			return nil, errors.New("translator offline")
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()
	o.SetLanguage(ctx, "French")

	if err := o.Submit(ctx, "bonjour?"); err == nil {
		t.Fatal("expected translation failure to abort the turn")
	}
	snap := o.Snapshot(ctx)
	if len(snap.Messages) != 2 {
		t.Fatalf("message count = %d, want welcome + user only", len(snap.Messages))
	}
}

func TestSubmitVoiceClipRunsTextPipeline(t *testing.T) {
	gw := &fakeGateway{
		analyzeVoice: func(media.DataURI) (*gateway.VoiceAnalysis, error) {
			return &gateway.VoiceAnalysis{Emotion: "happy", Pitch: "high"}, nil
		},
		transcribe: func(media.DataURI) (*gateway.Transcript, error) {
			return &gateway.Transcript{Transcript: "what a great day"}, nil
		},
		analyzeText: func(string) (*gateway.TextSentiment, error) {
			return &gateway.TextSentiment{Sentiment: "positive"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	if err := o.SubmitVoiceClip(ctx, "data:audio/webm;base64,YWJj"); err != nil {
		t.Fatalf("SubmitVoiceClip: %v", err)
	}

	snap := o.Snapshot(ctx)
	if snap.Messages[1].Text != "what a great day" {
		t.Fatalf("transcript message = %q", snap.Messages[1].Text)
	}
	if snap.Emotion != emotion.Happy {
		t.Fatalf("emotion = %s, want happy", snap.Emotion)
	}
	if snap.Analysis.Voice == nil || snap.Analysis.Voice.Pitch != "high" {
		t.Fatalf("voice channel = %+v", snap.Analysis.Voice)
	}
}

func TestVoiceNoteAnalysisBlocksOtherCapture(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		analyzeVoice: func(media.DataURI) (*gateway.VoiceAnalysis, error) {
			close(entered)
			<-release
			return &gateway.VoiceAnalysis{Emotion: "neutral"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- o.SubmitVoiceClip(ctx, "data:audio/webm;base64,YWJj") }()
	<-entered

	if !o.Snapshot(ctx).Listening {
		t.Fatal("listening flag not held during voice-note analysis")
	}
	if err := o.SubmitVoiceClip(ctx, "data:audio/webm;base64,ZGVm"); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent voice note = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SubmitVoiceClip: %v", err)
	}
	if o.Snapshot(ctx).Listening {
		t.Fatal("listening flag stuck after voice note")
	}
}

func TestSubmitVoiceClipAnalysisFailure(t *testing.T) {
	gw := &fakeGateway{
		transcribe: func(media.DataURI) (*gateway.Transcript, error) {
			return nil, errors.New("speech service down")
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()

	if err := o.SubmitVoiceClip(ctx, "data:audio/webm;base64,YWJj"); err == nil {
		t.Fatal("expected analysis failure")
	}
	snap := o.Snapshot(ctx)
	if snap.Emotion != emotion.Sad {
		t.Fatalf("emotion = %s, want sad", snap.Emotion)
	}
	if len(snap.Messages) != 1 {
		t.Fatalf("message count = %d, want welcome only", len(snap.Messages))
	}
}

func TestSubmitVoiceRejectsSilentClip(t *testing.T) {
	gw := &fakeGateway{
		transcribe: func(media.DataURI) (*gateway.Transcript, error) {
			return &gateway.Transcript{Transcript: ""}, nil
		},
	}
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, gw, sink, &stubDevice{})
	ctx := context.Background()

	if err := o.SubmitVoiceClip(ctx, "data:audio/webm;base64,YWJj"); err != nil {
		t.Fatalf("SubmitVoiceClip: %v", err)
	}
	snap := o.Snapshot(ctx)
	if len(snap.Messages) != 1 {
		t.Fatalf("empty transcript must not start a turn, got %d messages", len(snap.Messages))
	}
}

func TestSubmitVoiceRecordsThroughDevice(t *testing.T) {
	var got media.DataURI
	gw := &fakeGateway{
		analyzeVoice: func(audio media.DataURI) (*gateway.VoiceAnalysis, error) {
			got = audio
			return &gateway.VoiceAnalysis{Emotion: "neutral"}, nil
		},
	}
	device := &stubDevice{stream: &stubStream{
		chunks: [][]byte{[]byte("ab"), []byte("cd")},
		mime:   "audio/webm",
	}}
	o := newTestOrchestratorWith(t, gw, &fakeSink{}, device)
	ctx := context.Background()

	if err := o.SubmitVoice(ctx); err != nil {
		t.Fatalf("SubmitVoice: %v", err)
	}
	if !strings.HasPrefix(string(got), "data:audio/webm;base64,") {
		t.Fatalf("recorded clip = %q", got)
	}
}

func TestSubmitVoicePermissionDenied(t *testing.T) {
	sink := &fakeSink{}
	o := newTestOrchestratorWith(t, &fakeGateway{}, sink, &stubDevice{err: media.ErrPermissionDenied})
	ctx := context.Background()

	if err := o.SubmitVoice(ctx); !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("SubmitVoice = %v, want permission denied", err)
	}
	titles := sink.noticeTitles()
	if len(titles) == 0 || titles[0] != "Microphone unavailable" {
		t.Fatalf("notices = %v", titles)
	}
	if o.Snapshot(ctx).Listening {
		t.Fatal("listening flag stuck after denial")
	}
}

func TestSubmitFaceUpdatesEmotionAndGender(t *testing.T) {
	gw := &fakeGateway{
		analyzeFace: func(media.DataURI) (*gateway.FaceAnalysis, error) {
			return &gateway.FaceAnalysis{EmotionalState: "smiling", Gender: "male"}, nil
		},
	}
	device := &stubDevice{stream: &stubStream{frame: []byte("img"), mime: "image/jpeg"}}
	o := newTestOrchestratorWith(t, gw, &fakeSink{}, device)
	ctx := context.Background()

	if err := o.SubmitFace(ctx); err != nil {
		t.Fatalf("SubmitFace: %v", err)
	}

	snap := o.Snapshot(ctx)
	if snap.Emotion != emotion.Happy {
		t.Fatalf("emotion = %s, want happy", snap.Emotion)
	}
	if snap.Persona.Gender != persona.Male {
		t.Fatalf("gender = %q, want male", snap.Persona.Gender)
	}
	if snap.Analysis.Face != "smiling" {
		t.Fatalf("face channel = %q, want raw label", snap.Analysis.Face)
	}
	// No conversational turn: the log stays at the welcome message.
	if len(snap.Messages) != 1 {
		t.Fatalf("message count = %d, want 1", len(snap.Messages))
	}
}

func TestClearConversationResetsState(t *testing.T) {
	gw := &fakeGateway{
		analyzeText: func(string) (*gateway.TextSentiment, error) {
			return &gateway.TextSentiment{Sentiment: "happy"}, nil
		},
	}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	if err := o.Submit(ctx, "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.ClearConversation(ctx)

	snap := o.Snapshot(ctx)
	if len(snap.Messages) != 1 || snap.Messages[0].Text != chat.WelcomeText {
		t.Fatalf("messages after clear = %+v", snap.Messages)
	}
	if snap.Emotion != emotion.Neutral {
		t.Fatalf("emotion = %s, want neutral", snap.Emotion)
	}
	if snap.VideoDataURI != "" {
		t.Fatal("video URI survived clear")
	}
}
