// Package orchestrator drives the multi-modal response pipeline: it fuses
// text, voice and face analysis into one emotion, sequences the dependent
// generation steps, and reconciles the background speech/video results that
// can race with the message list.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emotifriend/backend/internal/emotion"
	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/chat"
	"github.com/emotifriend/backend/internal/model/persona"
	"github.com/emotifriend/backend/internal/store"
)

// ErrBusy rejects a submission while a turn, a recording, or a face capture
// is already in flight. Admission is single-flight for the synchronous path.
var ErrBusy = errors.New("orchestrator: another interaction is in progress")

// Notice is a user-visible notification, never fatal to the conversation.
type Notice struct {
	Level string `json:"level"` // "error" or "warning"
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Snapshot is the UI-observable state published after every transition.
type Snapshot struct {
	Emotion       emotion.Emotion `json:"emotion"`
	Thinking      bool            `json:"thinking"`
	Listening     bool            `json:"listening"`
	CapturingFace bool            `json:"capturingFace"`
	Analysis      Analysis        `json:"analysis"`
	Persona       persona.Persona `json:"persona"`
	VideoDataURI  media.DataURI   `json:"videoDataUri,omitempty"`
	Messages      []chat.Message  `json:"messages"`
}

// Sink receives state snapshots and notices for one user's UI.
type Sink interface {
	PublishState(userID string, snap Snapshot)
	PublishNotice(userID string, n Notice)
}

// Analysis holds the latest per-channel raw results. Channels are
// independent and may be stale relative to each other; each new analysis
// overwrites only its own channel.
type Analysis struct {
	Text  string        `json:"text,omitempty"`
	Voice *VoiceChannel `json:"voice,omitempty"`
	Face  string        `json:"face,omitempty"`
}

// VoiceChannel mirrors the vocal characteristics of the last voice analysis.
type VoiceChannel struct {
	Emotion string `json:"emotion"`
	Pitch   string `json:"pitch,omitempty"`
	Tone    string `json:"tone,omitempty"`
	Rhythm  string `json:"rhythm,omitempty"`
}

// Config bounds the capture paths.
type Config struct {
	// AudioMaxDuration auto-stops a voice recording.
	AudioMaxDuration time.Duration
	// FaceSettleDelay lets the camera settle before the snapshot.
	FaceSettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.AudioMaxDuration <= 0 {
		c.AudioMaxDuration = 5 * time.Second
	}
	if c.FaceSettleDelay <= 0 {
		c.FaceSettleDelay = 500 * time.Millisecond
	}
	return c
}

// Orchestrator is the per-user state machine. All mutation happens under mu;
// remote calls never hold the lock.
type Orchestrator struct {
	gw      gateway.Gateway
	conv    *store.Conversation
	capture *media.Manager
	sink    Sink
	cfg     Config
	userID  string

	mu            sync.Mutex
	thinking      bool
	listening     bool
	capturingFace bool
	current       emotion.Emotion
	analysis      Analysis
	persona       persona.Persona
	videoURI      media.DataURI
	turn          uint64
}

// New builds the orchestrator for one user session.
func New(gw gateway.Gateway, conv *store.Conversation, capture *media.Manager, sink Sink, cfg Config, userID string) *Orchestrator {
	return &Orchestrator{
		gw:      gw,
		conv:    conv,
		capture: capture,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		userID:  userID,
		current: emotion.Neutral,
		persona: persona.Default(),
	}
}

// Snapshot returns the current UI-observable state.
func (o *Orchestrator) Snapshot(ctx context.Context) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(ctx)
}

func (o *Orchestrator) snapshotLocked(ctx context.Context) Snapshot {
	return Snapshot{
		Emotion:       o.current,
		Thinking:      o.thinking,
		Listening:     o.listening,
		CapturingFace: o.capturingFace,
		Analysis:      o.analysis,
		Persona:       o.persona,
		VideoDataURI:  o.videoURI,
		Messages:      o.conv.Load(ctx, o.userID),
	}
}

func (o *Orchestrator) publish(ctx context.Context) {
	o.mu.Lock()
	snap := o.snapshotLocked(ctx)
	o.mu.Unlock()
	o.sink.PublishState(o.userID, snap)
}

func (o *Orchestrator) notify(level, title, body string) {
	o.sink.PublishNotice(o.userID, Notice{Level: level, Title: title, Body: body})
}

// Submit runs the full utterance pipeline for typed text.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("orchestrator: empty utterance")
	}

	turn, err := o.beginTurn(ctx)
	if err != nil {
		return err
	}
	defer o.endTurn(ctx, turn)

	return o.runTurn(ctx, turn, text)
}

// beginTurn admits one synchronous pipeline: it sets the thinking flag,
// clears any stale generated video, and allocates the turn's correlation
// scope. While thinking is set no new submission is admitted.
func (o *Orchestrator) beginTurn(ctx context.Context) (uint64, error) {
	o.mu.Lock()
	if o.thinking || o.listening || o.capturingFace {
		o.mu.Unlock()
		return 0, ErrBusy
	}
	o.thinking = true
	o.turn++
	turn := o.turn
	o.videoURI = ""
	o.current = emotion.Thinking
	o.mu.Unlock()

	o.publish(ctx)
	return turn, nil
}

// endTurn always transitions back to Idle, whatever happened in between.
func (o *Orchestrator) endTurn(ctx context.Context, turn uint64) {
	o.mu.Lock()
	if o.turn == turn {
		o.thinking = false
	}
	o.mu.Unlock()
	o.publish(ctx)
}

// isActiveTurn guards background completion handlers: results that arrive
// after a newer turn started must not clobber shared UI state.
func (o *Orchestrator) isActiveTurn(turn uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn == turn
}

func (o *Orchestrator) runTurn(ctx context.Context, turn uint64, text string) error {
	// The user's message is appended before any analysis begins so the UI
	// never appears to lose an utterance, however slow the network is.
	userMsg := chat.New(chat.SenderUser, text)
	o.conv.Append(ctx, o.userID, userMsg)
	o.publish(ctx)

	o.mu.Lock()
	lang := o.persona.Language
	o.mu.Unlock()

	working := text
	if lang != persona.DefaultLanguage {
		translated, err := o.gw.Translate(ctx, text, lang)
		if err != nil {
			o.failTurn(ctx, "Lost in translation", "I couldn't switch languages just now.", err)
			return err
		}
		working = translated.TranslatedText
	}

	sentiment, err := o.gw.AnalyzeText(ctx, working)
	if err != nil {
		o.failTurn(ctx, "A quiet moment...", "I am unable to respond right now.", err)
		return err
	}
	fused := emotion.Classify(sentiment.Sentiment)

	o.mu.Lock()
	o.analysis.Text = sentiment.Sentiment
	o.mu.Unlock()

	reply, err := o.gw.GenerateReply(ctx, gateway.ReplyInput{
		EmotionLabel:      string(fused),
		UserInput:         working,
		PastConversations: o.historyLines(ctx),
	})
	if err != nil {
		o.failTurn(ctx, "A quiet moment...", "I am unable to respond right now.", err)
		return err
	}

	for _, effect := range ParseToolCalls(reply.ToolCalls) {
		o.applyEffect(effect)
	}

	aiMsg := chat.New(chat.SenderAI, reply.Response)
	o.conv.Append(ctx, o.userID, aiMsg)

	// Speech and video run detached: the text reply is already committed
	// and their results attach whenever they arrive, in any order.
	go o.synthesizeSpeech(aiMsg)
	go o.synthesizeVideo(turn, reply.Response)

	o.mu.Lock()
	o.current = fused
	o.mu.Unlock()
	o.publish(ctx)
	return nil
}

// failTurn applies the synchronous-path failure policy: surface an error,
// force the emotion to sad, and let the deferred endTurn return to Idle.
func (o *Orchestrator) failTurn(ctx context.Context, title, body string, err error) {
	log.Printf("[orchestrator] turn failed for user=%s: %v", o.userID, err)
	o.mu.Lock()
	o.current = emotion.Sad
	o.mu.Unlock()
	o.notify("error", title, body)
	o.publish(ctx)
}

// synthesizeSpeech runs in the background after the reply text is shown.
// The finished clip is attached to its message by correlation id, falling
// back to a text+sender match, so a late arrival degrades gracefully
// instead of corrupting the log.
func (o *Orchestrator) synthesizeSpeech(msg chat.Message) {
	ctx := context.Background()

	o.mu.Lock()
	gender := o.persona.Gender
	o.mu.Unlock()

	speech, err := o.gw.SynthesizeSpeech(ctx, msg.Text, gender)
	if err != nil {
		if gateway.IsRateLimited(err) {
			o.notify("warning", "Catching my breath", "I'm speaking a little too much right now. My voice will be back shortly.")
		} else {
			o.notify("warning", "Voice trouble", "I couldn't say that out loud this time.")
		}
		log.Printf("[orchestrator] speech synthesis failed for user=%s: %v", o.userID, err)
		return
	}

	match := store.MessageMatch{ID: msg.ID, Text: msg.Text, Sender: chat.SenderAI}
	if !o.conv.AttachAudio(ctx, o.userID, match, string(speech.AudioDataURI)) {
		// The message may have been cleared meanwhile; nothing to do.
		return
	}
	o.publish(ctx)
}

// synthesizeVideo runs in the background; its result only lands if this is
// still the active turn. A billing restriction is suppressed entirely.
func (o *Orchestrator) synthesizeVideo(turn uint64, text string) {
	ctx := context.Background()

	o.mu.Lock()
	avatar := o.persona.AvatarDataURI
	o.mu.Unlock()
	if avatar == "" {
		return
	}

	video, err := o.gw.SynthesizeTalkingVideo(ctx, media.DataURI(avatar), text)
	if err != nil {
		if !gateway.IsBillingRestricted(err) {
			o.notify("warning", "Camera shy", "I'm having a bit of trouble with video right now.")
		}
		log.Printf("[orchestrator] video synthesis failed for user=%s: %v", o.userID, err)
		return
	}

	o.mu.Lock()
	if o.turn != turn {
		o.mu.Unlock()
		return
	}
	o.videoURI = video.VideoDataURI
	o.mu.Unlock()
	o.publish(ctx)
}

// SubmitVoice records a clip from the live device, then feeds it through
// the voice pipeline.
func (o *Orchestrator) SubmitVoice(ctx context.Context) error {
	if err := o.beginCapture(ctx, media.KindAudio); err != nil {
		return err
	}

	clip, err := o.capture.StartAudioCapture(ctx, o.cfg.AudioMaxDuration)
	if err != nil {
		o.endCapture(ctx, media.KindAudio)
		if errors.Is(err, media.ErrPermissionDenied) {
			o.notify("error", "Microphone unavailable", "I need microphone access to listen.")
		} else {
			o.notify("error", "Listening trouble", "I couldn't record that. Please try again.")
		}
		return err
	}

	return o.analyzeVoiceClip(ctx, clip)
}

// SubmitVoiceClip analyzes an already-encoded audio clip (recorded live or
// uploaded as a voice note): voice tone and transcription run concurrently,
// then the transcript enters the text pipeline. Either analysis failing is
// terminal for the attempt.
func (o *Orchestrator) SubmitVoiceClip(ctx context.Context, clip media.DataURI) error {
	if !clip.Valid() {
		return fmt.Errorf("orchestrator: invalid audio payload")
	}
	if err := o.beginCapture(ctx, media.KindAudio); err != nil {
		return err
	}
	return o.analyzeVoiceClip(ctx, clip)
}

// analyzeVoiceClip runs with the listening flag already claimed and releases
// it on every path before the transcript enters the text pipeline.
func (o *Orchestrator) analyzeVoiceClip(ctx context.Context, clip media.DataURI) error {
	var (
		voice      *gateway.VoiceAnalysis
		transcript *gateway.Transcript
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		voice, err = o.gw.AnalyzeVoice(gctx, clip)
		return err
	})
	g.Go(func() error {
		var err error
		transcript, err = o.gw.Transcribe(gctx, clip)
		return err
	})
	if err := g.Wait(); err != nil {
		o.mu.Lock()
		o.listening = false
		o.current = emotion.Sad
		o.mu.Unlock()
		o.notify("error", "Hmm...", "I couldn't make out that audio. Please try again.")
		o.publish(ctx)
		return err
	}

	o.mu.Lock()
	o.analysis.Voice = &VoiceChannel{
		Emotion: voice.Emotion,
		Pitch:   voice.Pitch,
		Tone:    voice.Tone,
		Rhythm:  voice.Rhythm,
	}
	o.current = emotion.Classify(voice.Emotion)
	o.listening = false
	o.mu.Unlock()
	o.publish(ctx)

	if transcript.Transcript == "" {
		o.notify("warning", "All quiet", "I couldn't hear any words in that clip.")
		return nil
	}
	return o.Submit(ctx, transcript.Transcript)
}

// SubmitFace captures one frame and runs the facial branch in isolation: it
// updates the face channel, fuses the emotion, and may override the voice
// gender — but does not produce a conversational turn.
func (o *Orchestrator) SubmitFace(ctx context.Context) error {
	if err := o.beginCapture(ctx, media.KindFace); err != nil {
		return err
	}

	frame, err := o.capture.StartFaceCapture(ctx, o.cfg.FaceSettleDelay)
	o.endCapture(ctx, media.KindFace)
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) {
			o.notify("error", "Camera unavailable", "I need camera access to see you.")
		} else {
			o.notify("error", "Camera trouble", "I couldn't take that snapshot. Please try again.")
		}
		return err
	}

	face, err := o.gw.AnalyzeFace(ctx, frame)
	if err != nil {
		o.mu.Lock()
		o.current = emotion.Sad
		o.mu.Unlock()
		o.notify("error", "Hmm...", "I couldn't read your expression just now.")
		o.publish(ctx)
		return err
	}

	o.mu.Lock()
	o.analysis.Face = face.EmotionalState
	o.current = emotion.Classify(face.EmotionalState)
	if g, ok := persona.ParseGender(face.Gender); ok {
		o.persona.Gender = g
	}
	o.mu.Unlock()
	o.publish(ctx)
	return nil
}

// beginCapture sets the capture flag for one mode; the two modes are
// mutually exclusive with each other and with an active turn.
func (o *Orchestrator) beginCapture(ctx context.Context, kind media.Kind) error {
	o.mu.Lock()
	if o.thinking || o.listening || o.capturingFace {
		o.mu.Unlock()
		return ErrBusy
	}
	switch kind {
	case media.KindAudio:
		o.listening = true
		o.current = emotion.Listening
	case media.KindFace:
		o.capturingFace = true
	}
	o.mu.Unlock()
	o.publish(ctx)
	return nil
}

func (o *Orchestrator) endCapture(ctx context.Context, kind media.Kind) {
	o.mu.Lock()
	switch kind {
	case media.KindAudio:
		o.listening = false
		if o.current == emotion.Listening {
			o.current = emotion.Neutral
		}
	case media.KindFace:
		o.capturingFace = false
	}
	o.mu.Unlock()
	o.publish(ctx)
}

// StopCapture ends an active recording early.
func (o *Orchestrator) StopCapture() {
	o.capture.Stop()
}

// ClearConversation resets the log to a fresh welcome message.
func (o *Orchestrator) ClearConversation(ctx context.Context) {
	o.conv.Clear(ctx, o.userID)
	o.mu.Lock()
	o.current = emotion.Neutral
	o.videoURI = ""
	o.analysis = Analysis{}
	o.mu.Unlock()
	o.publish(ctx)
}

// SetLanguage switches the target language replies are spoken in.
func (o *Orchestrator) SetLanguage(ctx context.Context, language string) {
	if language == "" {
		return
	}
	o.mu.Lock()
	o.persona.Language = language
	o.mu.Unlock()
	o.publish(ctx)
}

// SetGender switches the synthesized voice explicitly.
func (o *Orchestrator) SetGender(ctx context.Context, g persona.Gender) {
	o.mu.Lock()
	o.persona.Gender = g
	o.mu.Unlock()
	o.publish(ctx)
}

// SetAvatar installs a freshly generated avatar image.
func (o *Orchestrator) SetAvatar(ctx context.Context, avatar media.DataURI) {
	o.mu.Lock()
	o.persona.AvatarDataURI = string(avatar)
	o.mu.Unlock()
	o.publish(ctx)
}

// historyLines renders the full conversation for reply generation.
func (o *Orchestrator) historyLines(ctx context.Context) []string {
	messages := o.conv.Load(ctx, o.userID)
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, string(m.Sender)+": "+m.Text)
	}
	return lines
}
