// Package gateway abstracts the remote analysis and generation services the
// orchestrator fans out to. Every operation takes a typed payload, returns a
// typed result, and keeps no state between calls, so callers may invoke them
// concurrently without coordination.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/persona"
)

// TextSentiment is the result of sentiment analysis on an utterance.
type TextSentiment struct {
	Sentiment  string   `json:"sentiment"`
	Score      float64  `json:"score"`
	Indicators []string `json:"indicators"`
}

// FaceAnalysis is the result of facial-expression analysis on a snapshot.
type FaceAnalysis struct {
	EmotionalState string `json:"emotionalState"`
	Gender         string `json:"gender"`
}

// VoiceAnalysis describes the vocal characteristics of an audio clip.
type VoiceAnalysis struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Pitch      string  `json:"pitch"`
	Tone       string  `json:"tone"`
	Rhythm     string  `json:"rhythm"`
}

// Transcript carries the recognized text of an audio clip.
type Transcript struct {
	Transcript string `json:"transcript"`
}

// Translation carries text rendered into the target language.
type Translation struct {
	TranslatedText string `json:"translatedText"`
}

// ReplyInput feeds adaptive reply generation.
type ReplyInput struct {
	EmotionLabel      string
	UserInput         string
	PastConversations []string
}

// ToolCall is a structured side-effect request emitted alongside a reply,
// distinct from the natural-language text. Arguments stay raw until the
// applier validates them against the named tool's schema.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Reply is the generated persona response plus any tool invocations.
type Reply struct {
	Response  string     `json:"response"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Speech is a synthesized audio clip.
type Speech struct {
	AudioDataURI media.DataURI `json:"audioDataUri"`
}

// AvatarImage is a generated avatar picture.
type AvatarImage struct {
	AvatarDataURI media.DataURI `json:"avatarDataUri"`
}

// AvatarVideo is a generated talking-avatar clip.
type AvatarVideo struct {
	VideoDataURI media.DataURI `json:"videoDataUri"`
}

// Analyzer covers the five independent remote analysis operations.
type Analyzer interface {
	AnalyzeText(ctx context.Context, text string) (*TextSentiment, error)
	AnalyzeFace(ctx context.Context, image media.DataURI) (*FaceAnalysis, error)
	AnalyzeVoice(ctx context.Context, audio media.DataURI) (*VoiceAnalysis, error)
	Transcribe(ctx context.Context, audio media.DataURI) (*Transcript, error)
	Translate(ctx context.Context, text, targetLanguage string) (*Translation, error)
}

// Generator covers the generation operations.
type Generator interface {
	GenerateReply(ctx context.Context, in ReplyInput) (*Reply, error)
	SynthesizeSpeech(ctx context.Context, text string, gender persona.Gender) (*Speech, error)
	SynthesizeAvatarImage(ctx context.Context, photo media.DataURI) (*AvatarImage, error)
	SynthesizeTalkingVideo(ctx context.Context, avatar media.DataURI, text string) (*AvatarVideo, error)
}

// Gateway is the full capability set the orchestrator depends on.
type Gateway interface {
	Analyzer
	Generator
}

// Service composes the text-model and media-model backends into one Gateway.
type Service struct {
	*TextService
	*MediaService
}

var _ Gateway = (*Service)(nil)

// NewService wires the two backends together.
func NewService(text *TextService, mediaSvc *MediaService) *Service {
	return &Service{TextService: text, MediaService: mediaSvc}
}
