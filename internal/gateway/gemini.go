package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/persona"
)

const faceAnalysisPrompt = `You are an AI expert in analyzing human faces.
Given a photo, analyze the facial expressions to determine the emotional state and the apparent gender of the person.
Describe the emotional state as concisely as possible (e.g., "smiling", "frowning").
For gender, respond with "male", "female", or "unknown".
Respond ONLY with a JSON object carrying the keys "emotionalState" (string) and "gender" (string).`

const voiceAnalysisPrompt = `You are an AI expert in vocal emotion analysis.
Given an audio clip, detect the dominant emotion, the pitch (e.g. high, low, varied), the tone (e.g. warm, sharp, trembling) and the speech rhythm (e.g. fast, slow, hesitant).
Respond ONLY with a JSON object carrying the keys "emotion" (string), "confidence" (number between 0 and 1), "pitch" (string), "tone" (string) and "rhythm" (string).`

const transcriptionPrompt = `Transcribe the spoken words in the audio clip verbatim.
Respond ONLY with a JSON object carrying the key "transcript" (string).`

const avatarImagePrompt = `Generate a warm, friendly digital avatar portrait inspired by the person in this photo.
Keep the likeness recognizable but rendered in a soft illustrated style suitable as a companion avatar.`

// MediaOptions configures the Gemini-backed media operations.
type MediaOptions struct {
	AnalysisModel string
	SpeechModel   string
	ImageModel    string
	VideoModel    string

	FemaleVoice string
	MaleVoice   string

	// PollInterval paces the long-running video operation checks.
	PollInterval time.Duration
	// VideoMaxWait bounds video polling; expiry surfaces ErrVideoTimedOut.
	// Zero means wait forever.
	VideoMaxWait time.Duration

	// APIKey is needed again when the finished video must be downloaded
	// from its result URI.
	APIKey string
}

func (o MediaOptions) withDefaults() MediaOptions {
	if o.AnalysisModel == "" {
		o.AnalysisModel = "gemini-2.5-flash"
	}
	if o.SpeechModel == "" {
		o.SpeechModel = "gemini-2.5-flash-preview-tts"
	}
	if o.ImageModel == "" {
		o.ImageModel = "gemini-2.0-flash-preview-image-generation"
	}
	if o.VideoModel == "" {
		o.VideoModel = "veo-2.0-generate-001"
	}
	if o.FemaleVoice == "" {
		o.FemaleVoice = "Leda"
	}
	if o.MaleVoice == "" {
		o.MaleVoice = "Puck"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	return o
}

// MediaService runs the media gateway operations (face, voice, speech,
// avatar image and talking video) against the Gemini API.
type MediaService struct {
	client *genai.Client
	opts   MediaOptions
	httpc  *http.Client
}

// NewMediaService wraps an already-constructed genai client.
func NewMediaService(client *genai.Client, opts MediaOptions) *MediaService {
	return &MediaService{
		client: client,
		opts:   opts.withDefaults(),
		httpc:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// AnalyzeFace detects the emotional state and apparent gender in a snapshot.
func (s *MediaService) AnalyzeFace(ctx context.Context, image media.DataURI) (*FaceAnalysis, error) {
	var out FaceAnalysis
	if err := s.analyzeBlob(ctx, KindFace, faceAnalysisPrompt, image, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeVoice detects the emotional characteristics of an audio clip.
func (s *MediaService) AnalyzeVoice(ctx context.Context, audio media.DataURI) (*VoiceAnalysis, error) {
	var out VoiceAnalysis
	if err := s.analyzeBlob(ctx, KindVoice, voiceAnalysisPrompt, audio, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe recognizes the spoken text of an audio clip.
func (s *MediaService) Transcribe(ctx context.Context, audio media.DataURI) (*Transcript, error) {
	var out Transcript
	if err := s.analyzeBlob(ctx, KindTranscription, transcriptionPrompt, audio, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MediaService) analyzeBlob(ctx context.Context, kind Kind, prompt string, blob media.DataURI, v any) error {
	mimeType, data, err := blob.Decode()
	if err != nil {
		return remoteErr(kind, err)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mimeType),
		},
	}}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	resp, err := s.client.Models.GenerateContent(ctx, s.opts.AnalysisModel, contents, cfg)
	if err != nil {
		return remoteErr(kind, err)
	}

	text := firstText(resp)
	if text == "" {
		return remoteErr(kind, fmt.Errorf("model returned no text"))
	}
	if err := decodeModelJSON(text, v); err != nil {
		return remoteErr(kind, fmt.Errorf("decode analysis output: %w", err))
	}
	return nil
}

// SynthesizeSpeech renders text as audio using the voice mapped to gender.
func (s *MediaService) SynthesizeSpeech(ctx context.Context, text string, gender persona.Gender) (*Speech, error) {
	voice := s.opts.FemaleVoice
	if gender == persona.Male {
		voice = s.opts.MaleVoice
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(text)},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.opts.SpeechModel, contents, cfg)
	if err != nil {
		return nil, remoteErr(KindSpeech, err)
	}

	mimeType, data := firstBlob(resp)
	if len(data) == 0 {
		return nil, remoteErr(KindSpeech, fmt.Errorf("model returned no audio"))
	}
	if mimeType == "" {
		mimeType = "audio/mp3"
	}
	return &Speech{AudioDataURI: media.EncodeDataURI(mimeType, data)}, nil
}

// SynthesizeAvatarImage turns a user photo into the companion avatar.
func (s *MediaService) SynthesizeAvatarImage(ctx context.Context, photo media.DataURI) (*AvatarImage, error) {
	mimeType, data, err := photo.Decode()
	if err != nil {
		return nil, remoteErr(KindAvatarImage, err)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText(avatarImagePrompt),
			genai.NewPartFromBytes(data, mimeType),
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.opts.ImageModel, contents, cfg)
	if err != nil {
		return nil, remoteErr(KindAvatarImage, err)
	}

	imgMime, imgData := firstBlob(resp)
	if len(imgData) == 0 {
		return nil, remoteErr(KindAvatarImage, fmt.Errorf("model returned no image"))
	}
	if imgMime == "" {
		imgMime = "image/png"
	}
	return &AvatarImage{AvatarDataURI: media.EncodeDataURI(imgMime, imgData)}, nil
}

// SynthesizeTalkingVideo animates the avatar speaking the given text. Video
// generation is long-running: the returned operation is polled at a fixed
// interval until it completes, errors, or the configured bound expires, then
// the asset is fetched and re-encoded as a self-contained data URI.
func (s *MediaService) SynthesizeTalkingVideo(ctx context.Context, avatar media.DataURI, text string) (*AvatarVideo, error) {
	mimeType, data, err := avatar.Decode()
	if err != nil {
		return nil, remoteErr(KindAvatarVideo, err)
	}

	image := &genai.Image{ImageBytes: data, MIMEType: mimeType}
	cfg := &genai.GenerateVideosConfig{
		AspectRatio:      "16:9",
		PersonGeneration: "allow_adult",
	}

	op, err := s.client.Models.GenerateVideos(ctx, s.opts.VideoModel, text, image, cfg)
	if err != nil {
		return nil, remoteErr(KindAvatarVideo, err)
	}

	var deadline time.Time
	if s.opts.VideoMaxWait > 0 {
		deadline = time.Now().Add(s.opts.VideoMaxWait)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, remoteErr(KindAvatarVideo, ErrVideoTimedOut)
		}
		select {
		case <-ctx.Done():
			return nil, remoteErr(KindAvatarVideo, ctx.Err())
		case <-ticker.C:
		}
		op, err = s.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, remoteErr(KindAvatarVideo, err)
		}
	}

	// A finished operation carries either Error or Response, never both.
	if op.Error != nil {
		return nil, remoteErr(KindAvatarVideo, videoOperationError(op.Error))
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, remoteErr(KindAvatarVideo, fmt.Errorf("operation finished without a video"))
	}

	video := op.Response.GeneratedVideos[0].Video
	videoMime := video.MIMEType
	if videoMime == "" {
		videoMime = "video/mp4"
	}
	if len(video.VideoBytes) > 0 {
		return &AvatarVideo{VideoDataURI: media.EncodeDataURI(videoMime, video.VideoBytes)}, nil
	}
	if video.URI == "" {
		return nil, remoteErr(KindAvatarVideo, fmt.Errorf("video has neither bytes nor uri"))
	}

	bytes, err := s.downloadVideo(ctx, video.URI)
	if err != nil {
		return nil, remoteErr(KindAvatarVideo, err)
	}
	log.Printf("[gateway] downloaded generated video, size=%d", len(bytes))
	return &AvatarVideo{VideoDataURI: media.EncodeDataURI(videoMime, bytes)}, nil
}

// videoOperationError turns the status payload of a failed video operation
// into an error that keeps the service's message, so cause inspection
// (rate limits, billing restrictions) still works downstream.
func videoOperationError(status map[string]any) error {
	if msg, ok := status["message"].(string); ok && msg != "" {
		return fmt.Errorf("video operation failed: %s", msg)
	}
	return fmt.Errorf("video operation failed: %v", status)
}

func (s *MediaService) downloadVideo(ctx context.Context, rawURI string) ([]byte, error) {
	uri := rawURI
	if s.opts.APIKey != "" && !strings.Contains(uri, "key=") {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri += sep + "key=" + url.QueryEscape(s.opts.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download video: status %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// firstText concatenates the text parts of the first candidate.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// firstBlob returns the first inline binary part of the first candidate.
func firstBlob(resp *genai.GenerateContentResponse) (mimeType string, data []byte) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return p.InlineData.MIMEType, p.InlineData.Data
		}
	}
	return "", nil
}
