// gatewaytester exercises the remote analysis and generation operations one
// at a time from the command line, against the real backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/emotifriend/backend/internal/config"
	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/persona"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	mode := flag.String("mode", "", "operation: sentiment, reply, translate, speech, transcribe, voice, face, avatar")
	text := flag.String("text", "", "input text (sentiment, reply, translate, speech)")
	file := flag.String("file", "", "input media file (transcribe, voice, face, avatar)")
	lang := flag.String("lang", "Spanish", "target language for translate")
	gender := flag.String("gender", "female", "voice gender for speech")
	out := flag.String("out", "", "output file for speech audio (default auto-generated)")
	timeout := flag.Duration("timeout", 90*time.Second, "request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "sentiment", "reply", "translate":
		runText(ctx, cfg, *mode, *text, *lang)
	case "speech", "transcribe", "voice", "face", "avatar":
		runMedia(ctx, cfg, *mode, *text, *file, *gender, *out)
	default:
		flag.Usage()
		log.Fatal("choose a mode with -mode")
	}
}

func runText(ctx context.Context, cfg *config.Config, mode, text, lang string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("this mode needs -text")
	}
	if !cfg.AI.Enabled() {
		log.Fatal("Ark credentials missing: set ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize chat model: %v", err)
	}
	svc := gateway.NewTextService(chatModel)

	switch mode {
	case "sentiment":
		res, err := svc.AnalyzeText(ctx, text)
		if err != nil {
			log.Fatalf("sentiment analysis failed: %v", err)
		}
		log.Printf("sentiment=%q score=%.2f indicators=%v", res.Sentiment, res.Score, res.Indicators)
	case "translate":
		res, err := svc.Translate(ctx, text, lang)
		if err != nil {
			log.Fatalf("translation failed: %v", err)
		}
		log.Printf("translated=%q", res.TranslatedText)
	case "reply":
		res, err := svc.GenerateReply(ctx, gateway.ReplyInput{
			EmotionLabel: "neutral",
			UserInput:    text,
		})
		if err != nil {
			log.Fatalf("reply generation failed: %v", err)
		}
		log.Printf("reply=%q toolCalls=%d", res.Response, len(res.ToolCalls))
		for _, call := range res.ToolCalls {
			log.Printf("  tool=%s args=%s", call.Name, call.Arguments)
		}
	}
}

func runMedia(ctx context.Context, cfg *config.Config, mode, text, file, gender, out string) {
	if !cfg.Gemini.Enabled() {
		log.Fatal("GEMINI_API_KEY missing")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.Gemini.APIKey})
	if err != nil {
		log.Fatalf("failed to initialize genai client: %v", err)
	}
	svc := gateway.NewMediaService(client, gateway.MediaOptions{
		AnalysisModel: cfg.Gemini.AnalysisModel,
		SpeechModel:   cfg.Gemini.SpeechModel,
		ImageModel:    cfg.Gemini.ImageModel,
		VideoModel:    cfg.Gemini.VideoModel,
		FemaleVoice:   cfg.Gemini.FemaleVoice,
		MaleVoice:     cfg.Gemini.MaleVoice,
		PollInterval:  cfg.Gemini.PollInterval,
		VideoMaxWait:  cfg.Gemini.VideoMaxWait,
		APIKey:        cfg.Gemini.APIKey,
	})

	switch mode {
	case "speech":
		if strings.TrimSpace(text) == "" {
			log.Fatal("speech mode needs -text")
		}
		g, ok := persona.ParseGender(gender)
		if !ok {
			log.Fatalf("unknown gender %q", gender)
		}
		res, err := svc.SynthesizeSpeech(ctx, text, g)
		if err != nil {
			log.Fatalf("speech synthesis failed: %v", err)
		}
		mimeType, data, err := res.AudioDataURI.Decode()
		if err != nil {
			log.Fatalf("decode synthesized audio: %v", err)
		}
		if out == "" {
			out = fmt.Sprintf("speech-output-%d%s", time.Now().Unix(), extensionFor(mimeType))
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			log.Fatalf("write audio file: %v", err)
		}
		log.Printf("speech written to %s (%s, %d bytes)", out, mimeType, len(data))
	case "transcribe":
		res, err := svc.Transcribe(ctx, loadDataURI(file))
		if err != nil {
			log.Fatalf("transcription failed: %v", err)
		}
		log.Printf("transcript=%q", res.Transcript)
	case "voice":
		res, err := svc.AnalyzeVoice(ctx, loadDataURI(file))
		if err != nil {
			log.Fatalf("voice analysis failed: %v", err)
		}
		log.Printf("emotion=%q confidence=%.2f pitch=%q tone=%q rhythm=%q",
			res.Emotion, res.Confidence, res.Pitch, res.Tone, res.Rhythm)
	case "face":
		res, err := svc.AnalyzeFace(ctx, loadDataURI(file))
		if err != nil {
			log.Fatalf("face analysis failed: %v", err)
		}
		log.Printf("emotionalState=%q gender=%q", res.EmotionalState, res.Gender)
	case "avatar":
		res, err := svc.SynthesizeAvatarImage(ctx, loadDataURI(file))
		if err != nil {
			log.Fatalf("avatar generation failed: %v", err)
		}
		log.Printf("avatar generated (%d chars)", len(res.AvatarDataURI))
	}
}

func loadDataURI(path string) media.DataURI {
	if path == "" {
		log.Fatal("this mode needs -file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return media.EncodeDataURI(mimeType, data)
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp3") || strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	case strings.Contains(mimeType, "pcm") || strings.Contains(mimeType, "L16"):
		return ".pcm"
	default:
		return ".bin"
	}
}
