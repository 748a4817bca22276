package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/emotifriend/backend/internal/config"
	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/handler"
	"github.com/emotifriend/backend/internal/handler/events"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/orchestrator"
	"github.com/emotifriend/backend/internal/store"
	"github.com/emotifriend/backend/internal/store/kv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Conversation storage
	kvStore, err := kv.NewBadger(kv.BadgerOptions{
		Dir:      cfg.Storage.Dir,
		InMemory: cfg.Storage.InMemory,
	})
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			log.Printf("warning: closing conversation store: %v", err)
		}
	}()
	conversations := store.NewConversation(kvStore)

	// Text model (sentiment, translation, reply generation)
	if !cfg.AI.Enabled() {
		log.Fatal("Ark credentials missing: set ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize chat model: %v", err)
	}
	textSvc := gateway.NewTextService(chatModel)
	log.Println("chat model initialized")

	// Media models (face/voice analysis, speech, avatar image and video)
	if !cfg.Gemini.Enabled() {
		log.Fatal("GEMINI_API_KEY missing: media analysis and generation need it")
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.Gemini.APIKey})
	if err != nil {
		log.Fatalf("failed to initialize genai client: %v", err)
	}
	mediaSvc := gateway.NewMediaService(genaiClient, gateway.MediaOptions{
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
	log.Println("media models initialized")

	gw := gateway.NewService(textSvc, mediaSvc)

	hub := media.NewHub()
	broker := events.NewBroker()
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Gateway:      gw,
		Conversation: conversations,
		Devices:      hub,
		Sink:         broker,
		Config: orchestrator.Config{
			AudioMaxDuration: cfg.Capture.AudioMaxDuration,
			FaceSettleDelay:  cfg.Capture.FaceSettleDelay,
		},
	})

	router := handler.NewRouter(registry, broker, hub, gw)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("EmotiFriend backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
