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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/citta/backend/internal/config"
	"github.com/zhouzirui/citta/backend/internal/handler"
	"github.com/zhouzirui/citta/backend/internal/handler/session"
	speechModel "github.com/zhouzirui/citta/backend/internal/model/speech"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/ai"
	"github.com/zhouzirui/citta/backend/internal/service/live"
	"github.com/zhouzirui/citta/backend/internal/service/speech"
	tutoringService "github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/voice"
	"github.com/zhouzirui/citta/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	repo, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer repo.Close()

	modes := tutoring.NewMemoryModeStore(tutoring.Seed())

	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to create chat model: %v", err)
		}
	} else {
		log.Printf("%s model credentials not configured, tutoring replies are disabled", cfg.AI.Provider)
	}

	var tutor tutoringService.Tutor
	if chatModel != nil {
		aiService, err := ai.NewService(ctx, chatModel, modes, ai.Config{Timeout: cfg.AI.Timeout, Retry: cfg.AI.Retry})
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
		} else {
			tutor = aiService
			log.Printf("AI service initialized with provider %s", cfg.AI.Provider)
		}
	}

	tutoringSvc := tutoringService.NewService(repo, tutor, modes, tutoringService.Options{UploadDir: cfg.Server.UploadDir})

	voiceAgent, err := voice.NewAgent(ctx, chatModel, voice.Config{Timeout: cfg.AI.Timeout})
	if err != nil {
		log.Printf("warning: failed to initialize voice agent, live replies fall back: %v", err)
		voiceAgent, _ = voice.NewAgent(ctx, nil, voice.Config{})
	}

	deps := handler.Dependencies{
		Modes:          modes,
		Tutoring:       tutoringSvc,
		Store:          repo,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Session: session.Options{
			ServerPaced:  cfg.Playback.ServerPaced,
			DefaultDelay: time.Duration(cfg.Playback.DefaultDelayMs) * time.Millisecond,
		},
	}

	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechService = speech.NewService(&speechModel.SpeechConfig{
			AppID:          cfg.Speech.AppID,
			AccessToken:    cfg.Speech.AccessToken,
			APIKey:         cfg.Speech.APIKey,
			ConcurrentMode: cfg.Speech.ConcurrentMode,
			ASRLanguage:    cfg.Speech.ASRLanguage,
			ASRFormat:      cfg.Live.AudioFormat,
			ASRSampleRate:  cfg.Live.SampleRate,
			ASREndWindow:   cfg.Speech.ASREndWindow,
			TTSVoice:       cfg.Speech.TTSVoice,
			TTSSpeed:       cfg.Speech.TTSSpeed,
			TTSVolume:      cfg.Speech.TTSVolume,
			TTSLanguage:    cfg.Speech.TTSLanguage,
			TTSFormat:      cfg.Speech.TTSFormat,
			Timeout:        cfg.Speech.Timeout,
		})
		defer speechService.Cleanup()
		deps.Speech = speechService

		deps.Live = live.NewCoordinator(live.Deps{
			Recognizer: live.RecognizerFunc(func(ctx context.Context, req speechModel.StreamRequest) (live.Stream, error) {
				return speechService.OpenStream(ctx, req)
			}),
			Decider:     voiceAgent,
			Synthesizer: speechService,
			Loader:      tutoringSvc,
			Streams:     speechService.Streams(),
		}, live.Config{
			SuppressStale: cfg.Live.SuppressStale,
			AudioFormat:   cfg.Live.AudioFormat,
			SampleRate:    cfg.Live.SampleRate,
			Language:      cfg.Speech.ASRLanguage,
		})
		defer deps.Live.Shutdown()
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("speech credentials not configured, live conversation is disabled")
	}

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (store.Repository, error) {
	if cfg.Driver == config.StoreMemory {
		log.Println("using in-memory store")
		return store.NewMemory(), nil
	}
	sqliteStore, err := store.NewSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.Printf("using sqlite store at %s", cfg.Path)
	return sqliteStore, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Citta backend listening on %s", addr)
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
