package main

import (
	"context"
	"log"

	httpadapter "github.com/vivaprep/defense-agent/internal/adapters/http"
	"github.com/vivaprep/defense-agent/internal/adapters/llm"
	firestorestore "github.com/vivaprep/defense-agent/internal/adapters/storage/firestore"
	memstore "github.com/vivaprep/defense-agent/internal/adapters/storage/memory"
	"github.com/vivaprep/defense-agent/internal/adapters/voice"
	"github.com/vivaprep/defense-agent/internal/app/defense"
	feedbackapp "github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/app/questions"
	sessionapp "github.com/vivaprep/defense-agent/internal/app/session"
	"github.com/vivaprep/defense-agent/internal/config"
	"github.com/vivaprep/defense-agent/internal/domain"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	// Evaluator: mock or Gemini by config (mock is the local default).
	var evaluator domain.Evaluator
	if cfg.UseMockLLM {
		log.Println("[LLM] Using mock evaluator")
		evaluator = llm.NewMockEvaluator()
	} else {
		log.Println("[LLM] Using Gemini evaluator")
		client, err := llm.NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.ModelName)
		if err != nil {
			log.Fatalf("error initializing Gemini evaluator: %v", err)
		}
		evaluator = client
	}

	// Storage: Firestore or Memory
	var sessionStore domain.SessionStore
	var feedbackStore domain.FeedbackStore

	switch cfg.StorageBackend {
	case "firestore":
		log.Printf("[STORE] Using Firestore storage (project=%s)", cfg.GCPProjectID)
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("error initializing Firestore store: %v", err)
		}

		// 1 store, implements 2 interfaces
		sessionStore = fsStore
		feedbackStore = fsStore

	default:
		log.Println("[STORE] Using in-memory storage")
		sessionStore = memstore.NewSessionStore()
		feedbackStore = memstore.NewFeedbackStore()
	}

	transport := voice.NewClient(cfg.VoiceAPIURL, cfg.VoiceAPIKey)

	questionSynth := questions.NewSynthesizer(evaluator)
	feedbackSynth := feedbackapp.NewSynthesizer(evaluator, feedbackStore, sessionStore)
	sessionSvc := sessionapp.NewService(sessionStore, feedbackStore, questionSynth)

	registry := defense.NewRegistry(
		transport,
		sessionStore,
		feedbackSynth,
		defense.DefaultTiming(),
		cfg.PrepWorkflowID,
		cfg.ExamWorkflowID,
		cfg.UseExternalEval,
	)

	router := httpadapter.NewRouter(sessionSvc, registry, cfg.JWTSecret, cfg.VoiceWebhookKey)

	addr := ":" + cfg.Port
	log.Println("Defense API listening on", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal(err)
	}
}
