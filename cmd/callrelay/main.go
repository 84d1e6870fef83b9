package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calllog"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/config"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/httpapi"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/observability"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/realtime"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/registry"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/relay"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/toolcall"
)

// bridgeDialer opens and initializes one reasoning-endpoint socket per call.
type bridgeDialer struct {
	base realtime.Config
}

func (d bridgeDialer) Dial(ctx context.Context, cfg agentcfg.PerCallConfig) (relay.Bridge, error) {
	rc := d.base
	if strings.TrimSpace(cfg.Model) != "" {
		rc.Model = cfg.Model
	}
	client, err := realtime.Dial(ctx, rc)
	if err != nil {
		return nil, err
	}
	if err := client.InitializeSession(cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	agents, err := agentcfg.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("agent config store init failed: %v", err)
	}
	defer agents.Close()

	// Without a configuration database there is still one usable agent,
	// seeded from the environment.
	if seedable, ok := agents.(*agentcfg.InMemoryStore); ok {
		numbers := []string{}
		if cfg.DefaultAgentNumber != "" {
			numbers = append(numbers, cfg.DefaultAgentNumber)
		}
		seedable.Put(agentcfg.PerCallConfig{
			AgentID:      cfg.DefaultAgentID,
			Model:        cfg.RealtimeModel,
			Voice:        cfg.DefaultAgentVoice,
			Temperature:  0.8,
			SystemPrompt: cfg.DefaultAgentPrompt,
			Greeting:     cfg.DefaultAgentGreeting,
			OutputMode:   agentcfg.OutputMode(cfg.DefaultAgentOutputMode),
		}, numbers...)
		log.Printf("agent config store: in-memory, seeded agent %q", cfg.DefaultAgentID)
	} else {
		log.Printf("agent config store: postgres")
	}

	logs, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call log store init failed: %v", err)
	}
	defer logs.Close()

	sessions := calls.NewStore()
	reg := registry.New(sessions, logs, metrics, cfg.CallInactivityTimeout)

	dispatcher := toolcall.NewDispatcher(cfg.ToolHTTPTimeout, cfg.EndCallGrace, func(callID string) {
		log.Printf("ending call %s after goodbye grace period", callID)
		reg.RemoveByCall(callID)
	})

	var synthesis synth.Provider
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		synthesis = synth.NewElevenLabsProvider(synth.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		log.Printf("synthesis provider: elevenlabs")
	} else {
		synthesis = synth.NewMockProvider()
		log.Printf("synthesis provider: mock (no elevenlabs key)")
	}

	dialer := bridgeDialer{base: realtime.Config{
		WSBaseURL: cfg.RealtimeWSBaseURL,
		APIKey:    cfg.RealtimeAPIKey,
		Model:     cfg.RealtimeModel,
	}}

	api := httpapi.New(cfg, sessions, agents, reg, dialer, synthesis, dispatcher, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	reg.StartReaper(runCtx, cfg.ReaperInterval)

	go func() {
		log.Printf("call relay listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
