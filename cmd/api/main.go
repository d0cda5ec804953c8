package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Feddakalkun/comfyuifeddafront/internal/assistant"
	"github.com/Feddakalkun/comfyuifeddafront/internal/audio"
	"github.com/Feddakalkun/comfyuifeddafront/internal/chat"
	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/health"
	"github.com/Feddakalkun/comfyuifeddafront/internal/http/handlers"
	httpapi "github.com/Feddakalkun/comfyuifeddafront/internal/http/httpapi"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
	"github.com/Feddakalkun/comfyuifeddafront/internal/slot"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

// page is one UI surface with its own state and last-job slot.
type page struct {
	name    string
	profile string
}

var pages = []page{
	{name: "image", profile: "z-image"},
	{name: "video", profile: "lipsync"},
	{name: "chat", profile: "z-image"},
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	engine := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.ComfyURL,
		ClientPrefix:   cfg.ClientIDPrefix,
		Logger:         &logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	llm := ollama.NewClient(ollama.Options{BaseURL: cfg.OllamaURL, Logger: &logger})
	media := audio.NewClient(audio.Options{BaseURL: cfg.AudioURL, Logger: &logger})

	profiles := workflow.DefaultProfiles()
	if cfg.ProfilesFile != "" {
		if err := profiles.LoadProfileFile(cfg.ProfilesFile); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.ProfilesFile).Msg("failed to load profiles")
		}
	}
	templates := workflow.NewDirLoader(cfg.WorkflowDir, &logger)
	patcher := workflow.NewPatcher(nil)

	var rdb *redis.Client
	if cfg.SlotBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
	}

	engines := pageEngines(engine, pages)
	runners := make(map[string]*generation.Runner, len(pages))
	for _, p := range pages {
		pageEngine := engines[p.name]
		store, err := newSlot(baseCtx, cfg, rdb, p.name+".last")
		if err != nil {
			logger.Fatal().Err(err).Str("page", p.name).Msg("failed to open job slot")
		}
		runner, err := generation.NewRunner(generation.Options{
			Page:           p.name,
			DefaultProfile: p.profile,
			Engine:         pageEngine,
			Channel:        pageEngine.NewChannel(),
			Templates:      templates,
			Profiles:       profiles,
			Patcher:        patcher,
			Slot:           store,
			Poll:           generation.PollConfig{Interval: cfg.PollInterval, MaxAttempts: cfg.PollAttempts},
			Logger:         &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("page", p.name).Msg("failed to build page")
		}
		runners[p.name] = runner
		logger.Debug().Str("page", p.name).Str("client_id", pageEngine.ClientID()).Msg("page engine session")
		// A job left running by a previous process is picked up again.
		if err := runner.StartResume(baseCtx); err != nil && !errors.Is(err, generation.ErrNothingToResume) {
			logger.Warn().Err(err).Str("page", p.name).Msg("could not resume last job")
		}
	}

	agent, err := chat.NewAgent(chat.AgentOptions{
		LLM:          llm,
		Images:       runners["chat"],
		DefaultModel: cfg.ChatModel,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build chat agent")
	}

	monitor := health.NewMonitor(health.Options{
		Engine:      engine.Alive,
		LLM:         llm.Alive,
		EngineEvery: cfg.EngineProbe,
		LLMEvery:    cfg.LLMProbe,
		Logger:      &logger,
	})
	go func() {
		if err := monitor.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("health monitor stopped")
		}
	}()

	app := handlers.NewApp(handlers.App{
		Logger:         &logger,
		Engine:         engine,
		Pages:          runners,
		Monitor:        monitor,
		Models:         llm,
		Assistant:      assistant.New(llm, cfg.AssistantModel, &logger),
		Chat:           agent,
		Media:          media,
		BaseContext:    baseCtx,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:            &logger,
		AllowedOrigins:    cfg.AllowedOrigins,
		GeneratePerMinute: cfg.GenerateRatePerMinute,
	})
	server := infra.NewHTTPServer(baseCtx, cfg, router)

	go func() {
		logger.Info().Str("engine", cfg.ComfyURL).Str("client_id", engine.ClientID()).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	for _, runner := range runners {
		runner.Close()
	}
	logger.Info().Msg("server stopped")
}

// pageEngines gives every page its own engine client id. Pages run jobs at
// the same time, and the engine keeps one progress socket per id.
func pageEngines(engine *comfy.Client, pages []page) map[string]*comfy.Client {
	out := make(map[string]*comfy.Client, len(pages))
	for _, p := range pages {
		out[p.name] = engine.Session(p.name)
	}
	return out
}

func newSlot(ctx context.Context, cfg *infra.Config, rdb *redis.Client, key string) (slot.Store, error) {
	switch cfg.SlotBackend {
	case "redis":
		store, err := slot.NewRedisStore(rdb, key, cfg.SlotTTL)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return slot.Nop{}, nil
	default:
		store, err := slot.NewFileStore(cfg.SlotPath, key)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
