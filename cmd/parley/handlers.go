package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/parley/internal/artifacts"
	"github.com/haasonsaas/parley/internal/chronicle"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
	"github.com/haasonsaas/parley/internal/modelspec"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/providers"
	"github.com/haasonsaas/parley/internal/rooms"
)

type serveOptions struct {
	configPath string
	debug      bool

	console bool
	room    string
	channel string
	nick    string
	mynick  string
}

// runServe implements the serve command: build the pipeline, expose metrics,
// block until a shutdown signal.
func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	applyEnvOverrides(cfg)

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting parley",
		"version", version, "commit", commit, "config", opts.configPath)

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	router := providers.NewRouter(cfg.Providers, logger)
	runner := providers.NewSingleShotRunner(router, logger)

	artifactStore, err := artifacts.New(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	chronicler := chronicle.New(store, router, chronicle.Config{
		Threshold: cfg.Chronicle.Threshold,
		Model:     cfg.Chronicle.Model,
		Prompt:    cfg.Chronicle.Prompt,
	}, logger)

	handlers, err := buildRoomHandlers(cfg, rooms.HandlerParams{
		Behavior:   cfg.Behavior,
		Runner:     runner,
		Models:     router,
		History:    store,
		Artifacts:  artifactStore,
		Chronicler: chronicler,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no rooms configured")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
	}

	if opts.console {
		handler, roomName, err := pickConsoleRoom(handlers, opts.room)
		if err != nil {
			return err
		}
		logger.Info("console attached", "room", roomName, "channel", opts.channel, "nick", opts.nick)
		go runConsole(ctx, handler, store, opts, logger)
	}

	roomNames := make([]string, 0, len(handlers))
	for name := range handlers {
		roomNames = append(roomNames, name)
	}
	sort.Strings(roomNames)
	logger.Info("parley started", "rooms", strings.Join(roomNames, ","))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	return nil
}

// applyEnvOverrides lets provider API keys come from the environment instead
// of the config file.
func applyEnvOverrides(cfg *config.Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers.OpenAIAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers.AnthropicAPIKey = key
	}
}

// buildRoomHandlers merges and validates every configured room and builds its
// handler. params carries the shared collaborators; RoomName and Config are
// filled per room.
func buildRoomHandlers(cfg *config.Config, params rooms.HandlerParams) (map[string]*rooms.Handler, error) {
	handlers := make(map[string]*rooms.Handler)
	for name := range cfg.Rooms {
		if name == "common" {
			continue
		}
		rc, err := cfg.Room(name)
		if err != nil {
			return nil, err
		}
		p := params
		p.RoomName = name
		p.Config = rc
		h, err := rooms.NewHandler(p)
		if err != nil {
			return nil, err
		}
		handlers[name] = h
	}
	return handlers, nil
}

func pickConsoleRoom(handlers map[string]*rooms.Handler, room string) (*rooms.Handler, string, error) {
	if room != "" {
		h, ok := handlers[room]
		if !ok {
			return nil, "", fmt.Errorf("room %q not configured", room)
		}
		return h, room, nil
	}
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return handlers[names[0]], names[0], nil
}

// runConsole feeds stdin lines into the handler as addressed messages. Each
// line is dispatched on its own goroutine so the steering queue behaves as it
// would with a real transport.
func runConsole(ctx context.Context, handler *rooms.Handler, store history.Store, opts serveOptions, logger *slog.Logger) {
	serverTag := "console"
	reply := func(ctx context.Context, text string) error {
		fmt.Printf("%s> %s\n", opts.mynick, text)
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if handler.ShouldIgnoreUser(opts.nick) {
			continue
		}
		msg := rooms.RoomMessage{
			ServerTag:   serverTag,
			ChannelName: opts.channel,
			Nick:        opts.nick,
			MyNick:      opts.mynick,
			Content:     line,
			Arc:         serverTag + opts.channel,
			SentAt:      time.Now(),
		}
		triggerID, err := store.AddMessage(ctx, history.AddMessageParams{
			ServerTag:   msg.ServerTag,
			ChannelName: msg.ChannelName,
			Nick:        msg.Nick,
			Arc:         msg.Arc,
			Content:     msg.Content,
		})
		if err != nil {
			logger.Error("failed to persist console message", "error", err)
			continue
		}
		go func() {
			if err := handler.HandleCommand(ctx, msg, triggerID, reply); err != nil {
				logger.Error("console command failed", "error", err)
			}
		}()
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		logger.Error("console read failed", "error", err)
	}
}

// runCheck implements the check command: validate every room and print its
// resolved command setup.
func runCheck(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	names := make([]string, 0, len(cfg.Rooms))
	for name := range cfg.Rooms {
		if name == "common" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Errorf("no rooms configured")
	}

	for _, name := range names {
		rc, err := cfg.Room(name)
		if err != nil {
			return err
		}
		resolver, err := rooms.NewCommandResolver(&rc.Command, slog.Default())
		if err != nil {
			return fmt.Errorf("room %q: %w", name, err)
		}

		fmt.Fprintf(out, "Room: %s\n", name)
		fmt.Fprintf(out, "  default policy: %s\n", rc.Command.DefaultMode)
		fmt.Fprintln(out, "  modes:")
		for _, key := range rc.Command.Modes.Keys() {
			mode, _ := rc.Command.Modes.Get(key)
			triggers := strings.Join(mode.Triggers.Keys(), "/")
			fmt.Fprintf(out, "    %s: %s (%s)\n", key, triggers, modelspec.CoreNameOfFirst(mode.Model))
		}
		if len(rc.Command.ChannelModes) > 0 {
			fmt.Fprintln(out, "  channel policies:")
			channels := make([]string, 0, len(rc.Command.ChannelModes))
			for channel := range rc.Command.ChannelModes {
				channels = append(channels, channel)
			}
			sort.Strings(channels)
			for _, channel := range channels {
				fmt.Fprintf(out, "    %s: %s\n", channel, rc.Command.ChannelModes[channel])
			}
		}
		if len(rc.Proactive.Interjecting) > 0 {
			fmt.Fprintf(out, "  proactive interjecting: %s\n", strings.Join(rc.Proactive.Interjecting, ", "))
		}
		if labels := resolver.Labels().Keys(); len(labels) > 0 {
			fmt.Fprintf(out, "  classifier labels: %s (fallback %s)\n",
				strings.Join(labels, ", "), resolver.FallbackLabel())
		}
	}
	fmt.Fprintf(out, "Configuration OK: %d room(s)\n", len(names))
	return nil
}
