// Command cortexd is cortex's daemon bootstrap. It wires configuration,
// observability, the acquisition pipeline, the query engine, and the visual
// memory store together and speaks the agent protocol over stdio. It is
// deliberately not a CLI: no "map"/"query"/"pathfind" subcommands are parsed
// here, only the daemon lifecycle needed to exercise ProtocolDispatcher.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"cortex/internal/acquisition"
	"cortex/internal/assembler"
	"cortex/internal/config"
	"cortex/internal/embedding"
	"cortex/internal/eventbus"
	"cortex/internal/observability"
	"cortex/internal/protocol"
	"cortex/internal/query"
	"cortex/internal/visualstore"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		httpAddr   = flag.String("http", "", "serve the agent protocol over HTTP at this address instead of stdio")
		visualPath = flag.String("visual-store", "", "path to a .avis visual memory file (created if absent)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	httpClient := observability.NewHTTPClient(nil)
	embedder := embedding.New(cfg.Embedding, httpClient)

	browser := acquisition.Browser(acquisition.NoopBrowser{})
	if b, err := acquisition.NewChromedpBrowser(ctx); err != nil {
		log.Warn().Err(err).Msg("headless browser unavailable, L3 acquisition disabled")
	} else {
		browser = b
		defer b.Close()
	}

	bus := eventbus.New(cfg.EventBufSize)
	logEvents(bus)

	asm := assembler.New(httpClient, browser, bus)
	engine := query.NewEngine()

	var visual *visualstore.Session
	if *visualPath != "" {
		visual, err = visualstore.Open(*visualPath, embedder)
		if err != nil {
			log.Fatal().Err(err).Msg("opening visual memory store")
		}
		defer visual.Close()
	}

	dispatcher := protocol.New(cfg, engine, asm, bus, visual)

	if *httpAddr != "" {
		if err := dispatcher.RunHTTP(*httpAddr); err != nil {
			log.Fatal().Err(err).Msg("http transport exited")
		}
		return
	}

	if err := dispatcher.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("stdio transport exited")
	}
}

// logEvents drains the event bus into structured log lines; a real agent
// client would subscribe directly, but the daemon itself always keeps one
// subscriber alive so Warning/MapFailed events are never silently dropped.
func logEvents(bus *eventbus.Bus) {
	sub := bus.Subscribe()
	go func() {
		for e := range sub.Events {
			logEvent(e)
		}
	}()
}

func logEvent(e eventbus.Event) {
	entry := log.Info()
	if e.Kind == eventbus.KindMapFailed {
		entry = log.Warn()
	}
	entry.
		Str("kind", string(e.Kind)).
		Str("domain", e.Domain).
		Time("at", e.Timestamp).
		Msg(e.Message)
}
