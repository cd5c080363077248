// Package protocol exposes cortex's cartographer and visual memory store to
// agents over the Model Context Protocol: a stateless dispatch from typed
// JSON-RPC requests (tools/call, resources/read, ...) to the component
// handlers in internal/query, internal/assembler, and internal/visualstore.
package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"cortex/internal/assembler"
	"cortex/internal/config"
	"cortex/internal/deltalog"
	"cortex/internal/eventbus"
	"cortex/internal/query"
	"cortex/internal/version"
	"cortex/internal/visualstore"
)

// Dispatcher wires every agent-facing tool and resource onto an *mcp.Server.
// A CallTool/ReadResource handler reads the state it needs from the engines
// below and returns, holding no per-request session of its own. Concurrent
// access to those engines is the engines' own responsibility (Engine.Load/
// Filter are read-mostly maps guarded by Dispatcher's own mutex; Session
// guards itself).
type Dispatcher struct {
	cfg config.Config

	mu       sync.Mutex
	stores   map[string]*deltalog.Store // domain -> DeltaLog store
	engine   *query.Engine
	assemble *assembler.Assembler
	bus      *eventbus.Bus

	visual *visualstore.Session // single configured visual memory file

	server *mcp.Server
}

// New builds a Dispatcher and registers every cartographer and visual
// memory tool and resource. visual may be nil if no visual memory path was
// configured; visual_* tools then return ErrModelNotAvailable-flavored tool
// errors.
func New(cfg config.Config, engine *query.Engine, asm *assembler.Assembler, bus *eventbus.Bus, visual *visualstore.Session) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		stores:   make(map[string]*deltalog.Store),
		engine:   engine,
		assemble: asm,
		bus:      bus,
		visual:   visual,
	}

	d.server = mcp.NewServer(&mcp.Implementation{
		Name:    "cortex",
		Version: version.Version,
	}, nil)

	d.registerMapTools()
	d.registerQueryTools()
	d.registerVisualTools()
	d.registerResources()

	return d
}

// store returns (creating if necessary) the DeltaLog store rooted at
// cfg.DataDir/domain.
func (d *Dispatcher) store(domain string) (*deltalog.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stores[domain]; ok {
		return s, nil
	}
	s, err := deltalog.Open(d.cfg.DataDir, domain, d.cfg.DeltaKeep)
	if err != nil {
		return nil, fmt.Errorf("opening delta store for %s: %w", domain, err)
	}
	d.stores[domain] = s
	return s, nil
}

// Run serves the agent protocol over stdio until ctx is cancelled or the
// transport's input is closed. There is no CLI argument parsing beyond
// selecting a transport: cortexd is a daemon, not a command.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().Msg("protocol dispatcher listening on stdio")
	return d.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the agent protocol as HTTP POST of JSON-RPC bodies, the
// alternative transport alongside newline-delimited stdio.
func (d *Dispatcher) RunHTTP(addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return d.server
	}, nil)
	log.Info().Str("addr", addr).Msg("protocol dispatcher listening on http")
	return http.ListenAndServe(addr, handler)
}
