package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortex/internal/assembler"
	"cortex/internal/deltalog"
)

type mapDomainArgs struct {
	Domain       string `json:"domain" jsonschema:"required,description=Origin domain to crawl, e.g. example.com"`
	MaxPages     int    `json:"max_pages,omitempty" jsonschema:"description=Override the configured page budget"`
	MaxDepth     int    `json:"max_depth,omitempty" jsonschema:"description=Override the configured depth budget"`
	RenderBudget int    `json:"render_budget,omitempty" jsonschema:"description=Override how many pages L3 may render"`
}

type mapDomainResult struct {
	Domain      string `json:"domain"`
	NodeCount   int    `json:"node_count"`
	Fingerprint uint32 `json:"fingerprint"`
}

// registerMapTools wires the single "map_domain" tool: run the layered
// acquisition pipeline over a domain, persist the resulting SiteMap (plus a
// DeltaLog entry against whatever snapshot preceded it), and load it into the
// query engine so query_* tools can see it immediately.
func (d *Dispatcher) registerMapTools() {
	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "map_domain",
		Description: "Crawl a domain through cortex's layered acquisition pipeline and build its .ctx site graph.",
	}, d.handleMapDomain)
}

func (d *Dispatcher) handleMapDomain(ctx context.Context, _ *mcp.CallToolRequest, args mapDomainArgs) (*mcp.CallToolResult, mapDomainResult, error) {
	if args.Domain == "" {
		return nil, mapDomainResult{}, fmt.Errorf("domain is required")
	}

	budget := assembler.Budget{
		MaxPages:       orDefault(args.MaxPages, d.cfg.Acquisition.MaxPages),
		MaxDepth:       orDefault(args.MaxDepth, d.cfg.Acquisition.MaxDepth),
		MaxRender:      orDefault(args.RenderBudget, d.cfg.Acquisition.RenderBudget),
		RequestTimeout: time.Duration(d.cfg.Acquisition.RequestTimeout) * time.Second,
		RenderTimeout:  time.Duration(d.cfg.Acquisition.RenderTimeout) * time.Second,
		UserAgent:      d.cfg.Acquisition.UserAgent,
		RespectRobots:  d.cfg.Acquisition.RespectRobots,
	}

	m, err := d.assemble.Map(ctx, args.Domain, budget)
	if err != nil {
		return nil, mapDomainResult{}, fmt.Errorf("mapping %s: %w", args.Domain, err)
	}

	store, err := d.store(args.Domain)
	if err != nil {
		return nil, mapDomainResult{}, err
	}

	if prev, err := store.LoadSnapshot(); err == nil && prev != nil {
		delta := deltalog.Diff(prev, m, "map_domain", time.Now())
		if _, err := store.Append(delta); err != nil {
			return nil, mapDomainResult{}, fmt.Errorf("appending delta: %w", err)
		}
	}
	if err := store.SaveSnapshot(m); err != nil {
		return nil, mapDomainResult{}, fmt.Errorf("saving snapshot: %w", err)
	}

	d.mu.Lock()
	d.engine.Load(m)
	d.mu.Unlock()

	return nil, mapDomainResult{
		Domain:      args.Domain,
		NodeCount:   m.NodeCount(),
		Fingerprint: deltalog.Fingerprint(m),
	}, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
