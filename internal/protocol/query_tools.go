package protocol

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortex/internal/query"
	"cortex/internal/sitemap"
)

type featureRangeArg struct {
	Dimension int      `json:"dimension"`
	Min       *float32 `json:"min,omitempty"`
	Max       *float32 `json:"max,omitempty"`
}

type filterArgs struct {
	Domain        string            `json:"domain" jsonschema:"required,description=Domain to query, or empty to search every loaded domain"`
	PageTypes     []string          `json:"page_types,omitempty" jsonschema:"description=Page type names, e.g. ProductDetail"`
	FeatureRanges []featureRangeArg `json:"feature_ranges,omitempty"`
	RequireFlags  uint32            `json:"require_flags,omitempty"`
	ForbidFlags   uint32            `json:"forbid_flags,omitempty"`
	URLPrefix     string            `json:"url_prefix,omitempty"`
	MaxResults    int               `json:"max_results,omitempty"`
}

type filterResultArg struct {
	Domain     string `json:"domain"`
	Index      int    `json:"index"`
	URL        string `json:"url"`
	PageType   string `json:"page_type"`
	Confidence uint8  `json:"confidence"`
}

type filterOutput struct {
	Results []filterResultArg `json:"results"`
}

func (d *Dispatcher) registerQueryTools() {
	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "query_filter",
		Description: "Filter a loaded site map's nodes by page type, feature ranges, flags, and URL prefix.",
	}, d.handleFilter)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "query_nearest",
		Description: "Find the k nodes nearest a feature vector by cosine similarity, pruned via cluster centroids.",
	}, d.handleNearest)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "query_shortest_path",
		Description: "Find the cheapest action-gated path between two nodes in a loaded site map.",
	}, d.handleShortestPath)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "query_wql",
		Description: "Run a WQL SELECT statement (SELECT ... FROM <PageType> [WHERE ...] [ORDER BY ...] [LIMIT n]) against a loaded domain.",
	}, d.handleWQL)
}

func (d *Dispatcher) toFilterQuery(args filterArgs) (query.FilterQuery, error) {
	q := query.FilterQuery{
		RequireFlags: sitemap.NodeFlags(args.RequireFlags),
		ForbidFlags:  sitemap.NodeFlags(args.ForbidFlags),
		URLPrefix:    args.URLPrefix,
		MaxResults:   args.MaxResults,
	}
	for _, name := range args.PageTypes {
		pt, ok := pageTypeByName(name)
		if !ok {
			return q, fmt.Errorf("unknown page type %q", name)
		}
		q.PageTypes = append(q.PageTypes, pt)
	}
	for _, fr := range args.FeatureRanges {
		q.FeatureRanges = append(q.FeatureRanges, query.FeatureRange{
			Dimension: fr.Dimension,
			Min:       fr.Min,
			Max:       fr.Max,
		})
	}
	return q, nil
}

func (d *Dispatcher) handleFilter(_ context.Context, _ *mcp.CallToolRequest, args filterArgs) (*mcp.CallToolResult, filterOutput, error) {
	q, err := d.toFilterQuery(args)
	if err != nil {
		return nil, filterOutput{}, err
	}

	d.mu.Lock()
	var results []query.FilterResult
	if args.Domain == "" {
		results = d.engine.FilterAllDomains(q)
	} else {
		results = d.engine.Filter(args.Domain, q)
	}
	d.mu.Unlock()

	out := filterOutput{Results: make([]filterResultArg, len(results))}
	for i, r := range results {
		out.Results[i] = filterResultArg{
			Domain:     r.Domain,
			Index:      r.Index,
			URL:        r.URL,
			PageType:   pageTypeName(r.PageType),
			Confidence: r.Confidence,
		}
	}
	return nil, out, nil
}

type nearestArgs struct {
	Domain string    `json:"domain,omitempty" jsonschema:"description=Domain to search, or empty to search every loaded domain"`
	Vector []float32 `json:"vector" jsonschema:"required"`
	K      int       `json:"k" jsonschema:"required"`
}

type nearestResultArg struct {
	Domain     string  `json:"domain"`
	Index      int     `json:"index"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

type nearestOutput struct {
	Results []nearestResultArg `json:"results"`
}

func (d *Dispatcher) handleNearest(_ context.Context, _ *mcp.CallToolRequest, args nearestArgs) (*mcp.CallToolResult, nearestOutput, error) {
	d.mu.Lock()
	var results []query.NearestResult
	if args.Domain == "" {
		results = d.engine.NearestAllDomains(args.Vector, args.K)
	} else {
		results = d.engine.Nearest(args.Domain, args.Vector, args.K)
	}
	d.mu.Unlock()

	out := nearestOutput{Results: make([]nearestResultArg, len(results))}
	for i, r := range results {
		out.Results[i] = nearestResultArg{Domain: r.Domain, Index: r.Index, URL: r.URL, Similarity: r.Similarity}
	}
	return nil, out, nil
}

type shortestPathArgs struct {
	Domain            string  `json:"domain" jsonschema:"required"`
	From              int     `json:"from" jsonschema:"required"`
	To                int     `json:"to" jsonschema:"required"`
	MaxRisk           uint8   `json:"max_risk,omitempty"`
	ForbidOverRisk    bool    `json:"forbid_over_risk,omitempty"`
	GateFactor        float64 `json:"gate_factor,omitempty"`
	AllowAuthRequired bool    `json:"allow_auth_required,omitempty"`
}

type requiredActionArg struct {
	AtNode int    `json:"at_node"`
	Opcode uint16 `json:"opcode"`
}

type shortestPathOutput struct {
	Found           bool                `json:"found"`
	Nodes           []int               `json:"nodes,omitempty"`
	Hops            int                 `json:"hops,omitempty"`
	TotalWeight     float64             `json:"total_weight,omitempty"`
	RequiredActions []requiredActionArg `json:"required_actions,omitempty"`
}

func (d *Dispatcher) handleShortestPath(_ context.Context, _ *mcp.CallToolRequest, args shortestPathArgs) (*mcp.CallToolResult, shortestPathOutput, error) {
	constraints := query.PathConstraints{
		MaxRisk:           args.MaxRisk,
		ForbidOverRisk:    args.ForbidOverRisk,
		GateFactor:        args.GateFactor,
		AllowAuthRequired: args.AllowAuthRequired,
	}

	d.mu.Lock()
	path, ok := d.engine.ShortestPath(args.Domain, args.From, args.To, constraints)
	d.mu.Unlock()

	if !ok {
		return nil, shortestPathOutput{Found: false}, nil
	}

	out := shortestPathOutput{
		Found:       true,
		Nodes:       path.Nodes,
		Hops:        path.Hops,
		TotalWeight: path.TotalWeight,
	}
	for _, a := range path.RequiredActions {
		out.RequiredActions = append(out.RequiredActions, requiredActionArg{AtNode: a.AtNode, Opcode: a.Opcode})
	}
	return nil, out, nil
}

type wqlArgs struct {
	Domain string `json:"domain" jsonschema:"required"`
	Query  string `json:"query" jsonschema:"required,description=A WQL SELECT statement"`
}

type wqlOutput struct {
	Rows []map[string]any `json:"rows"`
}

func (d *Dispatcher) handleWQL(_ context.Context, _ *mcp.CallToolRequest, args wqlArgs) (*mcp.CallToolResult, wqlOutput, error) {
	plan, err := query.ParseWQL(args.Query)
	if err != nil {
		return nil, wqlOutput{}, fmt.Errorf("parsing WQL: %w", err)
	}

	d.mu.Lock()
	rows, err := d.engine.Run(plan, args.Domain)
	d.mu.Unlock()
	if err != nil {
		return nil, wqlOutput{}, err
	}

	out := wqlOutput{Rows: make([]map[string]any, len(rows))}
	for i, r := range rows {
		out.Rows[i] = r
	}
	return nil, out, nil
}
