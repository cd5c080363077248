package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortex/internal/cerr"
)

// registerResources wires the six avis:// resource URIs, all of them
// read-only views over the single configured visual session.
func (d *Dispatcher) registerResources() {
	d.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "avis://capture/{id}",
		Name:        "capture",
		Description: "A single visual observation by id.",
		MIMEType:    "application/json",
	}, d.readCapture)

	d.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "avis://session/{id}",
		Name:        "session",
		Description: "Every capture belonging to a capture-session number.",
		MIMEType:    "application/json",
	}, d.readSession)

	d.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "avis://timeline/{start}/{end}",
		Name:        "timeline",
		Description: "Every capture within a Unix-seconds time range.",
		MIMEType:    "application/json",
	}, d.readTimeline)

	d.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "avis://similar/{id}",
		Name:        "similar",
		Description: "The default top-10 similarity search against a capture.",
		MIMEType:    "application/json",
	}, d.readSimilar)

	d.server.AddResource(&mcp.Resource{
		URI:         "avis://stats",
		Name:        "stats",
		Description: "Summary counters for the visual memory store.",
		MIMEType:    "application/json",
	}, d.readStats)

	d.server.AddResource(&mcp.Resource{
		URI:         "avis://recent",
		Name:        "recent",
		Description: "The 20 most recently captured observations.",
		MIMEType:    "application/json",
	}, d.readRecent)
}

func jsonContents(uri string, v any) (*mcp.ReadResourceResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(b)},
		},
	}, nil
}

// uriTail returns the path segments of uri after its scheme and first path
// component, e.g. "avis://capture/42" -> ["42"].
func uriTail(uri string) []string {
	trimmed := strings.TrimPrefix(uri, "avis://")
	parts := strings.Split(trimmed, "/")
	if len(parts) <= 1 {
		return nil
	}
	return parts[1:]
}

func (d *Dispatcher) readCapture(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	parts := uriTail(req.Params.URI)
	if len(parts) != 1 {
		return nil, fmt.Errorf("%w: malformed capture uri %q", cerr.ErrBadID, req.Params.URI)
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerr.ErrBadID, err)
	}
	obs, ok := d.visual.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", cerr.ErrCaptureNotFound, id)
	}
	return jsonContents(req.Params.URI, obs)
}

func (d *Dispatcher) readSession(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	parts := uriTail(req.Params.URI)
	if len(parts) != 1 {
		return nil, fmt.Errorf("%w: malformed session uri %q", cerr.ErrBadID, req.Params.URI)
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerr.ErrBadID, err)
	}
	return jsonContents(req.Params.URI, d.visual.BySession(uint32(id)))
}

func (d *Dispatcher) readTimeline(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	parts := uriTail(req.Params.URI)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: malformed timeline uri %q", cerr.ErrBadID, req.Params.URI)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerr.ErrBadID, err)
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerr.ErrBadID, err)
	}
	obs := d.visual.InTimeRange(time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC())
	return jsonContents(req.Params.URI, obs)
}

func (d *Dispatcher) readSimilar(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	parts := uriTail(req.Params.URI)
	if len(parts) != 1 {
		return nil, fmt.Errorf("%w: malformed similar uri %q", cerr.ErrBadID, req.Params.URI)
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerr.ErrBadID, err)
	}
	matches, err := d.visual.FindSimilar(id, 10, 0)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, matches)
}

func (d *Dispatcher) readStats(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	stats := struct {
		Count            int    `json:"count"`
		CurrentSessionID uint32 `json:"current_session_id"`
	}{
		Count:            d.visual.Count(),
		CurrentSessionID: d.visual.CurrentSessionID(),
	}
	return jsonContents(req.Params.URI, stats)
}

func (d *Dispatcher) readRecent(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if d.visual == nil {
		return nil, cerr.ErrModelNotAvailable
	}
	return jsonContents(req.Params.URI, d.visual.Recent(20))
}
