package protocol

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortex/internal/cerr"
)

type visualCaptureArgs struct {
	SourceType  string   `json:"source_type" jsonschema:"required,enum=file,enum=base64,description=Either file or base64"`
	SourceData  string   `json:"source_data" jsonschema:"required,description=A filesystem path, or a base64 image payload"`
	Mime        string   `json:"mime,omitempty" jsonschema:"description=Mime type when source_type is base64"`
	Labels      []string `json:"labels,omitempty"`
	Description string   `json:"description,omitempty"`
}

type visualCaptureOutput struct {
	CaptureID     uint64 `json:"capture_id"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	EmbeddingDims int    `json:"embedding_dims"`
}

type visualCompareArgs struct {
	IDA uint64 `json:"id_a" jsonschema:"required"`
	IDB uint64 `json:"id_b" jsonschema:"required"`
}

type visualCompareOutput struct {
	Similarity float32 `json:"similarity"`
}

type visualFindSimilarArgs struct {
	CaptureID     uint64  `json:"capture_id" jsonschema:"required"`
	TopK          int     `json:"top_k,omitempty"`
	MinSimilarity float32 `json:"min_similarity,omitempty"`
}

type similarityMatchArg struct {
	ID         uint64  `json:"id"`
	Similarity float32 `json:"similarity"`
}

type visualFindSimilarOutput struct {
	Matches []similarityMatchArg `json:"matches"`
}

type visualDiffArgs struct {
	IDA uint64 `json:"id_a" jsonschema:"required"`
	IDB uint64 `json:"id_b" jsonschema:"required"`
}

type visualDiffOutput struct {
	Similarity     float32 `json:"similarity"`
	PixelDiffRatio float32 `json:"pixel_diff_ratio"`
	ChangedRegions int     `json:"changed_regions"`
}

type visualLinkArgs struct {
	CaptureID    uint64 `json:"capture_id" jsonschema:"required"`
	MemoryNodeID uint64 `json:"memory_node_id" jsonschema:"required"`
}

type visualLinkOutput struct {
	Linked bool `json:"linked"`
}

// registerVisualTools wires the VisualMemoryStore's capture/compare/find-
// similar/diff/link operations onto a single configured .avis session. Every
// handler returns cerr.ErrModelNotAvailable when no visual session was
// configured at startup, rather than panicking on a nil Session.
func (d *Dispatcher) registerVisualTools() {
	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "visual_capture",
		Description: "Capture an image (from a file path or base64 payload), thumbnail and embed it, and append it to the visual memory store.",
	}, d.handleVisualCapture)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "visual_compare",
		Description: "Compute the cosine similarity between two captures' embeddings.",
	}, d.handleVisualCompare)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "visual_find_similar",
		Description: "Find the most visually similar captures to a given capture, excluding itself.",
	}, d.handleVisualFindSimilar)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "visual_diff",
		Description: "Compute a pixel-level diff between two captures' thumbnails.",
	}, d.handleVisualDiff)

	mcp.AddTool(d.server, &mcp.Tool{
		Name:        "visual_link",
		Description: "Link a capture to a cartographer graph node by id.",
	}, d.handleVisualLink)
}

func (d *Dispatcher) handleVisualCapture(ctx context.Context, _ *mcp.CallToolRequest, args visualCaptureArgs) (*mcp.CallToolResult, visualCaptureOutput, error) {
	if d.visual == nil {
		return nil, visualCaptureOutput{}, cerr.ErrModelNotAvailable
	}
	res, err := d.visual.Capture(ctx, args.SourceType, args.SourceData, args.Mime, args.Labels, args.Description)
	if err != nil {
		return nil, visualCaptureOutput{}, err
	}
	return nil, visualCaptureOutput{
		CaptureID:     res.CaptureID,
		Width:         res.Width,
		Height:        res.Height,
		EmbeddingDims: res.EmbeddingDims,
	}, nil
}

func (d *Dispatcher) handleVisualCompare(_ context.Context, _ *mcp.CallToolRequest, args visualCompareArgs) (*mcp.CallToolResult, visualCompareOutput, error) {
	if d.visual == nil {
		return nil, visualCompareOutput{}, cerr.ErrModelNotAvailable
	}
	sim, err := d.visual.Compare(args.IDA, args.IDB)
	if err != nil {
		return nil, visualCompareOutput{}, err
	}
	return nil, visualCompareOutput{Similarity: sim}, nil
}

func (d *Dispatcher) handleVisualFindSimilar(_ context.Context, _ *mcp.CallToolRequest, args visualFindSimilarArgs) (*mcp.CallToolResult, visualFindSimilarOutput, error) {
	if d.visual == nil {
		return nil, visualFindSimilarOutput{}, cerr.ErrModelNotAvailable
	}
	topK := args.TopK
	if topK <= 0 {
		topK = 10
	}
	matches, err := d.visual.FindSimilar(args.CaptureID, topK, args.MinSimilarity)
	if err != nil {
		return nil, visualFindSimilarOutput{}, err
	}
	out := visualFindSimilarOutput{Matches: make([]similarityMatchArg, len(matches))}
	for i, m := range matches {
		out.Matches[i] = similarityMatchArg{ID: m.ID, Similarity: m.Similarity}
	}
	return nil, out, nil
}

func (d *Dispatcher) handleVisualDiff(_ context.Context, _ *mcp.CallToolRequest, args visualDiffArgs) (*mcp.CallToolResult, visualDiffOutput, error) {
	if d.visual == nil {
		return nil, visualDiffOutput{}, cerr.ErrModelNotAvailable
	}
	diff, err := d.visual.Diff(args.IDA, args.IDB)
	if err != nil {
		return nil, visualDiffOutput{}, err
	}
	return nil, visualDiffOutput{
		Similarity:     diff.Similarity,
		PixelDiffRatio: diff.PixelDiffRatio,
		ChangedRegions: len(diff.ChangedRegions),
	}, nil
}

func (d *Dispatcher) handleVisualLink(_ context.Context, _ *mcp.CallToolRequest, args visualLinkArgs) (*mcp.CallToolResult, visualLinkOutput, error) {
	if d.visual == nil {
		return nil, visualLinkOutput{}, cerr.ErrModelNotAvailable
	}
	if err := d.visual.Link(args.CaptureID, args.MemoryNodeID); err != nil {
		return nil, visualLinkOutput{}, err
	}
	return nil, visualLinkOutput{Linked: true}, nil
}
