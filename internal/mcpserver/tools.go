// Package mcpserver registers MCP tools that expose mirror operations.
// It adapts the mirror package to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/merge"
	"github.com/alexjbarnes/page-mirror/internal/mirror"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all mirror tools to the given MCP server.
func RegisterTools(server *mcp.Server, m *mirror.Mirror) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_status",
		Description: "List every tracked page with its local path, sync state, remote version and attachment totals, plus the time of the last sync.",
	}, statusHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_conflicts",
		Description: "List pages left in the conflict state with the local and remote lines of every conflict region still in the file.",
	}, conflictsHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_resolve",
		Description: "Resolve every conflict region in a page file by keeping the local or the remote side. The next sync publishes the result.",
	}, resolveHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_merge",
		Description: "Preview a line based three-way merge of base, local and remote text. Nothing is written.",
	}, mergeHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_preview_paths",
		Description: "Show where every remote page would be placed in the local tree by the next sync. Nothing is written.",
	}, previewHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mirror_sync",
		Description: "Run one sync pass: pull remote edits, push local edits, merge pages changed on both sides and relocate moved pages.",
	}, syncHandler(m))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// EmptyInput has no parameters.
type EmptyInput struct{}

// ResolveInput holds parameters for mirror_resolve.
type ResolveInput struct {
	Path string `json:"path" jsonschema:"required,page file path relative to the mirror root"`
	Side string `json:"side" jsonschema:"required,which side to keep: local or remote"`
}

// MergeInput holds parameters for mirror_merge.
type MergeInput struct {
	Base   string `json:"base" jsonschema:"common ancestor text"`
	Local  string `json:"local" jsonschema:"local edit of base"`
	Remote string `json:"remote" jsonschema:"remote edit of base"`
}

// --- Output types ---
// Times are RFC 3339 strings and enums are plain strings so the inferred
// output schemas match the JSON the handlers produce.

// PageStatus is one row of mirror_status.
type PageStatus struct {
	PageID          string `json:"page_id"`
	Path            string `json:"path"`
	Title           string `json:"title"`
	State           string `json:"state"`
	Version         int    `json:"version"`
	LastSyncedAt    string `json:"last_synced_at,omitempty"`
	Attachments     int    `json:"attachments"`
	AttachmentBytes int64  `json:"attachment_bytes"`
}

// StatusResult is the output of mirror_status.
type StatusResult struct {
	LastSync   string       `json:"last_sync,omitempty"`
	TotalPages int          `json:"total_pages"`
	Pages      []PageStatus `json:"pages"`
}

// Region is one conflict region.
type Region struct {
	Local  []string `json:"local"`
	Remote []string `json:"remote"`
}

// ConflictPage is one page listed by mirror_conflicts.
type ConflictPage struct {
	PageID  string   `json:"page_id"`
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Regions []Region `json:"regions"`
}

// ConflictsResult is the output of mirror_conflicts.
type ConflictsResult struct {
	Conflicts []ConflictPage `json:"conflicts"`
}

// ResolveResult is the output of mirror_resolve.
type ResolveResult struct {
	PageID string `json:"page_id"`
	Path   string `json:"path"`
	Side   string `json:"side"`
	State  string `json:"state"`
}

// MergeResult is the output of mirror_merge.
type MergeResult struct {
	Success       bool     `json:"success"`
	Content       string   `json:"content"`
	ConflictCount int      `json:"conflict_count"`
	Conflicts     []Region `json:"conflicts,omitempty"`
}

// PlannedPath is one page placement.
type PlannedPath struct {
	PageID  string `json:"page_id"`
	Path    string `json:"path"`
	IsIndex bool   `json:"is_index"`
}

// PreviewResult is the output of mirror_preview_paths, ordered by path.
type PreviewResult struct {
	Paths []PlannedPath `json:"paths"`
}

// FailedPage is a page whose sync returned an error.
type FailedPage struct {
	PageID string `json:"page_id"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// MovedPage is a page file relocated by a sync.
type MovedPage struct {
	PageID string `json:"page_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Error  string `json:"error,omitempty"`
}

// SyncResult is the output of mirror_sync.
type SyncResult struct {
	Pulled    int          `json:"pulled"`
	Pushed    int          `json:"pushed"`
	Merged    int          `json:"merged"`
	Unchanged int          `json:"unchanged"`
	Conflicts []string     `json:"conflicts"`
	Failed    []FailedPage `json:"failed"`
	Relocated []MovedPage  `json:"relocated"`
	Untracked []string     `json:"untracked"`
}

// --- Handlers ---

func statusHandler(m *mirror.Mirror) mcp.ToolHandlerFor[EmptyInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *StatusResult, error) {
		entries, err := m.Status()
		if err != nil {
			return nil, nil, err
		}

		last, err := m.LastSync()
		if err != nil {
			return nil, nil, err
		}

		result := &StatusResult{
			LastSync:   formatTime(last),
			TotalPages: len(entries),
			Pages:      make([]PageStatus, 0, len(entries)),
		}

		for _, e := range entries {
			result.Pages = append(result.Pages, PageStatus{
				PageID:          e.PageID,
				Path:            e.Path,
				Title:           e.Title,
				State:           e.State.String(),
				Version:         e.Version,
				LastSyncedAt:    formatTime(e.LastSyncedAt),
				Attachments:     e.Attachments,
				AttachmentBytes: e.AttachmentBytes,
			})
		}

		return textResult(result), result, nil
	}
}

func conflictsHandler(m *mirror.Mirror) mcp.ToolHandlerFor[EmptyInput, *ConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *ConflictsResult, error) {
		entries, err := m.Conflicts()
		if err != nil {
			return nil, nil, err
		}

		result := &ConflictsResult{Conflicts: make([]ConflictPage, 0, len(entries))}

		for _, e := range entries {
			result.Conflicts = append(result.Conflicts, ConflictPage{
				PageID:  e.PageID,
				Path:    e.Path,
				Title:   e.Title,
				Regions: regions(e.Regions),
			})
		}

		return textResult(result), result, nil
	}
}

func resolveHandler(m *mirror.Mirror) mcp.ToolHandlerFor[ResolveInput, *ResolveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *ResolveResult, error) {
		side, err := merge.ParseSide(input.Side)
		if err != nil {
			return nil, nil, err
		}

		ps, err := m.Resolve(ctx, input.Path, side)
		if err != nil {
			return nil, nil, err
		}

		result := &ResolveResult{
			PageID: ps.ID,
			Path:   ps.Path,
			Side:   string(side),
			State:  ps.SyncState.String(),
		}

		return textResult(result), result, nil
	}
}

func mergeHandler() mcp.ToolHandlerFor[MergeInput, *MergeResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input MergeInput) (*mcp.CallToolResult, *MergeResult, error) {
		r := merge.ThreeWayMerge(input.Base, input.Local, input.Remote)

		result := &MergeResult{
			Success:       r.Success,
			Content:       r.Content,
			ConflictCount: r.ConflictCount,
			Conflicts:     regions(r.Conflicts),
		}

		return textResult(result), result, nil
	}
}

func previewHandler(m *mirror.Mirror) mcp.ToolHandlerFor[EmptyInput, *PreviewResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *PreviewResult, error) {
		plan, err := m.PreviewPaths(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &PreviewResult{Paths: make([]PlannedPath, 0, len(plan))}
		for id, cp := range plan {
			result.Paths = append(result.Paths, PlannedPath{PageID: id, Path: cp.RelativePath, IsIndex: cp.IsIndex})
		}

		sort.Slice(result.Paths, func(i, j int) bool { return result.Paths[i].Path < result.Paths[j].Path })

		return textResult(result), result, nil
	}
}

func syncHandler(m *mirror.Mirror) mcp.ToolHandlerFor[EmptyInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *SyncResult, error) {
		report, err := m.Sync(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := summarize(report)

		return textResult(result), result, nil
	}
}

func summarize(r *mirror.Report) *SyncResult {
	out := &SyncResult{
		Pulled:    r.Count(mirror.DecisionPull),
		Pushed:    r.Count(mirror.DecisionPush),
		Merged:    r.Count(mirror.DecisionMerge),
		Unchanged: r.Count(mirror.DecisionSkip),
		Conflicts: []string{},
		Failed:    []FailedPage{},
		Relocated: []MovedPage{},
		Untracked: append([]string{}, r.Untracked...),
	}

	for _, p := range r.Conflicts() {
		out.Conflicts = append(out.Conflicts, p.Path)
	}

	for _, p := range r.Failed() {
		out.Failed = append(out.Failed, FailedPage{PageID: p.PageID, Path: p.Path, Error: p.Err.Error()})
	}

	for _, mv := range r.Relocated {
		moved := MovedPage{PageID: mv.PageID, From: mv.OldPath, To: mv.NewPath}
		if mv.Err != nil {
			moved.Error = mv.Err.Error()
		}

		out.Relocated = append(out.Relocated, moved)
	}

	return out
}

func regions(in []merge.ConflictRegion) []Region {
	out := make([]Region, 0, len(in))
	for _, r := range in {
		out = append(out, Region{Local: nonNil(r.LocalLines), Remote: nonNil(r.RemoteLines)})
	}

	return out
}

// nonNil keeps empty sides as [] in the output instead of null.
func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}

	return lines
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
