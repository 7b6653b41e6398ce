package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logwayss/logwayss/internal/logging"
	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/entry"
)

// maxQueryLimit caps a single entry_query page.
const maxQueryLimit = 500

// EntryQueryInput represents input for entry_query tool.
type EntryQueryInput struct {
	Type   string   `json:"type,omitempty" jsonschema:"Entry type: text markdown metrics media_ref event or log."`
	From   string   `json:"from,omitempty" jsonschema:"Inclusive lower bound on created_at, RFC 3339 or YYYY-MM-DD."`
	To     string   `json:"to,omitempty" jsonschema:"Inclusive upper bound on created_at, RFC 3339 or YYYY-MM-DD."`
	Tags   []string `json:"tags,omitempty" jsonschema:"Entries must carry every listed tag."`
	Limit  int      `json:"limit,omitempty" jsonschema:"Maximum number of entries to return."`
	Offset int      `json:"offset,omitempty" jsonschema:"Number of entries to skip."`
}

// EntryQueryOutput represents output for entry_query tool.
type EntryQueryOutput struct {
	Entries  []EntryInfo `json:"entries"`
	Warnings []string    `json:"warnings,omitempty"`
}

// EntryInfo is entry metadata. Payload is set only by entry_get when the
// policy exposes payloads.
type EntryInfo struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Tags      []string       `json:"tags,omitempty"`
	Source    string         `json:"source,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Payload   any            `json:"payload,omitempty"`
}

// EntryGetInput represents input for entry_get tool.
type EntryGetInput struct {
	ID string `json:"id" jsonschema:"The entry id."`
}

// EntryGetOutput represents output for entry_get tool.
type EntryGetOutput struct {
	Entry           EntryInfo `json:"entry"`
	PayloadRedacted bool      `json:"payload_redacted"`
}

// EntryTagsInput represents input for entry_tags tool.
type EntryTagsInput struct{}

// EntryTagsOutput represents output for entry_tags tool.
type EntryTagsOutput struct {
	Tags []core.TagCount `json:"tags"`
}

// handleEntryQuery handles the entry_query tool call.
func (s *Server) handleEntryQuery(ctx context.Context, req *mcp.CallToolRequest, input EntryQueryInput) (*mcp.CallToolResult, EntryQueryOutput, error) {
	log := s.callLogger(ctx, req)
	log.Debug("tool called", "tool", "entry_query", "type", input.Type, "tags", len(input.Tags))

	filter := entry.Filter{
		Type: entry.Type(input.Type),
		Time: entry.TimeRange{From: input.From, To: input.To},
		Tags: input.Tags,
	}
	if filter.Type != "" && !s.policy.TypeAllowed(filter.Type) {
		return nil, EntryQueryOutput{}, fmt.Errorf("entry type %q is not allowed by policy", input.Type)
	}

	page := entry.Pagination{Limit: input.Limit, Offset: input.Offset}
	if err := page.Validate(); err != nil {
		return nil, EntryQueryOutput{}, err
	}
	if page.Limit == 0 {
		page.Limit = s.defaultLimit
	}
	if page.Limit > maxQueryLimit {
		page.Limit = maxQueryLimit
	}

	// A restrictive policy hides rows after decryption, so paging has to
	// happen here rather than in the store.
	var entries []*entry.Entry
	var err error
	if s.policy.Restricts() {
		entries, err = s.core.Query(ctx, filter, nil)
	} else {
		entries, err = s.core.Query(ctx, filter, &page)
	}

	output := EntryQueryOutput{Entries: []EntryInfo{}}
	if err != nil {
		var ierr *core.QueryIntegrityError
		if !errors.As(err, &ierr) {
			return nil, EntryQueryOutput{}, fmt.Errorf("query entries: %w", err)
		}
		log.Warn("entries failed integrity check", "count", len(ierr.IDs))
		output.Warnings = append(output.Warnings, fmt.Sprintf("%d entries failed their integrity check and were skipped", len(ierr.IDs)))
	}

	if s.policy.Restricts() {
		visible := entries[:0]
		for _, e := range entries {
			if s.policy.Allows(e) {
				visible = append(visible, e)
			}
		}
		entries = paginate(visible, page)
	}

	for _, e := range entries {
		output.Entries = append(output.Entries, toInfo(e))
	}
	return nil, output, nil
}

// handleEntryGet handles the entry_get tool call.
func (s *Server) handleEntryGet(ctx context.Context, req *mcp.CallToolRequest, input EntryGetInput) (*mcp.CallToolResult, EntryGetOutput, error) {
	log := s.callLogger(ctx, req)
	log.Debug("tool called", "tool", "entry_get")

	if input.ID == "" {
		return nil, EntryGetOutput{}, errors.New("id is required")
	}

	e, err := s.core.GetEntry(ctx, input.ID)
	if err != nil {
		return nil, EntryGetOutput{}, fmt.Errorf("get entry: %w", err)
	}
	// Hidden entries look exactly like missing ones.
	if !s.policy.Allows(e) {
		log.Debug("entry hidden by policy", "type", e.Type)
		return nil, EntryGetOutput{}, fmt.Errorf("get entry: %w: entry %s", core.ErrNotFound, input.ID)
	}

	info := toInfo(e)
	if !s.policy.ExposePayload {
		return nil, EntryGetOutput{Entry: info, PayloadRedacted: true}, nil
	}

	var payload any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, EntryGetOutput{}, fmt.Errorf("decode payload: %w", err)
	}
	info.Payload = payload
	return nil, EntryGetOutput{Entry: info}, nil
}

// handleEntryTags handles the entry_tags tool call.
func (s *Server) handleEntryTags(ctx context.Context, req *mcp.CallToolRequest, _ EntryTagsInput) (*mcp.CallToolResult, EntryTagsOutput, error) {
	s.callLogger(ctx, req).Debug("tool called", "tool", "entry_tags")

	if !s.policy.Restricts() {
		tags, err := s.core.ListTags(ctx)
		if err != nil {
			return nil, EntryTagsOutput{}, fmt.Errorf("list tags: %w", err)
		}
		return nil, EntryTagsOutput{Tags: tags}, nil
	}

	// Count only tags on entries the policy shows.
	entries, err := s.core.Query(ctx, entry.Filter{}, nil)
	var ierr *core.QueryIntegrityError
	if err != nil && !errors.As(err, &ierr) {
		return nil, EntryTagsOutput{}, fmt.Errorf("list tags: %w", err)
	}
	counts := map[string]int{}
	for _, e := range entries {
		if !s.policy.Allows(e) {
			continue
		}
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	tags := make([]core.TagCount, 0, len(counts))
	for t, n := range counts {
		tags = append(tags, core.TagCount{Tag: t, Count: n})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	return nil, EntryTagsOutput{Tags: tags}, nil
}

// callLogger tags the server logger with the caller's MCP session, if known.
func (s *Server) callLogger(ctx context.Context, req *mcp.CallToolRequest) *slog.Logger {
	if req != nil && req.Session != nil {
		ctx = logging.WithSession(ctx, req.Session.ID())
	}
	return logging.FromContext(ctx, s.log)
}

func toInfo(e *entry.Entry) EntryInfo {
	return EntryInfo{
		ID:        e.ID,
		Type:      string(e.Type),
		CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339Nano),
		Tags:      e.Tags,
		Source:    e.Source,
		DeviceID:  e.DeviceID,
		Meta:      e.Meta,
	}
}

func paginate(entries []*entry.Entry, page entry.Pagination) []*entry.Entry {
	if page.Offset >= len(entries) {
		return nil
	}
	entries = entries[page.Offset:]
	if page.Limit > 0 && len(entries) > page.Limit {
		entries = entries[:page.Limit]
	}
	return entries
}
