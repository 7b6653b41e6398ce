package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/entry"
	"github.com/logwayss/logwayss/pkg/record"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

const entryColumns = `id, type, created_at, updated_at, schema_version, source, device_id, meta_json, payload, iv, tag`

// TagCount is a tag with the number of entries carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// CreateEntry validates n, encrypts its payload and stores it. The returned
// entry carries the plaintext payload.
func (c *Core) CreateEntry(ctx context.Context, n entry.New) (*entry.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}

	n, err := entry.Validate(n)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	id, err := c.newID(now)
	if err != nil {
		return nil, fmt.Errorf("core: failed to generate id: %w", err)
	}

	e := &entry.Entry{
		ID:            id,
		Type:          n.Type,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: entry.SchemaVersion,
		Tags:          n.Tags,
		Source:        n.Source,
		DeviceID:      n.DeviceID,
		Meta:          n.Meta,
		Payload:       n.Payload,
	}

	sealed, err := record.Seal(c.prims, c.sessionKey, record.EntryAAD(e.SchemaVersion, e.ID, string(e.Type)), e.Payload)
	if err != nil {
		return nil, fmt.Errorf("core: failed to encrypt entry: %w", err)
	}

	var metaJSON any
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("core: failed to marshal meta: %w", err)
		}
		metaJSON = string(b)
	}

	ts := entry.FormatTime(now)
	err = c.db.Tx(ctx, func(tx rowstore.Runner) error {
		if _, err := tx.Run(ctx,
			`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(e.Type), ts, ts, e.SchemaVersion,
			nullable(e.Source), nullable(e.DeviceID), metaJSON,
			sealed.Ciphertext, sealed.IV, sealed.Tag,
		); err != nil {
			return fmt.Errorf("core: failed to insert entry: %w", err)
		}
		for _, tag := range e.Tags {
			if _, err := tx.Run(ctx,
				`INSERT OR IGNORE INTO entry_tags (entry_id, tag) VALUES (?, ?)`,
				e.ID, tag,
			); err != nil {
				return fmt.Errorf("core: failed to insert tag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		c.auditLog(audit.OpEntryCreate, audit.ResultError, "", nil)
		return nil, err
	}

	c.auditLog(audit.OpEntryCreate, audit.ResultSuccess, e.ID, map[string]any{"type": string(e.Type)})
	return e, nil
}

// GetEntry returns the entry with id, decrypted. A row whose ciphertext or
// bound metadata was altered fails with record.ErrIntegrity.
func (c *Core) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}

	row, err := c.db.Get(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, rowstore.ErrNoRow) {
			return nil, fmt.Errorf("%w: entry %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("core: failed to read entry: %w", err)
	}

	e, err := c.decodeRow(ctx, row)
	if err != nil {
		c.auditLog(audit.OpEntryGet, audit.ResultError, id, nil)
		return nil, err
	}

	c.auditLog(audit.OpEntryGet, audit.ResultSuccess, id, nil)
	return e, nil
}

// Query returns entries matching f, newest first. If some rows fail their
// integrity check the others are still returned, together with a
// *QueryIntegrityError naming the failed ids.
func (c *Core) Query(ctx context.Context, f entry.Filter, page *entry.Pagination) ([]*entry.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}

	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	if page != nil {
		if err := page.Validate(); err != nil {
			return nil, err
		}
	}

	where, args := buildWhere(f)
	q := `SELECT ` + entryColumns + ` FROM entries e` + where + ` ORDER BY created_at DESC, id DESC`
	if page != nil && (page.Limit > 0 || page.Offset > 0) {
		limit := page.Limit
		if limit == 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, page.Offset)
	}

	rows, err := c.db.All(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("core: failed to query entries: %w", err)
	}

	entries := make([]*entry.Entry, 0, len(rows))
	var bad []string
	for _, row := range rows {
		e, err := c.decodeRow(ctx, row)
		if err != nil {
			if errors.Is(err, record.ErrIntegrity) {
				bad = append(bad, row.String("id"))
				continue
			}
			return nil, err
		}
		entries = append(entries, e)
	}

	c.auditLog(audit.OpEntryQuery, audit.ResultSuccess, "", map[string]any{"results": len(entries)})

	if len(bad) > 0 {
		c.log.Warn("entries failed integrity check", "count", len(bad), "ids", strings.Join(bad, ","))
		return entries, &QueryIntegrityError{IDs: bad}
	}
	return entries, nil
}

// CountEntries counts entries matching f without decrypting anything.
func (c *Core) CountEntries(ctx context.Context, f entry.Filter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.requireUnlocked(); err != nil {
		return 0, err
	}

	f, err := f.Normalize()
	if err != nil {
		return 0, err
	}

	where, args := buildWhere(f)
	row, err := c.db.Get(ctx, `SELECT COUNT(*) AS n FROM entries e`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("core: failed to count entries: %w", err)
	}
	return int(row.Int("n")), nil
}

// ListTags returns every tag in use, most used first.
func (c *Core) ListTags(ctx context.Context) ([]TagCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}

	rows, err := c.db.All(ctx, `SELECT tag, COUNT(*) AS n FROM entry_tags GROUP BY tag ORDER BY n DESC, tag ASC`)
	if err != nil {
		return nil, fmt.Errorf("core: failed to list tags: %w", err)
	}

	tags := make([]TagCount, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, TagCount{Tag: row.String("tag"), Count: int(row.Int("n"))})
	}
	return tags, nil
}

// buildWhere turns a normalized filter into a WHERE clause over entries e.
// Timestamps are fixed width, so string comparison is time comparison.
func buildWhere(f entry.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Type != "" {
		conds = append(conds, "e.type = ?")
		args = append(args, string(f.Type))
	}
	if f.Time.From != "" {
		conds = append(conds, "e.created_at >= ?")
		args = append(args, f.Time.From)
	}
	if f.Time.To != "" {
		conds = append(conds, "e.created_at <= ?")
		args = append(args, f.Time.To)
	}
	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Tags)), ", ")
		conds = append(conds, "e.id IN (SELECT entry_id FROM entry_tags WHERE tag IN ("+placeholders+
			") GROUP BY entry_id HAVING COUNT(DISTINCT tag) = ?)")
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
		args = append(args, len(f.Tags))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// decodeRow rebuilds an entry from its row and decrypts the payload with
// the AAD recomputed from the stored columns.
func (c *Core) decodeRow(ctx context.Context, row rowstore.Row) (*entry.Entry, error) {
	id := row.String("id")

	created, err := entry.ParseTime(row.String("created_at"))
	if err != nil {
		return nil, fmt.Errorf("core: entry %s: bad created_at: %w", id, record.ErrIntegrity)
	}
	updated, err := entry.ParseTime(row.String("updated_at"))
	if err != nil {
		return nil, fmt.Errorf("core: entry %s: bad updated_at: %w", id, record.ErrIntegrity)
	}

	e := &entry.Entry{
		ID:            id,
		Type:          entry.Type(row.String("type")),
		CreatedAt:     created,
		UpdatedAt:     updated,
		SchemaVersion: int(row.Int("schema_version")),
		Source:        row.String("source"),
		DeviceID:      row.String("device_id"),
	}

	if !row.IsNull("meta_json") {
		if err := json.Unmarshal(row.Bytes("meta_json"), &e.Meta); err != nil {
			return nil, fmt.Errorf("core: entry %s: bad meta: %w", id, record.ErrIntegrity)
		}
	}

	payload, err := record.Open(c.prims, c.sessionKey, record.EntryAAD(e.SchemaVersion, e.ID, string(e.Type)), record.Sealed{
		IV:         row.Bytes("iv"),
		Tag:        row.Bytes("tag"),
		Ciphertext: row.Bytes("payload"),
	})
	if err != nil {
		return nil, fmt.Errorf("core: entry %s: %w", id, err)
	}
	e.Payload = payload

	tagRows, err := c.db.All(ctx, `SELECT tag FROM entry_tags WHERE entry_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("core: failed to read tags: %w", err)
	}
	for _, tr := range tagRows {
		e.Tags = append(e.Tags, tr.String("tag"))
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
