package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evanschultz/trackflow/internal/domain"
)

// Records stores the containers and entities of one board kind.
type Records[E Entity] struct {
	store *Store
	codec Codec[E]
}

// NewRecords constructs a record store for the codec's kind.
func NewRecords[E Entity](store *Store, codec Codec[E]) *Records[E] {
	return &Records[E]{store: store, codec: codec}
}

// ListContainers lists the stages of a board scope in order.
func (r *Records[E]) ListContainers(ctx context.Context, scopeID string) ([]domain.Container, error) {
	rows, err := r.store.db.QueryContext(ctx, r.store.rebind(`
		SELECT id, kind, scope_id, title, color, position, created_at, updated_at
		FROM containers
		WHERE kind = ? AND scope_id = ?
		ORDER BY position ASC, id ASC
	`), string(r.codec.Kind), scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Container{}
	for rows.Next() {
		var (
			c          domain.Container
			kind       string
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&c.ID, &kind, &c.ScopeID, &c.Title, &c.Color, &c.Order, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		c.Kind = domain.Kind(kind)
		c.CreatedAt = parseTS(createdRaw)
		c.UpdatedAt = parseTS(updatedRaw)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertContainer inserts or replaces a stage.
func (r *Records[E]) UpsertContainer(ctx context.Context, c domain.Container) error {
	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`
		INSERT INTO containers(id, kind, scope_id, title, color, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			color = excluded.color,
			position = excluded.position,
			updated_at = excluded.updated_at
	`), c.ID, string(r.codec.Kind), c.ScopeID, c.Title, c.Color, c.Order, ts(c.CreatedAt), ts(c.UpdatedAt))
	return err
}

// DeleteContainer removes a stage together with any entity rows still inside it.
func (r *Records[E]) DeleteContainer(ctx context.Context, id string) (err error) {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.store.rebind(`
		DELETE FROM entity_history
		WHERE entity_id IN (SELECT id FROM entities WHERE kind = ? AND container_id = ?)
	`), string(r.codec.Kind), id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, r.store.rebind(`DELETE FROM entities WHERE kind = ? AND container_id = ?`), string(r.codec.Kind), id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, r.store.rebind(`DELETE FROM containers WHERE id = ? AND kind = ?`), id, string(r.codec.Kind)); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// entityRow holds the scanned columns of one entity before decoding.
type entityRow struct {
	tracking    domain.Tracking
	comments    string
	attachments string
	payload     string
}

// ListEntities lists the entities inside the given containers, with their history newest first.
func (r *Records[E]) ListEntities(ctx context.Context, containerIDs []string) ([]E, error) {
	if len(containerIDs) == 0 {
		return []E{}, nil
	}
	args := make([]any, 0, len(containerIDs)+1)
	args = append(args, string(r.codec.Kind))
	for _, id := range containerIDs {
		args = append(args, id)
	}
	in := placeholders(len(containerIDs))

	rows, err := r.store.db.QueryContext(ctx, r.store.rebind(`
		SELECT id, container_id, position, entered_container_at, time_in_container_json,
			comments_json, attachments_json, payload_json, created_at, updated_at
		FROM entities
		WHERE kind = ? AND container_id IN (`+in+`)
		ORDER BY container_id ASC, position ASC, id ASC
	`), args...)
	if err != nil {
		return nil, err
	}
	scanned := []entityRow{}
	index := map[string]int{}
	for rows.Next() {
		var (
			row         entityRow
			enteredRaw  string
			durationRaw string
			createdRaw  string
			updatedRaw  string
		)
		if err := rows.Scan(
			&row.tracking.ID,
			&row.tracking.ContainerID,
			&row.tracking.Position,
			&enteredRaw,
			&durationRaw,
			&row.comments,
			&row.attachments,
			&row.payload,
			&createdRaw,
			&updatedRaw,
		); err != nil {
			_ = rows.Close()
			return nil, err
		}
		durations, err := decodeDurations(durationRaw)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		row.tracking.TimeInContainer = durations
		row.tracking.EnteredContainerAt = parseTS(enteredRaw)
		row.tracking.CreatedAt = parseTS(createdRaw)
		row.tracking.UpdatedAt = parseTS(updatedRaw)
		index[row.tracking.ID] = len(scanned)
		scanned = append(scanned, row)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, in, args, scanned, index); err != nil {
		return nil, err
	}

	out := make([]E, 0, len(scanned))
	for _, row := range scanned {
		notes, err := decodeAnnotations(row.comments, row.attachments)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", row.tracking.ID, err)
		}
		ent, err := r.codec.Decode([]byte(row.payload), row.tracking, notes)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", row.tracking.ID, err)
		}
		out = append(out, ent)
	}
	return out, nil
}

// loadHistory attaches history rows, newest first, to scanned entities.
func (r *Records[E]) loadHistory(ctx context.Context, in string, args []any, scanned []entityRow, index map[string]int) error {
	rows, err := r.store.db.QueryContext(ctx, r.store.rebind(`
		SELECT h.id, h.entity_id, h.action, h.details, h.created_at
		FROM entity_history h
		JOIN entities e ON e.id = h.entity_id
		WHERE e.kind = ? AND e.container_id IN (`+in+`)
		ORDER BY h.entity_id ASC, h.seq DESC
	`), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry      domain.LogEntry
			entityID   string
			action     string
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entityID, &action, &entry.Details, &createdRaw); err != nil {
			return err
		}
		idx, ok := index[entityID]
		if !ok {
			continue
		}
		entry.Action = domain.LogAction(action)
		entry.Timestamp = parseTS(createdRaw)
		scanned[idx].tracking.History = append(scanned[idx].tracking.History, entry)
	}
	return rows.Err()
}

// UpsertEntity writes the entity row and appends any history entries not yet stored.
func (r *Records[E]) UpsertEntity(ctx context.Context, e E) (err error) {
	tr := e.Track()
	durations, err := encodeDurations(tr.TimeInContainer)
	if err != nil {
		return err
	}
	comments, attachments, err := encodeAnnotations(e.Annotate())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r.codec.Encode(e))
	if err != nil {
		return fmt.Errorf("encode payload_json: %w", err)
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.store.rebind(`
		INSERT INTO entities(
			id, kind, container_id, position, entered_container_at, time_in_container_json,
			comments_json, attachments_json, payload_json, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			container_id = excluded.container_id,
			position = excluded.position,
			entered_container_at = excluded.entered_container_at,
			time_in_container_json = excluded.time_in_container_json,
			comments_json = excluded.comments_json,
			attachments_json = excluded.attachments_json,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at
	`),
		tr.ID,
		string(r.codec.Kind),
		tr.ContainerID,
		tr.Position,
		ts(tr.EnteredContainerAt),
		durations,
		comments,
		attachments,
		string(payload),
		ts(tr.CreatedAt),
		ts(tr.UpdatedAt),
	)
	if err != nil {
		return err
	}

	var stored int
	if err = tx.QueryRowContext(ctx, r.store.rebind(`SELECT COUNT(*) FROM entity_history WHERE entity_id = ?`), tr.ID).Scan(&stored); err != nil {
		return err
	}
	// History is newest first, so unseen entries sit at the head.
	total := len(tr.History)
	for i := total - stored - 1; i >= 0; i-- {
		entry := tr.History[i]
		_, err = tx.ExecContext(ctx, r.store.rebind(`
			INSERT INTO entity_history(id, entity_id, seq, action, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`), entry.ID, tr.ID, total-1-i, string(entry.Action), entry.Details, ts(entry.Timestamp))
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// DeleteEntity removes an entity row and its history.
func (r *Records[E]) DeleteEntity(ctx context.Context, id string) (err error) {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, r.store.rebind(`DELETE FROM entity_history WHERE entity_id = ?`), id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, r.store.rebind(`DELETE FROM entities WHERE id = ? AND kind = ?`), id, string(r.codec.Kind)); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}
