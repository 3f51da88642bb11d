package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riskledger/riskledger/internal/core"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when inserting an id that already exists.
	ErrConflict = errors.New("document already exists")
	// ErrStale is returned by guarded writes when the document's updated_at
	// no longer matches the value the caller read.
	ErrStale = errors.New("document changed since it was read")
)

const defaultListLimit = 100

// DocumentQuery pages through a collection in id order.
type DocumentQuery struct {
	Collection core.Collection
	AfterID    string
	Limit      int
}

// InsertDocument stores a new document. An empty ID is assigned a UUID.
func (s *Store) InsertDocument(ctx context.Context, doc *core.Document) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if doc == nil {
		return errors.New("document is required")
	}
	if doc.Collection == "" {
		return errors.New("collection is required")
	}

	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}

	body, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	result, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING
	`, string(doc.Collection), doc.ID, string(body), doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrConflict)
	}
	return nil
}

// GetDocument loads one document.
func (s *Store) GetDocument(ctx context.Context, collection core.Collection, id string) (*core.Document, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, body, created_at, updated_at
		FROM documents
		WHERE collection = ? AND id = ?
	`, string(collection), strings.TrimSpace(id))

	doc, err := scanDocument(collection, row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns up to Limit documents with ids greater than AfterID.
func (s *Store) ListDocuments(ctx context.Context, q DocumentQuery) ([]core.Document, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, body, created_at, updated_at
		FROM documents
		WHERE collection = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, string(q.Collection), q.AfterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	docs := []core.Document{}
	for rows.Next() {
		doc, err := scanDocument(q.Collection, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ReplaceDocument overwrites the body of an existing document. This is the
// record API's PUT; migrations use UpdateDocumentField instead.
func (s *Store) ReplaceDocument(ctx context.Context, doc *core.Document) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if doc == nil {
		return errors.New("document is required")
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}

	body, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	now := s.now()
	result, err := s.DB.ExecContext(ctx, `
		UPDATE documents
		SET body = ?, updated_at = ?
		WHERE collection = ? AND id = ?
	`, string(body), now.UnixNano(), string(doc.Collection), doc.ID)
	if err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrNotFound)
	}
	doc.UpdatedAt = now
	return nil
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, collection core.Collection, id string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, string(collection), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, collection core.Collection) (int, error) {
	return s.CountMatching(ctx, collection, "")
}

// CountMatching counts documents in a collection satisfying an SQL predicate
// over the body column, e.g. json_type(body, '$.roles') IS NOT 'array'.
// The predicate is spliced into the statement and must come from code,
// never from user input.
func (s *Store) CountMatching(ctx context.Context, collection core.Collection, predicate string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where := "WHERE collection = ?"
	if predicate = strings.TrimSpace(predicate); predicate != "" {
		where += " AND (" + predicate + ")"
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM documents
		%s
	`, where), string(collection))

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// UpdateDocumentField sets one JSON path inside the body and stamps
// updated_at in a single statement. The write only applies when the stored
// updated_at still equals expectedUpdatedAt; otherwise ErrStale (or
// ErrNotFound when the document is gone) is returned. Other fields are left
// untouched. The new updated_at is returned.
func (s *Store) UpdateDocumentField(ctx context.Context, collection core.Collection, id, path string, value any, expectedUpdatedAt time.Time) (time.Time, error) {
	if s == nil || s.DB == nil {
		return time.Time{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !strings.HasPrefix(path, "$.") {
		return time.Time{}, fmt.Errorf("invalid json path %q", path)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode field value: %w", err)
	}

	now := s.now()
	if !now.After(expectedUpdatedAt) {
		now = expectedUpdatedAt.Add(time.Nanosecond)
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE documents
		SET body = json_set(body, ?, json(?)), updated_at = ?
		WHERE collection = ? AND id = ? AND updated_at = ?
	`, path, string(encoded), now.UnixNano(), string(collection), id, expectedUpdatedAt.UnixNano())
	if err != nil {
		return time.Time{}, fmt.Errorf("update %s on %s/%s: %w", path, collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("update %s on %s/%s: %w", path, collection, id, err)
	}
	if affected == 1 {
		return now, nil
	}

	var exists int
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE collection = ? AND id = ?`, string(collection), id)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("check document: %w", err)
	}
	return time.Time{}, fmt.Errorf("%s/%s: %w", collection, id, ErrStale)
}

func (s *Store) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func scanDocument(collection core.Collection, scan func(dest ...any) error) (*core.Document, error) {
	var (
		id        string
		body      string
		createdAt int64
		updatedAt int64
	)
	if err := scan(&id, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc := &core.Document{
		Collection: collection,
		ID:         id,
		CreatedAt:  time.Unix(0, createdAt).UTC(),
		UpdatedAt:  time.Unix(0, updatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(body), &doc.Body); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}
	return doc, nil
}
