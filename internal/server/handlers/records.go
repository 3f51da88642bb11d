package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/store"
	apperrors "github.com/riskledger/riskledger/internal/errors"
	"github.com/riskledger/riskledger/internal/metrics"
)

const (
	maxRecordBytes   = 1 << 20
	maxRecordListLen = 500
)

// RecordStore is the storage surface behind the record API. *store.Store
// implements it.
type RecordStore interface {
	InsertDocument(ctx context.Context, doc *core.Document) error
	GetDocument(ctx context.Context, collection core.Collection, id string) (*core.Document, error)
	ListDocuments(ctx context.Context, q store.DocumentQuery) ([]core.Document, error)
	ReplaceDocument(ctx context.Context, doc *core.Document) error
	DeleteDocument(ctx context.Context, collection core.Collection, id string) error
}

// RecordsHandler serves shallow CRUD over the known collections.
type RecordsHandler struct {
	Store RecordStore
}

// DataResponse is the success envelope of the record API.
type DataResponse struct {
	Data any    `json:"data"`
	Next string `json:"next,omitempty"`
}

// Routes mounts the handler under /records.
func (h *RecordsHandler) Routes(r chi.Router) {
	r.Get("/{collection}", h.List)
	r.Post("/{collection}", h.Create)
	r.Get("/{collection}/{id}", h.Get)
	r.Put("/{collection}/{id}", h.Replace)
	r.Delete("/{collection}/{id}", h.Delete)
}

// List pages through a collection in id order. ?after= continues from the
// previous page's "next" value.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRecordListLen {
			respondWithError(w, r, apperrors.NewInvalidInputError(fmt.Sprintf("limit must be between 1 and %d", maxRecordListLen)))
			return
		}
		limit = parsed
	}

	docs, err := h.Store.ListDocuments(r.Context(), store.DocumentQuery{
		Collection: collection,
		AfterID:    r.URL.Query().Get("after"),
		Limit:      limit,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	response := DataResponse{Data: docs}
	if len(docs) == limit {
		response.Next = docs[len(docs)-1].ID
	}
	writeJSON(w, http.StatusOK, response)
}

// Create inserts a record. A string "id" member of the payload becomes the
// record id; otherwise one is generated.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	doc := &core.Document{Collection: collection, Body: body}
	if id, isString := body["id"].(string); isString {
		doc.ID = strings.TrimSpace(id)
		delete(body, "id")
	}

	err := h.Store.InsertDocument(r.Context(), doc)
	metrics.RecordWrite("create", string(collection), err == nil)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Data: doc})
}

// Get returns one record.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}
	doc, err := h.Store.GetDocument(r.Context(), collection, chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: doc})
}

// Replace overwrites a record's body.
func (h *RecordsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	delete(body, "id")

	doc := &core.Document{Collection: collection, ID: chi.URLParam(r, "id"), Body: body}
	err := h.Store.ReplaceDocument(r.Context(), doc)
	metrics.RecordWrite("replace", string(collection), err == nil)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: doc})
}

// Delete removes a record.
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}
	err := h.Store.DeleteDocument(r.Context(), collection, chi.URLParam(r, "id"))
	metrics.RecordWrite("delete", string(collection), err == nil)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordsHandler) collection(w http.ResponseWriter, r *http.Request) (core.Collection, bool) {
	name := chi.URLParam(r, "collection")
	collection, ok := core.ParseCollection(name)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("unknown collection %q", name)))
		return "", false
	}
	return collection, true
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body too large or unreadable"))
		return nil, false
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object"))
		return nil, false
	}
	return body, true
}
