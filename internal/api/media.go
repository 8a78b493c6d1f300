package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"modtok/internal/httpx"
	"modtok/internal/lib/mediafile"
	"modtok/internal/observability"
)

const actionMediaReorder = "reorder"

var mediaEntityTables = map[string]string{
	entityProvider: "providers",
	entityHouse:    "houses",
	entityService:  "service_products",
	"blog":         "blog_posts",
	"news":         "news_posts",
	"landing":      "landing_pages",
}

var mediaEntityTypes = []string{entityProvider, entityHouse, entityService, "blog", "news", "landing"}

func (s *Server) mediaResource() *resource {
	return &resource{
		Name:   "media",
		Target: "media_asset",
		Table:  "media_assets",
		Fields: []field{
			required(enum("entity_type", "", mediaEntityTypes...)),
			required(ref("entity_id")),
			required(str("url", 500)),
			readOnly(str("storage_path", 500)),
			enum("kind", string(mediafile.KindImage), string(mediafile.KindImage), string(mediafile.KindVideo), string(mediafile.KindDocument)),
			str("alt_text", 255),
			str("caption", 500),
			withDefault(ranged(intField("sort_order"), 0, 100000), int64(0)),
			flag("is_primary", false),
			readOnly(field{Name: "size_bytes", Kind: kindInt}),
			readOnly(str("content_type", 100)),
			readOnly(ref("created_by")),
		},
		Search:      []string{"alt_text", "caption"},
		Filters:     []string{"entity_type", "entity_id", "kind", "is_primary"},
		Sortable:    []string{"sort_order"},
		DefaultSort: "sort_order",
		BulkFields:  []string{"alt_text", "caption"},
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			if !m.IsCreate && !m.Has("entity_type") && !m.Has("entity_id") {
				return nil
			}
			return s.requireMediaEntity(ctx, m.String("entity_type"), m.String("entity_id"))
		},
		AfterWriteTx: func(ctx context.Context, tx *sqlx.Tx, m *mutation) error {
			if !m.Has("is_primary") || !m.Bool("is_primary") {
				return nil
			}
			return clearPrimarySiblings(ctx, tx, m.String("entity_type"), m.String("entity_id"), m.ID)
		},
		AfterDelete: func(ctx context.Context, s *Server, existing map[string]any) {
			s.deleteStoredObject(ctx, existing)
		},
	}
}

func (s *Server) requireMediaEntity(ctx context.Context, entityType, entityID string) error {
	table, ok := mediaEntityTables[entityType]
	if !ok {
		return newValidation("entity_type", "tipo de entidad invalido")
	}
	return requireEntity(ctx, s, table, entityID, "entity_id")
}

// clearPrimarySiblings keeps at most one primary asset per entity.
func clearPrimarySiblings(ctx context.Context, tx *sqlx.Tx, entityType, entityID, keepID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE media_assets SET is_primary = 0
		WHERE entity_type = ? AND entity_id = ? AND id <> ? AND is_primary = 1
	`, entityType, entityID, keepID)
	return err
}

// deleteStoredObject removes the uploaded object. Failures are logged only.
func (s *Server) deleteStoredObject(ctx context.Context, row map[string]any) {
	objectPath, _ := row["storage_path"].(string)
	if objectPath == "" {
		return
	}
	if err := s.storage.Delete(ctx, objectPath); err != nil {
		observability.FromContext(ctx).Warn("media object delete failed",
			zap.String("storage_path", objectPath), zap.Error(err))
	}
}

func (s *Server) mediaMaxBytes() int64 {
	if s.cfg.MediaMaxUploadBytes > 0 {
		return int64(s.cfg.MediaMaxUploadBytes)
	}
	return 15 << 20
}

func (s *Server) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	admin, _ := adminAuthFromContext(r.Context())
	maxBytes := s.mediaMaxBytes()

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Archivo demasiado grande (max %dMB)", maxBytes>>20))
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "Formulario invalido")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	entityType := strings.ToLower(strings.TrimSpace(r.FormValue("entity_type")))
	entityID, err := uuid.Parse(strings.TrimSpace(r.FormValue("entity_id")))
	if err != nil {
		httpx.WriteValidation(w, map[string]string{"entity_id": "id invalido"})
		return
	}
	if err := s.requireMediaEntity(r.Context(), entityType, entityID.String()); err != nil {
		writeStoreError(w, log, err, "Error validando entidad")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteValidation(w, map[string]string{"file": "requerido"})
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "No se pudo leer el archivo")
		return
	}
	kind, err := mediafile.Classify(payload, header.Filename, header.Header.Get("Content-Type"), maxBytes)
	if err != nil {
		switch {
		case errors.Is(err, mediafile.ErrTooLarge):
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Archivo demasiado grande (max %dMB)", maxBytes>>20))
		case errors.Is(err, mediafile.ErrEmptyFile):
			httpx.WriteValidation(w, map[string]string{"file": "archivo vacio"})
		default:
			httpx.WriteValidation(w, map[string]string{"file": "tipo de archivo no permitido"})
		}
		return
	}

	id := uuid.NewString()
	objectPath := path.Join("media", entityType, entityID.String(), id+kind.Ext)
	if err := s.storage.Put(r.Context(), objectPath, payload, kind.ContentType); err != nil {
		log.Error("media upload failed", zap.String("storage_path", objectPath), zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, "No se pudo subir el archivo")
		return
	}

	altText := truncateRunes(strings.TrimSpace(r.FormValue("alt_text")), 255)
	isPrimary, _ := boolValue(r.FormValue("is_primary"))
	url := s.storage.PublicURL(objectPath)

	after := map[string]any{
		"entity_type":  entityType,
		"entity_id":    entityID.String(),
		"url":          url,
		"storage_path": objectPath,
		"kind":         string(kind.Kind),
		"alt_text":     altText,
		"is_primary":   isPrimary,
		"size_bytes":   len(payload),
		"content_type": kind.ContentType,
	}
	entry := newAuditEntry(r, admin.User, actionCreate, "media_asset", id, nil, after)
	err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
		var next int64
		if err := tx.QueryRowContext(r.Context(), `
			SELECT COALESCE(MAX(sort_order) + 1, 0) FROM media_assets WHERE entity_type = ? AND entity_id = ?
		`, entityType, entityID.String()).Scan(&next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(r.Context(), `
			INSERT INTO media_assets (id, entity_type, entity_id, url, storage_path, kind, alt_text, sort_order, is_primary, size_bytes, content_type, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, entityType, entityID.String(), url, objectPath, string(kind.Kind), nullableString(altText), next, isPrimary, len(payload), kind.ContentType, nullableString(admin.User.ID)); err != nil {
			return err
		}
		if isPrimary {
			if err := clearPrimarySiblings(r.Context(), tx, entityType, entityID.String(), id); err != nil {
				return err
			}
		}
		return insertAudit(r.Context(), tx, entry)
	})
	if err != nil {
		s.deleteStoredObject(r.Context(), map[string]any{"storage_path": objectPath})
		writeStoreError(w, log, err, "Error guardando archivo")
		return
	}
	s.afterAudit(entry)

	row, err := s.loadRow(r.Context(), s.resourceByName("media"), "media_assets", false, id)
	if err != nil {
		writeStoreError(w, log, err, "Error leyendo archivo")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "data": row})
}

type mediaReorderRequest struct {
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	IDs        []string `json:"ids"`
}

func (s *Server) handleMediaReorder(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	admin, _ := adminAuthFromContext(r.Context())

	var req mediaReorderRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	if _, ok := mediaEntityTables[entityType]; !ok {
		httpx.WriteValidation(w, map[string]string{"entity_type": "tipo de entidad invalido"})
		return
	}
	entityID, err := uuid.Parse(strings.TrimSpace(req.EntityID))
	if err != nil {
		httpx.WriteValidation(w, map[string]string{"entity_id": "id invalido"})
		return
	}
	raw := make([]any, len(req.IDs))
	for i, id := range req.IDs {
		raw[i] = id
	}
	ids, err := parseIDs(map[string]any{"ids": raw})
	if err != nil {
		writeStoreError(w, log, err, "Error")
		return
	}
	if len(ids) != len(req.IDs) {
		httpx.WriteValidation(w, map[string]string{"ids": "ids duplicados"})
		return
	}

	q, args, err := sqlx.In("SELECT COUNT(*) FROM media_assets WHERE entity_type = ? AND entity_id = ? AND id IN (?)", entityType, entityID.String(), ids)
	if err != nil {
		writeStoreError(w, log, err, "Error ordenando archivos")
		return
	}
	var owned int
	if err := s.db.QueryRowContext(r.Context(), q, args...).Scan(&owned); err != nil {
		writeStoreError(w, log, err, "Error ordenando archivos")
		return
	}
	if owned != len(ids) {
		httpx.WriteValidation(w, map[string]string{"ids": "algunos archivos no pertenecen a la entidad"})
		return
	}

	entry := newAuditEntry(r, admin.User, actionMediaReorder, "media_asset", entityID.String(), nil,
		map[string]any{"entity_type": entityType, "ids": ids})
	err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
		for i, id := range ids {
			if _, err := tx.ExecContext(r.Context(), "UPDATE media_assets SET sort_order = ? WHERE id = ?", i, id); err != nil {
				return err
			}
		}
		return insertAudit(r.Context(), tx, entry)
	})
	if err != nil {
		writeStoreError(w, log, err, "Error ordenando archivos")
		return
	}
	s.afterAudit(entry)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "ids": ids})
}
