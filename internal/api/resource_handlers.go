package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"modtok/internal/catalog"
	"modtok/internal/httpx"
	"modtok/internal/observability"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxBulkIDs       = 200
)

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func parsePage(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page")))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// parseSort accepts sort=-col or sort=col&order=desc. Columns outside
// allowed fall back to def.
func parseSort(r *http.Request, allowed []string, def string) (col string, desc bool) {
	col, desc = splitSort(r.URL.Query().Get("sort"))
	if !sortAllowed(col, allowed) {
		col, desc = splitSort(def)
		if col == "" {
			return "created_at", true
		}
		return col, desc
	}
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("order"))) {
	case "desc":
		desc = true
	case "asc":
		desc = false
	}
	return col, desc
}

func splitSort(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "-") {
		return raw[1:], true
	}
	return raw, false
}

func sortAllowed(col string, allowed []string) bool {
	if col == "" {
		return false
	}
	if col == "created_at" || col == "updated_at" {
		return true
	}
	for _, a := range allowed {
		if a == col {
			return true
		}
	}
	return false
}

// listQuery builds the WHERE clause shared by COUNT and SELECT.
func (res *resource) listQuery(r *http.Request) (string, []any, error) {
	q := r.URL.Query()
	var where []string
	var args []any

	if sw, sa := res.scopeWhere(); sw != "" {
		where = append(where, sw)
		args = append(args, sa...)
	}

	if term := strings.TrimSpace(q.Get("search")); term != "" && len(res.Search) > 0 {
		like := "%" + strings.NewReplacer("%", `\%`, "_", `\_`).Replace(term) + "%"
		parts := make([]string, len(res.Search))
		for i, col := range res.Search {
			parts[i] = col + " LIKE ?"
			args = append(args, like)
		}
		where = append(where, "("+strings.Join(parts, " OR ")+")")
	}

	for _, name := range res.Filters {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		f, ok := res.field(name)
		if !ok {
			f = field{Name: name, Kind: kindString}
		}
		values := strings.Split(raw, ",")
		coerced := make([]any, 0, len(values))
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if f.Kind == kindBool {
				b, ok := boolValue(v)
				if !ok {
					return "", nil, newValidation(name, "debe ser verdadero o falso")
				}
				if b {
					coerced = append(coerced, 1)
				} else {
					coerced = append(coerced, 0)
				}
				continue
			}
			coerced = append(coerced, v)
		}
		switch len(coerced) {
		case 0:
		case 1:
			where = append(where, name+" = ?")
			args = append(args, coerced[0])
		default:
			where = append(where, name+" IN (?)")
			args = append(args, coerced)
		}
	}

	if res.ListWhere != nil {
		extra, extraArgs, err := res.ListWhere(r)
		if err != nil {
			return "", nil, err
		}
		if extra != "" {
			where = append(where, extra)
			args = append(args, extraArgs...)
		}
	}

	if len(where) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(where, " AND "), args, nil
}

func (s *Server) handleResourceList(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		where, args, err := res.listQuery(r)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+res.Name)
			return
		}
		page, limit := parsePage(r)
		sortCol, desc := parseSort(r, res.Sortable, res.DefaultSort)
		dir := "ASC"
		if desc {
			dir = "DESC"
		}

		countQ, countArgs, err := sqlx.In("SELECT COUNT(*) FROM "+res.readFrom()+where, args...)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+res.Name)
			return
		}
		var total int
		if err := s.db.QueryRowContext(r.Context(), countQ, countArgs...).Scan(&total); err != nil {
			writeStoreError(w, log, err, "Error listando "+res.Name)
			return
		}

		fields := res.outputFields(true)
		selectQ := "SELECT " + selectList(fields) + " FROM " + res.readFrom() + where +
			" ORDER BY " + sortCol + " " + dir + ", id " + dir + " LIMIT ? OFFSET ?"
		selectQ, selectArgs, err := sqlx.In(selectQ, append(args, limit, (page-1)*limit)...)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+res.Name)
			return
		}
		rows, err := s.queryRows(r.Context(), fields, selectQ, selectArgs...)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+res.Name)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    rows,
			"pagination": pagination{
				Page:       page,
				Limit:      limit,
				Total:      total,
				TotalPages: int(math.Ceil(float64(total) / float64(limit))),
			},
		})
	}
}

func (s *Server) handleResourceGet(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		row, err := s.loadRow(r.Context(), res, res.readFrom(), true, id)
		if err != nil {
			writeStoreError(w, log, err, "Error leyendo "+res.Name)
			return
		}
		if res.Extra != nil {
			if err := res.Extra(r.Context(), s, row); err != nil {
				writeStoreError(w, log, err, "Error leyendo "+res.Name)
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": row})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid id")
		return "", false
	}
	return id.String(), true
}

func readBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := httpx.ReadJSON(r, &body); err != nil || body == nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return nil, false
	}
	return body, true
}

func (s *Server) handleResourceCreate(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		admin, _ := adminAuthFromContext(r.Context())
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		if action, ok := body["action"].(string); ok && strings.TrimSpace(action) != "" {
			s.runBulkAction(w, r, res, admin.User, strings.TrimSpace(action), body)
			return
		}

		m := newMutation(res, admin.User, true)
		m.ID = uuid.NewString()
		m.Input = body
		if errs := m.coerce(body); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}
		if res.hasColumn("created_by") {
			m.Set("created_by", admin.User.ID)
		}
		if res.Prepare != nil {
			if err := res.Prepare(r.Context(), s, m); err != nil {
				writeStoreError(w, log, err, "Error validando "+res.Name)
				return
			}
		}
		if res.SlugFrom != "" {
			if err := s.assignSlug(r.Context(), m, body); err != nil {
				writeStoreError(w, log, err, "Error generando slug")
				return
			}
		}
		m.dropVirtual()
		if errs := m.missingRequired(); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}

		cols := append([]string{"id"}, m.cols...)
		vals := make([]any, 0, len(cols))
		vals = append(vals, m.ID)
		for _, c := range m.cols {
			vals = append(vals, m.vals[c])
		}
		insertQ := "INSERT INTO " + res.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"

		entry := newAuditEntry(r, admin.User, actionCreate, res.Target, m.ID, nil, m.Changes())
		err := s.inTx(r.Context(), func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(r.Context(), insertQ, vals...); err != nil {
				return err
			}
			if res.AfterWriteTx != nil {
				if err := res.AfterWriteTx(r.Context(), tx, m); err != nil {
					return err
				}
			}
			return insertAudit(r.Context(), tx, entry)
		})
		if err != nil {
			writeStoreError(w, log, err, "Error creando "+res.Name)
			return
		}
		s.afterAudit(entry)
		log.Info("resource created", zap.String("resource", res.Name), zap.String("id", m.ID))

		row, err := s.loadRow(r.Context(), res, res.readFrom(), true, m.ID)
		if err != nil {
			writeStoreError(w, log, err, "Error leyendo "+res.Name)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "data": row})
	}
}

func (s *Server) handleResourceUpdate(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		admin, _ := adminAuthFromContext(r.Context())
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		body, ok := readBody(w, r)
		if !ok {
			return
		}

		existing, err := s.loadRow(r.Context(), res, res.Table, false, id)
		if err != nil {
			writeStoreError(w, log, err, "Error leyendo "+res.Name)
			return
		}

		m := newMutation(res, admin.User, false)
		m.ID = id
		m.Input = body
		m.Existing = existing
		if errs := m.coerce(body); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}
		if res.Prepare != nil {
			if err := res.Prepare(r.Context(), s, m); err != nil {
				writeStoreError(w, log, err, "Error validando "+res.Name)
				return
			}
		}
		if res.SlugFrom != "" {
			if _, provided := body["slug"]; provided {
				if err := s.assignSlug(r.Context(), m, body); err != nil {
					writeStoreError(w, log, err, "Error generando slug")
					return
				}
			}
		}
		m.dropVirtual()
		if errs := m.missingRequired(); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}
		if len(m.cols) == 0 {
			httpx.WriteError(w, http.StatusBadRequest, "Sin cambios")
			return
		}

		sets := make([]string, len(m.cols))
		vals := make([]any, 0, len(m.cols)+1)
		for i, c := range m.cols {
			sets[i] = c + " = ?"
			vals = append(vals, m.vals[c])
		}
		vals = append(vals, id)
		updateQ := "UPDATE " + res.Table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"

		entry := newAuditEntry(r, admin.User, actionUpdate, res.Target, id, existing, m.Changes())
		err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(r.Context(), updateQ, vals...); err != nil {
				return err
			}
			if res.AfterWriteTx != nil {
				if err := res.AfterWriteTx(r.Context(), tx, m); err != nil {
					return err
				}
			}
			return insertAudit(r.Context(), tx, entry)
		})
		if err != nil {
			writeStoreError(w, log, err, "Error actualizando "+res.Name)
			return
		}
		s.afterAudit(entry)

		row, err := s.loadRow(r.Context(), res, res.readFrom(), true, id)
		if err != nil {
			writeStoreError(w, log, err, "Error leyendo "+res.Name)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": row})
	}
}

func (s *Server) handleResourceDelete(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		admin, _ := adminAuthFromContext(r.Context())
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		existing, err := s.loadRow(r.Context(), res, res.Table, false, id)
		if err != nil {
			writeStoreError(w, log, err, "Error leyendo "+res.Name)
			return
		}
		m := newMutation(res, admin.User, false)
		m.ID = id
		m.Existing = existing
		if res.BeforeDelete != nil {
			if err := res.BeforeDelete(r.Context(), s, m); err != nil {
				writeStoreError(w, log, err, "Error eliminando "+res.Name)
				return
			}
		}

		entry := newAuditEntry(r, admin.User, actionDelete, res.Target, id, existing, nil)
		err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(r.Context(), "DELETE FROM "+res.Table+" WHERE id = ?", id); err != nil {
				return err
			}
			return insertAudit(r.Context(), tx, entry)
		})
		if err != nil {
			writeStoreError(w, log, err, "Error eliminando "+res.Name)
			return
		}
		s.afterAudit(entry)
		if res.AfterDelete != nil {
			res.AfterDelete(r.Context(), s, existing)
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
	}
}

// parseIDs validates the ids list of a bulk body.
func parseIDs(body map[string]any) ([]string, error) {
	raw, ok := body["ids"].([]any)
	if !ok || len(raw) == 0 {
		return nil, newValidation("ids", "requerido")
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, newValidation("ids", "id invalido")
		}
		if seen[id.String()] {
			continue
		}
		seen[id.String()] = true
		out = append(out, id.String())
	}
	if len(out) > maxBulkIDs {
		return nil, newValidation("ids", fmt.Sprintf("maximo %d ids", maxBulkIDs))
	}
	return out, nil
}

func (s *Server) handleResourceBulkUpdate(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		admin, _ := adminAuthFromContext(r.Context())
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		ids, err := parseIDs(body)
		if err != nil {
			writeStoreError(w, log, err, "Error")
			return
		}
		data, ok := body["data"].(map[string]any)
		if !ok || len(data) == 0 {
			httpx.WriteValidation(w, map[string]string{"data": "requerido"})
			return
		}
		allowed := map[string]bool{}
		for _, f := range res.BulkFields {
			allowed[f] = true
		}
		for k := range data {
			if !allowed[k] {
				httpx.WriteValidation(w, map[string]string{k: "no se permite en edicion masiva"})
				return
			}
		}
		if res.GuardIDs != nil {
			if err := res.GuardIDs(r.Context(), s, admin.User, actionBulkUpdate, ids); err != nil {
				writeStoreError(w, log, err, "Error")
				return
			}
		}

		m := newMutation(res, admin.User, false)
		m.Input = data
		if errs := m.coerce(data); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}
		if errs := m.missingRequired(); len(errs) > 0 {
			httpx.WriteValidation(w, errs)
			return
		}
		if len(m.cols) == 0 {
			httpx.WriteError(w, http.StatusBadRequest, "Sin cambios")
			return
		}
		var rawSets []string
		if res.hasColumn("published_at") && m.String("status") == "published" {
			rawSets = append(rawSets, stampPublishedAt)
		}
		affected, err := s.bulkSet(r, res, admin.User, actionBulkUpdate, ids, m.cols, m.vals, rawSets...)
		if err != nil {
			writeStoreError(w, log, err, "Error actualizando "+res.Name)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "affected": affected, "ids": ids})
	}
}

func (s *Server) runBulkAction(w http.ResponseWriter, r *http.Request, res *resource, admin adminUser, action string, body map[string]any) {
	log := observability.FromContext(r.Context())
	act, ok := res.Actions[action]
	if !ok {
		httpx.WriteValidation(w, map[string]string{"action": "accion desconocida"})
		return
	}
	ids, err := parseIDs(body)
	if err != nil {
		writeStoreError(w, log, err, "Error")
		return
	}
	if res.GuardIDs != nil {
		if err := res.GuardIDs(r.Context(), s, admin, action, ids); err != nil {
			writeStoreError(w, log, err, "Error")
			return
		}
	}
	if act.Guard != nil {
		if err := act.Guard(r.Context(), s, admin, ids); err != nil {
			writeStoreError(w, log, err, "Error")
			return
		}
	}
	cols := make([]string, 0, len(act.Set))
	for _, f := range res.Fields {
		if _, ok := act.Set[f.Name]; ok {
			cols = append(cols, f.Name)
		}
	}
	affected, err := s.bulkSet(r, res, admin, action, ids, cols, act.Set, act.RawSet...)
	if err != nil {
		writeStoreError(w, log, err, "Error aplicando "+action)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "action": action, "affected": affected, "ids": ids})
}

// stampPublishedAt keeps an explicit published_at and fills it otherwise.
const stampPublishedAt = "published_at = COALESCE(published_at, UTC_TIMESTAMP())"

// bulkSet applies one SET to every id and audits each row it finds, with the
// touched columns as they were before the update. rawSets are literal
// "col = expr" assignments appended after the bound ones.
func (s *Server) bulkSet(r *http.Request, res *resource, admin adminUser, action string, ids []string, cols []string, vals map[string]any, rawSets ...string) (int64, error) {
	ctx := r.Context()
	sets := make([]string, 0, len(cols)+len(rawSets))
	setArgs := make([]any, 0, len(cols))
	after := make(map[string]any, len(cols))
	touched := []field{{Name: "id", Kind: kindUUID}}
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		setArgs = append(setArgs, vals[c])
		after[c] = vals[c]
		if f, ok := res.field(c); ok {
			touched = append(touched, f)
		}
	}
	for _, raw := range rawSets {
		sets = append(sets, raw)
		col := strings.TrimSpace(strings.SplitN(raw, "=", 2)[0])
		if f, ok := res.field(col); ok {
			touched = append(touched, f)
		}
	}
	sw, sa := res.scopeWhere()

	var (
		affected int64
		entries  []auditEntry
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		selQ := "SELECT " + selectList(touched) + " FROM " + res.Table + " WHERE id IN (?)"
		selArgs := []any{ids}
		if sw != "" {
			selQ += " AND " + sw
			selArgs = append(selArgs, sa...)
		}
		selQ, selArgs, err := sqlx.In(selQ+" FOR UPDATE", selArgs...)
		if err != nil {
			return err
		}
		existing, err := scanRows(ctx, tx, touched, selQ, selArgs...)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return nil
		}

		found := make([]string, len(existing))
		entries = make([]auditEntry, len(existing))
		for i, row := range existing {
			id, _ := row["id"].(string)
			found[i] = id
			delete(row, "id")
			entries[i] = newAuditEntry(r, admin, action, res.Target, id, row, after)
		}

		q := "UPDATE " + res.Table + " SET " + strings.Join(sets, ", ") + " WHERE id IN (?)"
		args := append(append([]any{}, setArgs...), found)
		if sw != "" {
			q += " AND " + sw
			args = append(args, sa...)
		}
		q, args, err = sqlx.In(q, args...)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		affected, _ = result.RowsAffected()
		if res.AfterWriteTx != nil {
			for i, id := range found {
				m := newMutation(res, admin, false)
				m.ID = id
				m.Existing = existing[i]
				for _, c := range cols {
					m.Set(c, vals[c])
				}
				if err := res.AfterWriteTx(ctx, tx, m); err != nil {
					return err
				}
			}
		}
		return insertAudit(ctx, tx, entries...)
	})
	if err != nil {
		return 0, err
	}
	s.afterAudit(entries...)
	return affected, nil
}

func (s *Server) handleResourceBulkDelete(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		admin, _ := adminAuthFromContext(r.Context())
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		ids, err := parseIDs(body)
		if err != nil {
			writeStoreError(w, log, err, "Error")
			return
		}
		if res.GuardIDs != nil {
			if err := res.GuardIDs(r.Context(), s, admin.User, actionBulkDelete, ids); err != nil {
				writeStoreError(w, log, err, "Error")
				return
			}
		}

		fields := res.outputFields(false)
		q := "SELECT " + selectList(fields) + " FROM " + res.Table + " WHERE id IN (?)"
		qArgs := []any{ids}
		if sw, sa := res.scopeWhere(); sw != "" {
			q += " AND " + sw
			qArgs = append(qArgs, sa...)
		}
		q, qArgs, err = sqlx.In(q, qArgs...)
		if err != nil {
			writeStoreError(w, log, err, "Error eliminando "+res.Name)
			return
		}
		existing, err := s.queryRows(r.Context(), fields, q, qArgs...)
		if err != nil {
			writeStoreError(w, log, err, "Error eliminando "+res.Name)
			return
		}
		if len(existing) == 0 {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "affected": 0, "ids": []string{}})
			return
		}

		found := make([]string, len(existing))
		entries := make([]auditEntry, len(existing))
		for i, row := range existing {
			id, _ := row["id"].(string)
			found[i] = id
			entries[i] = newAuditEntry(r, admin.User, actionBulkDelete, res.Target, id, row, nil)
		}
		delQ, delArgs, err := sqlx.In("DELETE FROM "+res.Table+" WHERE id IN (?)", found)
		if err != nil {
			writeStoreError(w, log, err, "Error eliminando "+res.Name)
			return
		}
		var affected int64
		err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
			result, err := tx.ExecContext(r.Context(), delQ, delArgs...)
			if err != nil {
				return err
			}
			affected, _ = result.RowsAffected()
			return insertAudit(r.Context(), tx, entries...)
		})
		if err != nil {
			writeStoreError(w, log, err, "Error eliminando "+res.Name)
			return
		}
		s.afterAudit(entries...)
		if res.AfterDelete != nil {
			for _, row := range existing {
				res.AfterDelete(r.Context(), s, row)
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "affected": affected, "ids": found})
	}
}

// assignSlug sets a unique slug from the explicit slug or the SlugFrom column.
func (s *Server) assignSlug(ctx context.Context, m *mutation, body map[string]any) error {
	source := ""
	if raw, ok := body["slug"].(string); ok {
		source = strings.TrimSpace(raw)
	}
	if source == "" {
		source = m.String(m.res.SlugFrom)
	}
	base := catalog.Slugify(source, m.res.Name)
	slug, err := catalog.UniqueSlug(ctx, base, func(ctx context.Context, candidate string) (bool, error) {
		var taken bool
		err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM "+m.res.Table+" WHERE slug = ? AND id <> ?)", candidate, m.ID).Scan(&taken)
		return taken, err
	})
	if err != nil {
		return fmt.Errorf("unique slug: %w", err)
	}
	m.Set("slug", slug)
	return nil
}

func (s *Server) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
