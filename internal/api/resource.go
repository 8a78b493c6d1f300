package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"modtok/internal/catalog"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindText
	kindInt
	kindFloat
	kindBool
	kindJSON
	kindList
	kindDate
	kindDatetime
	kindEnum
	kindUUID
	kindRegions
	kindRegion
)

// field describes one column of a resource table.
type field struct {
	Name     string
	Kind     fieldKind
	Required bool
	Enum     []string
	MaxLen   int
	Ranged   bool
	Min, Max float64
	Default  any

	// Hidden columns are stored but never selected for output.
	Hidden bool
	// ReadOnly columns are output but ignored in request bodies.
	ReadOnly bool
	// Virtual fields are accepted in request bodies but are not columns.
	Virtual bool
}

type statusAction struct {
	Set    map[string]any
	RawSet []string
	Guard  func(ctx context.Context, s *Server, admin adminUser, ids []string) error
}

type resource struct {
	// Name is the URL segment under /admin.
	Name string
	// Target is the audit target_type.
	Target   string
	Table    string
	ReadFrom string
	Fields   []field
	// ReadExtra are columns only present on ReadFrom.
	ReadExtra []field
	SlugFrom  string

	Search      []string
	Filters     []string
	Sortable    []string
	DefaultSort string

	// Scope pins columns on every read and write, e.g. a category.
	Scope       map[string]any
	NoUpdatedAt bool
	ReadOnly    bool
	BulkFields  []string
	Actions     map[string]statusAction

	Prepare      func(ctx context.Context, s *Server, m *mutation) error
	ListWhere    func(r *http.Request) (string, []any, error)
	Extra        func(ctx context.Context, s *Server, row map[string]any) error
	AfterWriteTx func(ctx context.Context, tx *sqlx.Tx, m *mutation) error
	GuardIDs     func(ctx context.Context, s *Server, admin adminUser, op string, ids []string) error
	BeforeDelete func(ctx context.Context, s *Server, m *mutation) error
	AfterDelete  func(ctx context.Context, s *Server, existing map[string]any)
}

func (res *resource) readFrom() string {
	if res.ReadFrom != "" {
		return res.ReadFrom
	}
	return res.Table
}

func (res *resource) field(name string) (field, bool) {
	for _, f := range res.Fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range res.ReadExtra {
		if f.Name == name {
			return f, true
		}
	}
	return field{}, false
}

func (res *resource) hasColumn(name string) bool {
	f, ok := res.field(name)
	return ok && !f.Virtual
}

// outputFields lists the selected columns in order. withExtra adds the
// columns only the read view carries.
func (res *resource) outputFields(withExtra bool) []field {
	out := []field{{Name: "id", Kind: kindUUID}}
	for _, f := range res.Fields {
		if f.Hidden || f.Virtual {
			continue
		}
		out = append(out, f)
	}
	if withExtra && res.ReadFrom != "" {
		out = append(out, res.ReadExtra...)
	}
	out = append(out, field{Name: "created_at", Kind: kindDatetime})
	if !res.NoUpdatedAt {
		out = append(out, field{Name: "updated_at", Kind: kindDatetime})
	}
	return out
}

func selectList(fields []field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

// scopeWhere returns "col = ? AND ..." for the pinned scope columns in a
// stable order.
func (res *resource) scopeWhere() (string, []any) {
	if len(res.Scope) == 0 {
		return "", nil
	}
	var parts []string
	var args []any
	for _, f := range res.Fields {
		v, ok := res.Scope[f.Name]
		if !ok {
			continue
		}
		parts = append(parts, f.Name+" = ?")
		args = append(args, v)
	}
	return strings.Join(parts, " AND "), args
}

// mutation accumulates the coerced column values of a create or update.
type mutation struct {
	res      *resource
	ID       string
	IsCreate bool
	Admin    adminUser
	Input    map[string]any
	Existing map[string]any

	cols []string
	vals map[string]any
}

func newMutation(res *resource, admin adminUser, create bool) *mutation {
	return &mutation{
		res:      res,
		IsCreate: create,
		Admin:    admin,
		vals:     map[string]any{},
	}
}

func (m *mutation) Set(col string, v any) {
	if _, ok := m.vals[col]; !ok {
		m.cols = append(m.cols, col)
	}
	m.vals[col] = v
}

func (m *mutation) Unset(col string) {
	if _, ok := m.vals[col]; !ok {
		return
	}
	delete(m.vals, col)
	for i, c := range m.cols {
		if c == col {
			m.cols = append(m.cols[:i], m.cols[i+1:]...)
			break
		}
	}
}

func (m *mutation) Has(col string) bool {
	_, ok := m.vals[col]
	return ok
}

// Value returns the pending value of col, falling back to the stored row.
func (m *mutation) Value(col string) any {
	if v, ok := m.vals[col]; ok {
		return v
	}
	if m.Existing != nil {
		return m.Existing[col]
	}
	return nil
}

func (m *mutation) String(col string) string {
	switch v := m.Value(col).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (m *mutation) Float(col string) (float64, bool) {
	switch v := m.Value(col).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (m *mutation) Bool(col string) bool {
	switch v := m.Value(col).(type) {
	case bool:
		return v
	case int64:
		return v != 0
	}
	return false
}

// Changes is the audit payload: pending values minus hidden columns.
func (m *mutation) Changes() map[string]any {
	out := make(map[string]any, len(m.cols))
	for _, c := range m.cols {
		if f, ok := m.res.field(c); ok && (f.Hidden || f.Virtual) {
			continue
		}
		v := m.vals[c]
		if s, ok := v.(string); ok {
			if f, ok := m.res.field(c); ok && isJSONKind(f.Kind) {
				v = json.RawMessage(s)
			}
		}
		out[c] = v
	}
	return out
}

func isJSONKind(k fieldKind) bool {
	return k == kindJSON || k == kindList || k == kindRegions
}

// coerce converts the request body into column values. Missing fields
// get their defaults on create; partial bodies are accepted on update.
func (m *mutation) coerce(body map[string]any) map[string]string {
	errs := map[string]string{}
	for _, f := range m.res.Fields {
		if f.ReadOnly || f.Hidden {
			continue
		}
		if _, pinned := m.res.Scope[f.Name]; pinned {
			continue
		}
		raw, present := body[f.Name]
		if !present {
			if m.IsCreate && f.Default != nil {
				m.Set(f.Name, f.Default)
			}
			continue
		}
		v, reason := coerceValue(f, raw)
		if reason != "" {
			errs[f.Name] = reason
			continue
		}
		if v == nil && f.Default != nil {
			v = f.Default
		}
		m.Set(f.Name, v)
	}
	if m.IsCreate {
		for _, f := range m.res.Fields {
			if v, ok := m.res.Scope[f.Name]; ok {
				m.Set(f.Name, v)
			}
		}
	}
	return errs
}

// dropVirtual removes input-only values before the write.
func (m *mutation) dropVirtual() {
	for _, f := range m.res.Fields {
		if f.Virtual {
			m.Unset(f.Name)
		}
	}
}

// missingRequired reports required columns left empty.
func (m *mutation) missingRequired() map[string]string {
	errs := map[string]string{}
	for _, f := range m.res.Fields {
		if !f.Required {
			continue
		}
		v, ok := m.vals[f.Name]
		if m.IsCreate && !ok {
			errs[f.Name] = "requerido"
			continue
		}
		if ok && v == nil {
			errs[f.Name] = "requerido"
		}
	}
	return errs
}

func coerceValue(f field, raw any) (any, string) {
	if raw == nil {
		if f.Kind == kindBool {
			return false, ""
		}
		return nil, ""
	}
	switch f.Kind {
	case kindString, kindText:
		s, ok := scalarString(raw)
		if !ok {
			return nil, "debe ser texto"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, ""
		}
		if f.MaxLen > 0 && utf8.RuneCountInString(s) > f.MaxLen {
			return nil, fmt.Sprintf("maximo %d caracteres", f.MaxLen)
		}
		return s, ""

	case kindEnum:
		s, ok := scalarString(raw)
		if !ok {
			return nil, "valor invalido"
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return nil, ""
		}
		for _, e := range f.Enum {
			if s == e {
				return s, ""
			}
		}
		return nil, "debe ser uno de: " + strings.Join(f.Enum, ", ")

	case kindUUID:
		s, ok := scalarString(raw)
		if !ok {
			return nil, "id invalido"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, ""
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, "id invalido"
		}
		return id.String(), ""

	case kindInt:
		n, ok, empty := numberValue(raw)
		if empty {
			return nil, ""
		}
		if !ok || n != math.Trunc(n) {
			return nil, "debe ser un numero entero"
		}
		if reason := checkRange(f, n); reason != "" {
			return nil, reason
		}
		return int64(n), ""

	case kindFloat:
		n, ok, empty := numberValue(raw)
		if empty {
			return nil, ""
		}
		if !ok {
			return nil, "debe ser numerico"
		}
		if reason := checkRange(f, n); reason != "" {
			return nil, reason
		}
		return n, ""

	case kindBool:
		b, ok := boolValue(raw)
		if !ok {
			return nil, "debe ser verdadero o falso"
		}
		return b, ""

	case kindJSON:
		if s, ok := raw.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, ""
			}
			if json.Valid([]byte(s)) {
				return s, ""
			}
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, "JSON invalido"
		}
		return string(b), ""

	case kindList, kindRegions:
		items, ok := listValue(raw)
		if !ok {
			return nil, "debe ser una lista"
		}
		if f.Kind == kindRegions {
			valid, unknown := catalog.NormalizeRegionCodes(items)
			if len(unknown) > 0 {
				return nil, "regiones desconocidas: " + strings.Join(unknown, ", ")
			}
			items = valid
		}
		b, _ := json.Marshal(items)
		return string(b), ""

	case kindRegion:
		s, ok := raw.(string)
		if !ok {
			return nil, "region invalida"
		}
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return nil, ""
		}
		if _, ok := catalog.LookupRegion(s); !ok {
			return nil, "region desconocida: " + s
		}
		return s, ""

	case kindDate:
		s, ok := raw.(string)
		if !ok {
			return nil, "fecha invalida"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, ""
		}
		if len(s) > len(catalog.DateLayout) {
			s = s[:len(catalog.DateLayout)]
		}
		if _, err := time.Parse(catalog.DateLayout, s); err != nil {
			return nil, "fecha invalida (YYYY-MM-DD)"
		}
		return s, ""

	case kindDatetime:
		s, ok := raw.(string)
		if !ok {
			return nil, "fecha invalida"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, ""
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04", catalog.DateLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(time.Second), ""
			}
		}
		return nil, "fecha invalida (RFC3339)"
	}
	return nil, "tipo no soportado"
}

func checkRange(f field, n float64) string {
	if !f.Ranged {
		return ""
	}
	if n < f.Min || n > f.Max {
		return fmt.Sprintf("debe estar entre %s y %s", formatNumber(f.Min), formatNumber(f.Max))
	}
	return ""
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func scalarString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// numberValue reads JSON numbers and numeric strings, treating "" as empty.
func numberValue(raw any) (n float64, ok bool, empty bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil, false
	case float64:
		return v, true, false
	case int:
		return float64(v), true, false
	case int64:
		return float64(v), true, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, true
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false, false
		}
		return f, true, false
	}
	return 0, false, false
}

func boolValue(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f != 0, err == nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes", "si", "sí":
			return true, true
		case "false", "0", "off", "no", "":
			return false, true
		}
	}
	return false, false
}

// listValue accepts JSON arrays and comma separated strings. Items are
// trimmed and deduplicated in order.
func listValue(raw any) ([]string, bool) {
	var items []string
	switch v := raw.(type) {
	case []any:
		for _, it := range v {
			s, ok := scalarString(it)
			if !ok {
				return nil, false
			}
			items = append(items, s)
		}
	case []string:
		items = append(items, v...)
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return nil, false
			}
			items = arr
		} else {
			items = strings.Split(s, ",")
		}
	default:
		return nil, false
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out, true
}

// decodeValue turns a driver value into its JSON output form.
func decodeValue(kind fieldKind, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch kind {
	case kindInt:
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return int64(f)
			}
			return nil
		}
	case kindFloat:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
			return nil
		}
	case kindBool:
		switch b := v.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		case string:
			return b == "1" || strings.EqualFold(b, "true")
		}
	case kindJSON, kindList, kindRegions:
		s, ok := v.(string)
		if !ok || !json.Valid([]byte(s)) {
			return nil
		}
		return json.RawMessage(s)
	case kindDate:
		switch t := v.(type) {
		case time.Time:
			return t.Format(catalog.DateLayout)
		case string:
			if len(t) >= len(catalog.DateLayout) {
				return t[:len(catalog.DateLayout)]
			}
			return t
		}
	case kindDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339)
		case string:
			if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
			return t
		}
	}
	return v
}

func decodeRow(fields []field, values []any) map[string]any {
	row := make(map[string]any, len(fields))
	for i, f := range fields {
		if i >= len(values) {
			break
		}
		row[f.Name] = decodeValue(f.Kind, values[i])
	}
	return row
}

// queryRows runs a select built from fields and decodes every row.
func (s *Server) queryRows(ctx context.Context, fields []field, query string, args ...any) ([]map[string]any, error) {
	return scanRows(ctx, s.db, fields, query, args...)
}

func scanRows(ctx context.Context, q sqlx.QueryerContext, fields []field, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		out = append(out, decodeRow(fields, values))
	}
	return out, rows.Err()
}

// loadRow reads one row by id from table. Missing rows yield errNotFound.
func (s *Server) loadRow(ctx context.Context, res *resource, table string, withExtra bool, id string) (map[string]any, error) {
	fields := res.outputFields(withExtra)
	q := "SELECT " + selectList(fields) + " FROM " + table + " WHERE id = ?"
	args := []any{id}
	if where, scopeArgs := res.scopeWhere(); where != "" {
		q += " AND " + where
		args = append(args, scopeArgs...)
	}
	q += " LIMIT 1"
	rows, err := s.queryRows(ctx, fields, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	return rows[0], nil
}

// entityExists probes table for id, optionally with one extra equality.
func (s *Server) entityExists(ctx context.Context, table, id string, cond string, condArgs ...any) (bool, error) {
	q := "SELECT EXISTS(SELECT 1 FROM " + table + " WHERE id = ?"
	args := []any{id}
	if cond != "" {
		q += " AND " + cond
		args = append(args, condArgs...)
	}
	q += ")"
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe %s: %w", table, err)
	}
	return exists, nil
}
