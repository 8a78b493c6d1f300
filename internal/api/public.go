package api

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"modtok/internal/catalog"
	"modtok/internal/httpx"
	"modtok/internal/observability"
)

// Columns the public site never sees.
var adminOnlyColumns = map[string]bool{
	"admin_notes": true,
	"created_by":  true,
}

// publicListing describes one catalogue endpoint of the public site.
type publicListing struct {
	resource string
	// filters pairs a query parameter with its column.
	filters [][2]string
	region  func(code string) (string, []any)
}

var publicListings = map[string]publicListing{
	"providers": {
		resource: "providers",
		filters:  [][2]string{{"category", "category"}},
		region: func(code string) (string, []any) {
			return "(region_code = ? OR JSON_CONTAINS(coverage_regions, JSON_QUOTE(?)))", []any{code, code}
		},
	},
	"houses": {
		resource: "houses",
		filters:  [][2]string{{"provider_id", "provider_id"}, {"category", "construction_type"}},
		region: func(code string) (string, []any) {
			return "region_code = ?", []any{code}
		},
	},
	"services": {
		resource: "services",
		filters:  [][2]string{{"provider_id", "provider_id"}, {"category", "category"}},
		region: func(code string) (string, []any) {
			return "id IN (SELECT service_id FROM service_effective_regions WHERE region_code = ?)", []any{code}
		},
	},
}

func (s *Server) publicRoutes(r chi.Router) {
	r.Get("/regions", s.handlePublicRegions)
	r.Get("/homepage", s.handlePublicHomepage)
	for path, listing := range publicListings {
		r.Get("/"+path, s.handlePublicList(listing))
	}
	r.Get("/blog/{slug}", s.handlePublicPost("blog"))
	r.Get("/news/{slug}", s.handlePublicPost("news"))
	r.Get("/landing/{slug}", s.handlePublicLanding)
}

func publicFields(res *resource) []field {
	var out []field
	for _, f := range res.outputFields(true) {
		if adminOnlyColumns[f.Name] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s *Server) handlePublicRegions(w http.ResponseWriter, r *http.Request) {
	if err := catalog.RegionsErr(); err != nil {
		writeStoreError(w, observability.FromContext(r.Context()), err, "Error leyendo regiones")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": catalog.Regions()})
}

func (s *Server) handlePublicHomepage(w http.ResponseWriter, r *http.Request) {
	day := catalog.Day(s.now(), s.loc).Format(catalog.DateLayout)
	slots, err := s.activeSlotsOn(r.Context(), day)
	if err != nil {
		writeStoreError(w, observability.FromContext(r.Context()), err, "Error leyendo portada")
		return
	}
	grouped := map[string][]activeSlot{
		string(catalog.TierPremium):   {},
		string(catalog.TierDestacado): {},
	}
	for _, slot := range slots {
		grouped[slot.SlotType] = append(grouped[slot.SlotType], slot)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "date": day, "data": grouped})
}

// handlePublicList serves active rows, best effective tier first.
func (s *Server) handlePublicList(listing publicListing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		res := s.resourceByName(listing.resource)
		q := r.URL.Query()

		where := []string{"status = ?"}
		args := []any{"active"}
		if code := strings.ToUpper(strings.TrimSpace(q.Get("region"))); code != "" {
			if _, ok := catalog.LookupRegion(code); !ok {
				httpx.WriteValidation(w, map[string]string{"region": "region desconocida: " + code})
				return
			}
			clause, clauseArgs := listing.region(code)
			where = append(where, clause)
			args = append(args, clauseArgs...)
		}
		for _, pair := range listing.filters {
			if v := strings.TrimSpace(q.Get(pair[0])); v != "" {
				where = append(where, pair[1]+" = ?")
				args = append(args, v)
			}
		}
		whereSQL := " WHERE " + strings.Join(where, " AND ")

		var total int
		if err := s.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM "+res.readFrom()+whereSQL, args...).Scan(&total); err != nil {
			writeStoreError(w, log, err, "Error listando "+listing.resource)
			return
		}

		page, limit := parsePage(r)
		fields := publicFields(res)
		selectQ, selectArgs, err := sqlx.In("SELECT "+selectList(fields)+" FROM "+res.readFrom()+whereSQL+
			" ORDER BY FIELD(effective_tier, 'premium', 'destacado', 'standard'), created_at DESC, id LIMIT ? OFFSET ?",
			append(args, limit, (page-1)*limit)...)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+listing.resource)
			return
		}
		rows, err := s.queryRows(r.Context(), fields, selectQ, selectArgs...)
		if err != nil {
			writeStoreError(w, log, err, "Error listando "+listing.resource)
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

func slugParam(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "slug")))
}

func (s *Server) handlePublicPost(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.resourceByName(name)
		fields := publicFields(res)
		rows, err := s.queryRows(r.Context(), fields,
			"SELECT "+selectList(fields)+" FROM "+res.Table+
				" WHERE slug = ? AND status = 'published' AND (published_at IS NULL OR published_at <= UTC_TIMESTAMP()) LIMIT 1",
			slugParam(r))
		if err == nil && len(rows) == 0 {
			err = errNotFound
		}
		if err != nil {
			writeStoreError(w, observability.FromContext(r.Context()), err, "Error leyendo "+name)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": rows[0]})
	}
}

// handlePublicLanding hides published pages whose owner lost premium.
func (s *Server) handlePublicLanding(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	res := s.resourceByName("landing-pages")
	fields := publicFields(res)
	rows, err := s.queryRows(r.Context(), fields,
		"SELECT "+selectList(fields)+" FROM landing_pages WHERE slug = ? AND is_published = 1 LIMIT 1", slugParam(r))
	if err == nil && len(rows) == 0 {
		err = errNotFound
	}
	if err != nil {
		writeStoreError(w, log, err, "Error leyendo landing")
		return
	}
	page := rows[0]
	ownerType, _ := page["owner_type"].(string)
	ownerID, _ := page["owner_id"].(string)
	if err := s.requirePremiumOwner(r.Context(), ownerType, ownerID); err != nil {
		var ve *validationError
		if errors.Is(err, errNotPremium) || errors.As(err, &ve) {
			err = errNotFound
		}
		writeStoreError(w, log, err, "Error leyendo landing")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": page})
}
