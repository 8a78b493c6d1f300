package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"modtok/internal/catalog"
	"modtok/internal/lib/content"
)

func str(name string, maxLen int) field {
	return field{Name: name, Kind: kindString, MaxLen: maxLen}
}

func text(name string) field { return field{Name: name, Kind: kindText} }

func enum(name string, def string, values ...string) field {
	f := field{Name: name, Kind: kindEnum, Enum: values}
	if def != "" {
		f.Default = def
	}
	return f
}

func intField(name string) field   { return field{Name: name, Kind: kindInt} }
func floatField(name string) field { return field{Name: name, Kind: kindFloat} }
func flag(name string, def bool) field {
	return field{Name: name, Kind: kindBool, Default: def}
}
func jsonField(name string) field { return field{Name: name, Kind: kindJSON} }
func list(name string) field      { return field{Name: name, Kind: kindList} }
func ref(name string) field       { return field{Name: name, Kind: kindUUID} }

func required(f field) field {
	f.Required = true
	return f
}

func readOnly(f field) field {
	f.ReadOnly = true
	return f
}

func ranged(f field, min, max float64) field {
	f.Ranged = true
	f.Min, f.Max = min, max
	return f
}

func withDefault(f field, v any) field {
	f.Default = v
	return f
}

var tierValues = []string{string(catalog.TierStandard), string(catalog.TierDestacado), string(catalog.TierPremium)}

func tierField() field { return enum("tier", string(catalog.TierStandard), tierValues...) }

func effectiveTierField() field {
	return field{Name: "effective_tier", Kind: kindEnum, Enum: tierValues, ReadOnly: true}
}

const maxPrice = 1e12

func (s *Server) buildResources() []*resource {
	return []*resource{
		s.providersResource(),
		s.fabricantesResource(),
		s.housesResource(),
		s.servicesResource("services", "service", "habilitacion_servicios"),
		s.servicesResource("decorations", "decoration", "decoracion"),
		postResource("blog", "blog_post", "blog_posts", []field{str("category", 80)}),
		postResource("news", "news_post", "news_posts", []field{
			enum("news_type", "industria", "industria", "empresa", "producto", "evento", "normativa"),
			flag("is_breaking", false),
		}),
		hotspotsResource(),
		s.mediaResource(),
		s.slotsResource(),
		s.usersResource(),
		seoResource(),
		s.landingPagesResource(),
		actionsResource(),
	}
}

func (s *Server) providersResource() *resource {
	return &resource{
		Name:     "providers",
		Target:   "provider",
		Table:    "providers",
		ReadFrom: "providers_with_tier",
		Fields: []field{
			required(str("company_name", 200)),
			readOnly(str("slug", catalog.MaxSlugLen)),
			str("email", 255),
			str("phone", 40),
			str("website", 255),
			text("description"),
			str("logo_url", 500),
			str("cover_url", 500),
			required(enum("category", "", "fabricante", "habilitacion_servicios", "decoracion")),
			{Name: "region_code", Kind: kindRegion},
			str("city", 120),
			str("address", 255),
			{Name: "coverage_regions", Kind: kindRegions},
			tierField(),
			enum("status", "pending_review", "pending_review", "active", "suspended", "inactive"),
			ranged(intField("featured_order"), 0, 10000),
			flag("is_verified", false),
			jsonField("seo"),
			text("admin_notes"),
			readOnly(ref("created_by")),
		},
		ReadExtra:   []field{effectiveTierField()},
		SlugFrom:    "company_name",
		Search:      []string{"company_name", "email", "city"},
		Filters:     []string{"category", "status", "tier", "region_code", "is_verified", "effective_tier"},
		Sortable:    []string{"company_name", "featured_order", "tier", "status", "effective_tier"},
		DefaultSort: "-created_at",
		BulkFields:  []string{"status", "tier", "is_verified", "featured_order"},
		Actions: map[string]statusAction{
			"approve":    {Set: map[string]any{"status": "active"}},
			"suspend":    {Set: map[string]any{"status": "suspended"}},
			"deactivate": {Set: map[string]any{"status": "inactive"}},
			"verify":     {Set: map[string]any{"is_verified": true}},
		},
		Extra: func(ctx context.Context, s *Server, row map[string]any) error {
			return s.attachTierDetail(ctx, entityProvider, row)
		},
	}
}

func (s *Server) fabricantesResource() *resource {
	return &resource{
		Name:   "fabricantes",
		Target: "manufacturer_profile",
		Table:  "manufacturer_profiles",
		Fields: []field{
			required(ref("provider_id")),
			list("services_offered"),
			list("house_styles"),
			list("materials"),
			ranged(floatField("price_per_m2_min"), 0, maxPrice),
			ranged(floatField("price_per_m2_max"), 0, maxPrice),
			ranged(intField("delivery_weeks_min"), 0, 520),
			ranged(intField("delivery_weeks_max"), 0, 520),
			flag("custom_design", false),
			flag("turnkey", false),
			flag("financing", false),
			ranged(intField("warranty_years"), 0, 100),
			list("certifications"),
		},
		Filters:     []string{"provider_id", "custom_design", "turnkey", "financing"},
		Sortable:    []string{"price_per_m2_min", "delivery_weeks_min", "warranty_years"},
		DefaultSort: "-created_at",
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			if m.IsCreate || m.Has("provider_id") {
				ok, err := s.entityExists(ctx, "providers", m.String("provider_id"), "category = ?", "fabricante")
				if err != nil {
					return err
				}
				if !ok {
					return newValidation("provider_id", "el proveedor no existe o no es fabricante")
				}
			}
			if err := checkMinMax(m, "price_per_m2_min", "price_per_m2_max"); err != nil {
				return err
			}
			return checkMinMax(m, "delivery_weeks_min", "delivery_weeks_max")
		},
	}
}

func (s *Server) housesResource() *resource {
	return &resource{
		Name:     "houses",
		Target:   "house",
		Table:    "houses",
		ReadFrom: "houses_with_tier",
		Fields: []field{
			required(ref("provider_id")),
			required(str("name", 200)),
			readOnly(str("slug", catalog.MaxSlugLen)),
			str("model_code", 60),
			text("description"),
			ranged(floatField("price"), 0, maxPrice),
			ranged(floatField("price_opportunity"), 0, maxPrice),
			withDefault(str("currency", 8), "CLP"),
			ranged(intField("bedrooms"), 0, 50),
			ranged(floatField("bathrooms"), 0, 50),
			ranged(floatField("area_m2"), 0, 100000),
			ranged(intField("floors"), 0, 10),
			str("construction_type", 40),
			str("main_image_url", 500),
			jsonField("specifications"),
			list("features"),
			{Name: "region_code", Kind: kindRegion},
			tierField(),
			enum("status", "draft", "draft", "active", "inactive", "sold_out"),
			flag("is_available", true),
			ranged(intField("stock"), 0, 100000),
			jsonField("seo"),
			readOnly(intField("views_count")),
			readOnly(ref("created_by")),
		},
		ReadExtra:   []field{effectiveTierField()},
		SlugFrom:    "name",
		Search:      []string{"name", "model_code", "description"},
		Filters:     []string{"provider_id", "status", "tier", "region_code", "is_available", "construction_type", "effective_tier"},
		Sortable:    []string{"name", "price", "area_m2", "bedrooms", "views_count", "tier", "effective_tier"},
		DefaultSort: "-created_at",
		BulkFields:  []string{"status", "tier", "is_available"},
		Actions: map[string]statusAction{
			"publish":   {Set: map[string]any{"status": "active"}},
			"unpublish": {Set: map[string]any{"status": "draft"}},
			"archive":   {Set: map[string]any{"status": "inactive"}},
		},
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			if m.IsCreate || m.Has("provider_id") {
				if err := requireEntity(ctx, s, "providers", m.String("provider_id"), "provider_id"); err != nil {
					return err
				}
			}
			if m.Has("specifications") && m.vals["specifications"] != nil {
				groups, err := catalog.NormalizeSpecifications(json.RawMessage(m.String("specifications")))
				if err != nil {
					return newValidation("specifications", "formato invalido")
				}
				b, _ := json.Marshal(groups)
				m.Set("specifications", string(b))
			}
			return nil
		},
		Extra: func(ctx context.Context, s *Server, row map[string]any) error {
			return s.attachTierDetail(ctx, entityHouse, row)
		},
	}
}

func (s *Server) servicesResource(name, target, category string) *resource {
	return &resource{
		Name:     name,
		Target:   target,
		Table:    "service_products",
		ReadFrom: "service_products_with_tier",
		Fields: []field{
			required(ref("provider_id")),
			required(str("name", 200)),
			readOnly(str("slug", catalog.MaxSlugLen)),
			str("category", 40),
			str("subcategory", 80),
			text("description"),
			ranged(floatField("price_from"), 0, maxPrice),
			ranged(floatField("price_to"), 0, maxPrice),
			str("price_unit", 20),
			{Name: "coverage_regions", Kind: kindRegions},
			list("features"),
			str("main_image_url", 500),
			tierField(),
			enum("status", "draft", "draft", "active", "inactive"),
			jsonField("seo"),
			readOnly(ref("created_by")),
		},
		ReadExtra:   []field{effectiveTierField()},
		SlugFrom:    "name",
		Search:      []string{"name", "subcategory", "description"},
		Filters:     []string{"provider_id", "status", "tier", "subcategory", "effective_tier"},
		Sortable:    []string{"name", "price_from", "tier", "effective_tier"},
		DefaultSort: "-created_at",
		Scope:       map[string]any{"category": category},
		BulkFields:  []string{"status", "tier"},
		Actions: map[string]statusAction{
			"publish":   {Set: map[string]any{"status": "active"}},
			"unpublish": {Set: map[string]any{"status": "draft"}},
			"archive":   {Set: map[string]any{"status": "inactive"}},
		},
		ListWhere: serviceRegionFilter,
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			if m.IsCreate || m.Has("provider_id") {
				if err := requireEntity(ctx, s, "providers", m.String("provider_id"), "provider_id"); err != nil {
					return err
				}
			}
			return checkMinMax(m, "price_from", "price_to")
		},
		Extra: func(ctx context.Context, s *Server, row map[string]any) error {
			if err := s.attachTierDetail(ctx, entityService, row); err != nil {
				return err
			}
			id, _ := row["id"].(string)
			cov, err := s.loadCoverage(ctx, id)
			if err != nil {
				return err
			}
			row["coverage"] = cov
			return nil
		},
	}
}

// serviceRegionFilter answers ?region= through the effective regions view.
func serviceRegionFilter(r *http.Request) (string, []any, error) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("region")))
	if code == "" {
		return "", nil, nil
	}
	if _, ok := catalog.LookupRegion(code); !ok {
		return "", nil, newValidation("region", "region desconocida: "+code)
	}
	return "id IN (SELECT service_id FROM service_effective_regions WHERE region_code = ?)", []any{code}, nil
}

func postResource(name, target, table string, extra []field) *resource {
	fields := []field{
		required(str("title", 255)),
		readOnly(str("slug", catalog.MaxSlugLen)),
		str("excerpt", 500),
		text("content"),
		readOnly(text("content_html")),
		str("featured_image_url", 500),
	}
	fields = append(fields, extra...)
	fields = append(fields,
		list("tags"),
		str("author_name", 200),
		ref("author_id"),
		enum("status", "draft", "draft", "published", "archived"),
		field{Name: "published_at", Kind: kindDatetime},
		readOnly(intField("reading_minutes")),
		jsonField("seo"),
	)
	filters := []string{"status", "author_id"}
	for _, f := range extra {
		filters = append(filters, f.Name)
	}
	return &resource{
		Name:        name,
		Target:      target,
		Table:       table,
		Fields:      fields,
		SlugFrom:    "title",
		Search:      []string{"title", "excerpt"},
		Filters:     filters,
		Sortable:    []string{"title", "published_at", "status"},
		DefaultSort: "-created_at",
		BulkFields:  []string{"status"},
		Actions: map[string]statusAction{
			"publish": {
				Set:    map[string]any{"status": "published"},
				RawSet: []string{stampPublishedAt},
			},
			"unpublish": {Set: map[string]any{"status": "draft"}},
			"archive":   {Set: map[string]any{"status": "archived"}},
		},
		Prepare: preparePost,
	}
}

// preparePost renders markdown and fills derived columns.
func preparePost(ctx context.Context, s *Server, m *mutation) error {
	if m.IsCreate || m.Has("content") || m.Has("excerpt") {
		excerpt := m.String("excerpt")
		if !m.IsCreate && !m.Has("excerpt") && derivedExcerpt(m) {
			excerpt = ""
		}
		derived, err := content.Derive(m.String("content"), excerpt)
		if err != nil {
			return newValidation("content", "markdown invalido")
		}
		m.Set("content_html", nullableString(derived.HTML))
		m.Set("excerpt", nullableString(derived.Excerpt))
		m.Set("reading_minutes", int64(derived.ReadingMinutes))
	}
	if m.String("status") == "published" && m.Value("published_at") == nil {
		m.Set("published_at", s.now().UTC().Truncate(time.Second))
	}
	return nil
}

// derivedExcerpt reports whether the stored excerpt was generated from the
// stored content, in which case new content replaces it.
func derivedExcerpt(m *mutation) bool {
	stored, _ := m.Existing["excerpt"].(string)
	old, _ := m.Existing["content"].(string)
	if old == "" {
		return false
	}
	d, err := content.Derive(old, "")
	return err == nil && d.Excerpt == stored
}

func hotspotsResource() *resource {
	return &resource{
		Name:   "hotspots",
		Target: "house_hotspot",
		Table:  "house_hotspots",
		Fields: []field{
			required(ref("house_id")),
			ref("media_id"),
			required(ranged(floatField("x_percent"), 0, 100)),
			required(ranged(floatField("y_percent"), 0, 100)),
			required(str("title", 200)),
			text("description"),
			str("feature_key", 80),
			str("linked_url", 500),
			withDefault(ranged(intField("sort_order"), 0, 100000), int64(0)),
		},
		Search:      []string{"title", "feature_key"},
		Filters:     []string{"house_id", "media_id", "feature_key"},
		Sortable:    []string{"sort_order", "title"},
		DefaultSort: "sort_order",
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			houseID := m.String("house_id")
			if m.IsCreate || m.Has("house_id") {
				if err := requireEntity(ctx, s, "houses", houseID, "house_id"); err != nil {
					return err
				}
			}
			if mediaID := m.String("media_id"); mediaID != "" && (m.Has("media_id") || m.Has("house_id")) {
				ok, err := s.entityExists(ctx, "media_assets", mediaID, "entity_type = ? AND entity_id = ?", entityHouse, houseID)
				if err != nil {
					return err
				}
				if !ok {
					return newValidation("media_id", "la imagen no pertenece a la casa")
				}
			}
			return nil
		},
	}
}

func seoResource() *resource {
	return &resource{
		Name:   "seo",
		Target: "seo_setting",
		Table:  "seo_settings",
		Fields: []field{
			required(str("page_path", 255)),
			str("meta_title", 70),
			str("meta_description", 160),
			list("keywords"),
			str("og_image_url", 500),
			str("canonical_url", 500),
			flag("no_index", false),
		},
		Search:      []string{"page_path", "meta_title"},
		Filters:     []string{"no_index"},
		Sortable:    []string{"page_path"},
		DefaultSort: "page_path",
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			if !m.Has("page_path") || m.vals["page_path"] == nil {
				return nil
			}
			p := normalizePagePath(m.String("page_path"))
			if p == "" {
				return newValidation("page_path", "debe comenzar con /")
			}
			m.Set("page_path", p)
			return nil
		},
	}
}

// normalizePagePath lowercases and drops query, fragment, and trailing
// slashes. Paths not starting with "/" are rejected with "".
func normalizePagePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return ""
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.ToLower(p)
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func actionsResource() *resource {
	return &resource{
		Name:        "actions",
		Target:      "admin_action",
		Table:       "admin_actions",
		ReadOnly:    true,
		NoUpdatedAt: true,
		Fields: []field{
			ref("admin_id"),
			str("action_type", 40),
			str("target_type", 40),
			ref("target_id"),
			jsonField("changes_before"),
			jsonField("changes_after"),
			str("ip", 64),
			str("user_agent", 255),
		},
		Filters:     []string{"target_type", "admin_id", "action_type", "target_id"},
		Sortable:    []string{"action_type", "target_type"},
		DefaultSort: "-created_at",
	}
}

func requireEntity(ctx context.Context, s *Server, table, id, fieldName string) error {
	ok, err := s.entityExists(ctx, table, id, "")
	if err != nil {
		return err
	}
	if !ok {
		return newValidation(fieldName, "no existe")
	}
	return nil
}

// checkMinMax rejects a range whose lower bound exceeds the upper one.
func checkMinMax(m *mutation, minCol, maxCol string) error {
	lo, okLo := m.Float(minCol)
	hi, okHi := m.Float(maxCol)
	if okLo && okHi && lo > hi {
		return newValidation(maxCol, "debe ser mayor o igual a "+minCol)
	}
	return nil
}
