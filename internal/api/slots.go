package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modtok/internal/catalog"
	"modtok/internal/httpx"
	"modtok/internal/observability"
)

const (
	entityProvider = "provider"
	entityHouse    = "house"
	entityService  = "service"
)

var entityTables = map[string]string{
	entityProvider: "providers",
	entityHouse:    "houses",
	entityService:  "service_products",
}

func (s *Server) slotCapacity(slotType string) int {
	switch catalog.Tier(slotType) {
	case catalog.TierPremium:
		return s.cfg.Slots.Premium
	case catalog.TierDestacado:
		return s.cfg.Slots.Destacado
	}
	return 0
}

func (s *Server) slotsResource() *resource {
	return &resource{
		Name:   "slots",
		Target: "homepage_slot",
		Table:  "homepage_slots",
		Fields: []field{
			required(enum("slot_type", "", string(catalog.TierPremium), string(catalog.TierDestacado))),
			required(ranged(intField("slot_position"), 1, 50)),
			required(enum("entity_type", "", entityProvider, entityHouse, entityService)),
			required(ref("entity_id")),
			required(field{Name: "start_date", Kind: kindDate}),
			required(field{Name: "end_date", Kind: kindDate}),
			flag("is_active", true),
			withDefault(ranged(intField("rotation_order"), 0, 1000), int64(0)),
			ranged(floatField("monthly_price"), 0, maxPrice),
			text("notes"),
			readOnly(ref("created_by")),
		},
		Filters:     []string{"slot_type", "entity_type", "entity_id", "is_active", "slot_position"},
		Sortable:    []string{"slot_position", "start_date", "end_date", "rotation_order", "slot_type"},
		DefaultSort: "-start_date",
		BulkFields:  []string{"rotation_order", "monthly_price", "notes"},
		Actions: map[string]statusAction{
			"activate": {
				Set: map[string]any{"is_active": true},
				Guard: func(ctx context.Context, s *Server, _ adminUser, ids []string) error {
					return s.checkSlotActivation(ctx, ids)
				},
			},
			"deactivate": {Set: map[string]any{"is_active": false}},
		},
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			return s.validateSlot(ctx, slotCandidate{
				ID:          m.ID,
				SlotType:    m.String("slot_type"),
				Position:    int64Value(m.Value("slot_position")),
				EntityType:  m.String("entity_type"),
				EntityID:    m.String("entity_id"),
				Start:       m.String("start_date"),
				End:         m.String("end_date"),
				Active:      m.Bool("is_active"),
				CheckEntity: m.IsCreate || m.Has("entity_type") || m.Has("entity_id"),
			})
		},
	}
}

type slotCandidate struct {
	ID          string
	SlotType    string
	Position    int64
	EntityType  string
	EntityID    string
	Start       string
	End         string
	Active      bool
	CheckEntity bool
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// validateSlot enforces the window, capacity, entity and overlap rules.
func (s *Server) validateSlot(ctx context.Context, c slotCandidate) error {
	start, err := catalog.ParseDay(c.Start, s.loc)
	if err != nil {
		return newValidation("start_date", "fecha invalida (YYYY-MM-DD)")
	}
	end, err := catalog.ParseDay(c.End, s.loc)
	if err != nil {
		return newValidation("end_date", "fecha invalida (YYYY-MM-DD)")
	}
	if end.Before(start) {
		return newValidation("end_date", "debe ser igual o posterior a start_date")
	}
	if capacity := s.slotCapacity(c.SlotType); c.Position < 1 || c.Position > int64(capacity) {
		return newValidation("slot_position", fmt.Sprintf("debe estar entre 1 y %d para %s", capacity, c.SlotType))
	}
	table, ok := entityTables[c.EntityType]
	if !ok {
		return newValidation("entity_type", "tipo de entidad invalido")
	}
	if c.CheckEntity {
		if err := requireEntity(ctx, s, table, c.EntityID, "entity_id"); err != nil {
			return err
		}
	}
	if !c.Active {
		return nil
	}

	var taken int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM homepage_slots
		WHERE slot_type = ? AND slot_position = ? AND is_active = 1
			AND id <> ? AND start_date <= ? AND end_date >= ?
	`, c.SlotType, c.Position, c.ID, c.End, c.Start).Scan(&taken); err != nil {
		return fmt.Errorf("slot position overlap: %w", err)
	}
	if taken > 0 {
		return httpError(http.StatusConflict, "La posicion ya esta ocupada en esas fechas")
	}

	var dup int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM homepage_slots
		WHERE slot_type = ? AND entity_type = ? AND entity_id = ? AND is_active = 1
			AND id <> ? AND start_date <= ? AND end_date >= ?
	`, c.SlotType, c.EntityType, c.EntityID, c.ID, c.End, c.Start).Scan(&dup); err != nil {
		return fmt.Errorf("slot entity overlap: %w", err)
	}
	if dup > 0 {
		return httpError(http.StatusConflict, "La entidad ya tiene un slot activo de ese tipo en esas fechas")
	}
	return nil
}

// checkSlotActivation validates every slot in ids as if it were active,
// against the stored slots and against the rest of the batch.
func (s *Server) checkSlotActivation(ctx context.Context, ids []string) error {
	batch := make([]slotCandidate, 0, len(ids))
	for _, id := range ids {
		c, err := s.loadSlotCandidate(ctx, id)
		if err != nil {
			return err
		}
		batch = append(batch, c)
	}
	if err := s.batchOverlap(batch); err != nil {
		return err
	}
	for _, c := range batch {
		if err := s.validateSlot(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) loadSlotCandidate(ctx context.Context, id string) (slotCandidate, error) {
	res := s.resourceByName("slots")
	row, err := s.loadRow(ctx, res, res.Table, false, id)
	if err != nil {
		return slotCandidate{}, err
	}
	get := func(k string) string {
		v, _ := row[k].(string)
		return v
	}
	return slotCandidate{
		ID:         id,
		SlotType:   get("slot_type"),
		Position:   int64Value(row["slot_position"]),
		EntityType: get("entity_type"),
		EntityID:   get("entity_id"),
		Start:      get("start_date"),
		End:        get("end_date"),
		Active:     true,
	}, nil
}

// batchOverlap applies the position and entity overlap rules between the
// slots of one activation batch.
func (s *Server) batchOverlap(batch []slotCandidate) error {
	type window struct{ start, end time.Time }
	windows := make([]window, len(batch))
	for i, c := range batch {
		start, err := catalog.ParseDay(c.Start, s.loc)
		if err != nil {
			return newValidation("start_date", "fecha invalida (YYYY-MM-DD)")
		}
		end, err := catalog.ParseDay(c.End, s.loc)
		if err != nil {
			return newValidation("end_date", "fecha invalida (YYYY-MM-DD)")
		}
		windows[i] = window{start, end}
	}
	for i := range batch {
		for j := i + 1; j < len(batch); j++ {
			a, b := batch[i], batch[j]
			if a.ID == b.ID || a.SlotType != b.SlotType {
				continue
			}
			if !catalog.WindowsOverlap(windows[i].start, windows[i].end, windows[j].start, windows[j].end) {
				continue
			}
			if a.Position == b.Position {
				return httpError(http.StatusConflict, fmt.Sprintf("Los slots %s y %s ocupan la misma posicion en esas fechas", a.ID, b.ID))
			}
			if a.EntityType == b.EntityType && a.EntityID == b.EntityID {
				return httpError(http.StatusConflict, fmt.Sprintf("Los slots %s y %s asignan la misma entidad en esas fechas", a.ID, b.ID))
			}
		}
	}
	return nil
}

func (s *Server) resourceByName(name string) *resource {
	for _, res := range s.resources {
		if res.Name == name {
			return res
		}
	}
	return nil
}

type activeSlot struct {
	ID            string  `json:"id"`
	SlotType      string  `json:"slot_type"`
	SlotPosition  int     `json:"slot_position"`
	EntityType    string  `json:"entity_type"`
	EntityID      string  `json:"entity_id"`
	EntityName    *string `json:"entity_name"`
	EntitySlug    *string `json:"entity_slug"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	RotationOrder int     `json:"rotation_order"`
}

// activeSlotsOn lists the assignments covering day, best tier first.
func (s *Server) activeSlotsOn(ctx context.Context, day string) ([]activeSlot, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT s.id, s.slot_type, s.slot_position, s.entity_type, s.entity_id,
			COALESCE(p.company_name, h.name, sp.name) AS entity_name,
			COALESCE(p.slug, h.slug, sp.slug) AS entity_slug,
			s.start_date, s.end_date, s.rotation_order
		FROM homepage_slots s
		LEFT JOIN providers p ON s.entity_type = 'provider' AND p.id = s.entity_id
		LEFT JOIN houses h ON s.entity_type = 'house' AND h.id = s.entity_id
		LEFT JOIN service_products sp ON s.entity_type = 'service' AND sp.id = s.entity_id
		WHERE s.is_active = 1 AND s.start_date <= ? AND s.end_date >= ?
		ORDER BY FIELD(s.slot_type, 'premium', 'destacado'), s.slot_position, s.rotation_order, s.start_date
	`, day, day)
	if err != nil {
		return nil, fmt.Errorf("active slots: %w", err)
	}
	defer rows.Close()

	out := []activeSlot{}
	for rows.Next() {
		var (
			a          activeSlot
			start, end time.Time
		)
		if err := rows.Scan(&a.ID, &a.SlotType, &a.SlotPosition, &a.EntityType, &a.EntityID, &a.EntityName, &a.EntitySlug, &start, &end, &a.RotationOrder); err != nil {
			return nil, fmt.Errorf("scan active slot: %w", err)
		}
		a.StartDate = start.Format(catalog.DateLayout)
		a.EndDate = end.Format(catalog.DateLayout)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Server) handleSlotsActive(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	day := catalog.Day(s.now(), s.loc).Format(catalog.DateLayout)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := catalog.ParseDay(raw, s.loc)
		if err != nil {
			httpx.WriteValidation(w, map[string]string{"date": "fecha invalida (YYYY-MM-DD)"})
			return
		}
		day = d.Format(catalog.DateLayout)
	}
	slots, err := s.activeSlotsOn(r.Context(), day)
	if err != nil {
		writeStoreError(w, log, err, "Error leyendo slots")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"date":    day,
		"data":    slots,
		"capacity": map[string]int{
			string(catalog.TierPremium):   s.cfg.Slots.Premium,
			string(catalog.TierDestacado): s.cfg.Slots.Destacado,
		},
	})
}

type tierSlot struct {
	ID           string `json:"id"`
	SlotType     string `json:"slot_type"`
	SlotPosition int    `json:"slot_position"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	IsActive     bool   `json:"is_active"`
	ActiveToday  bool   `json:"active_today"`
}

type tierDetail struct {
	BaseTier      catalog.Tier `json:"base_tier"`
	EffectiveTier catalog.Tier `json:"effective_tier"`
	Slots         []tierSlot   `json:"slots"`
}

// tierDetailFor resolves an entity's effective tier from its base tier and
// slot assignments. Missing entities yield errNotFound.
func (s *Server) tierDetailFor(ctx context.Context, entityType, id string) (tierDetail, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return tierDetail{}, fmt.Errorf("unknown entity type %q", entityType)
	}
	var rawTier string
	if err := s.db.QueryRowContext(ctx, "SELECT tier FROM "+table+" WHERE id = ?", id).Scan(&rawTier); err != nil {
		if isNoRows(err) {
			return tierDetail{}, errNotFound
		}
		return tierDetail{}, fmt.Errorf("load tier: %w", err)
	}
	base, _ := catalog.ParseTier(rawTier)

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, slot_type, slot_position, start_date, end_date, is_active
		FROM homepage_slots
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY start_date DESC
	`, entityType, id)
	if err != nil {
		return tierDetail{}, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	now := s.now()
	detail := tierDetail{BaseTier: base, Slots: []tierSlot{}}
	var slots []catalog.Slot
	for rows.Next() {
		var (
			ts         tierSlot
			start, end time.Time
		)
		if err := rows.Scan(&ts.ID, &ts.SlotType, &ts.SlotPosition, &start, &end, &ts.IsActive); err != nil {
			return tierDetail{}, fmt.Errorf("scan slot: %w", err)
		}
		slot := catalog.Slot{
			Type:   catalog.Tier(ts.SlotType),
			Start:  dateIn(start, s.loc),
			End:    dateIn(end, s.loc),
			Active: ts.IsActive,
		}
		ts.StartDate = start.Format(catalog.DateLayout)
		ts.EndDate = end.Format(catalog.DateLayout)
		ts.ActiveToday = slot.ActiveOn(now, s.loc)
		detail.Slots = append(detail.Slots, ts)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return tierDetail{}, err
	}
	detail.EffectiveTier = catalog.EffectiveTier(base, slots, now, s.loc)
	return detail, nil
}

// dateIn reinterprets a DATE column, read as UTC midnight, as that calendar
// day in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (s *Server) effectiveTierFor(ctx context.Context, entityType, id string) (catalog.Tier, error) {
	d, err := s.tierDetailFor(ctx, entityType, id)
	if err != nil {
		return catalog.TierStandard, err
	}
	return d.EffectiveTier, nil
}

func (s *Server) attachTierDetail(ctx context.Context, entityType string, row map[string]any) error {
	id, _ := row["id"].(string)
	d, err := s.tierDetailFor(ctx, entityType, id)
	if err != nil {
		return err
	}
	row["tier_detail"] = d
	return nil
}

// ExpireFinishedSlots deactivates slots whose window ended before today.
func (s *Server) ExpireFinishedSlots(ctx context.Context) (int64, error) {
	today := catalog.Day(s.now(), s.loc).Format(catalog.DateLayout)
	res, err := s.db.ExecContext(ctx, "UPDATE homepage_slots SET is_active = 0 WHERE is_active = 1 AND end_date < ?", today)
	if err != nil {
		return 0, fmt.Errorf("expire slots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
