package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"modtok/internal/catalog"
	"modtok/internal/httpx"
	"modtok/internal/observability"
)

const (
	actionCoverageUpdate = "coverage_update"
	actionCoverageDelete = "coverage_delete"
)

type coverageView struct {
	ServiceID string                  `json:"service_id"`
	Base      []string                `json:"base"`
	Source    string                  `json:"source"`
	Deltas    []catalog.CoverageDelta `json:"deltas"`
	Effective []string                `json:"effective"`
}

type coveragePutRequest struct {
	Deltas []catalog.CoverageDelta `json:"deltas"`
}

func decodeRegionList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil
	}
	return codes
}

// loadCoverage resolves a service's base set, deltas, and effective regions.
func (s *Server) loadCoverage(ctx context.Context, serviceID string) (coverageView, error) {
	var svcRaw, provRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sp.coverage_regions, p.coverage_regions
		FROM service_products sp
		LEFT JOIN providers p ON p.id = sp.provider_id
		WHERE sp.id = ?
	`, serviceID).Scan(&svcRaw, &provRaw)
	if err != nil {
		if isNoRows(err) {
			return coverageView{}, errNotFound
		}
		return coverageView{}, fmt.Errorf("load coverage base: %w", err)
	}

	deltas := []catalog.CoverageDelta{}
	if err := s.db.SelectContext(ctx, &deltas, `
		SELECT region_code, op
		FROM service_coverage_deltas
		WHERE service_id = ?
		ORDER BY created_at, region_code
	`, serviceID); err != nil {
		return coverageView{}, fmt.Errorf("load coverage deltas: %w", err)
	}

	base, source := catalog.BaseCoverage(decodeRegionList(svcRaw), decodeRegionList(provRaw))
	if base == nil {
		base = []string{}
	}
	return coverageView{
		ServiceID: serviceID,
		Base:      base,
		Source:    source,
		Deltas:    deltas,
		Effective: catalog.EffectiveCoverage(base, deltas),
	}, nil
}

func (s *Server) handleServiceCoverageGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cov, err := s.loadCoverage(r.Context(), id)
	if err != nil {
		writeStoreError(w, observability.FromContext(r.Context()), err, "Error leyendo cobertura")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": cov})
}

// validateDeltas normalises codes and ops, keeping the last op per region.
func validateDeltas(in []catalog.CoverageDelta) ([]catalog.CoverageDelta, error) {
	out := make([]catalog.CoverageDelta, 0, len(in))
	for i, d := range in {
		code := strings.ToUpper(strings.TrimSpace(d.RegionCode))
		if _, ok := catalog.LookupRegion(code); !ok {
			return nil, newValidation(fmt.Sprintf("deltas[%d].region_code", i), "region desconocida: "+code)
		}
		op := catalog.DeltaOp(strings.ToLower(strings.TrimSpace(string(d.Op))))
		if !op.Valid() {
			return nil, newValidation(fmt.Sprintf("deltas[%d].op", i), "debe ser include o exclude")
		}
		out = append(out, catalog.CoverageDelta{RegionCode: code, Op: op})
	}
	return catalog.CollapseDeltas(out), nil
}

func (s *Server) handleServiceCoveragePut(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	admin, _ := adminAuthFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req coveragePutRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	deltas, err := validateDeltas(req.Deltas)
	if err != nil {
		writeStoreError(w, log, err, "Error validando cobertura")
		return
	}

	before, err := s.loadCoverage(r.Context(), id)
	if err != nil {
		writeStoreError(w, log, err, "Error leyendo cobertura")
		return
	}

	entry := newAuditEntry(r, admin.User, actionCoverageUpdate, entityService, id,
		map[string]any{"deltas": before.Deltas},
		map[string]any{"deltas": deltas})
	err = s.inTx(r.Context(), func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(r.Context(), "DELETE FROM service_coverage_deltas WHERE service_id = ?", id); err != nil {
			return err
		}
		if len(deltas) > 0 {
			var sb strings.Builder
			sb.WriteString("INSERT INTO service_coverage_deltas (id, service_id, region_code, op) VALUES ")
			args := make([]any, 0, len(deltas)*4)
			for i, d := range deltas {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString("(?, ?, ?, ?)")
				args = append(args, uuid.NewString(), id, d.RegionCode, string(d.Op))
			}
			if _, err := tx.ExecContext(r.Context(), sb.String(), args...); err != nil {
				return err
			}
		}
		return insertAudit(r.Context(), tx, entry)
	})
	if err != nil {
		writeStoreError(w, log, err, "Error guardando cobertura")
		return
	}
	s.afterAudit(entry)

	base := before.Base
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": coverageView{
			ServiceID: id,
			Base:      base,
			Source:    before.Source,
			Deltas:    deltas,
			Effective: catalog.EffectiveCoverage(base, deltas),
		},
	})
}

func (s *Server) handleServiceCoverageDelete(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	admin, _ := adminAuthFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "region")))
	if _, ok := catalog.LookupRegion(code); !ok {
		httpx.WriteValidation(w, map[string]string{"region": "region desconocida: " + code})
		return
	}

	entry := newAuditEntry(r, admin.User, actionCoverageDelete, entityService, id,
		map[string]any{"region_code": code}, nil)
	err := s.inTx(r.Context(), func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(r.Context(), "DELETE FROM service_coverage_deltas WHERE service_id = ? AND region_code = ?", id, code)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errNotFound
		}
		return insertAudit(r.Context(), tx, entry)
	})
	if err != nil {
		writeStoreError(w, log, err, "Error eliminando cobertura")
		return
	}
	s.afterAudit(entry)

	cov, err := s.loadCoverage(r.Context(), id)
	if err != nil {
		writeStoreError(w, log, err, "Error leyendo cobertura")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": cov})
}
