package api

import (
	"database/sql"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modtok/internal/catalog"
)

func TestValidateDeltas(t *testing.T) {
	tests := []struct {
		name      string
		in        []catalog.CoverageDelta
		want      []catalog.CoverageDelta
		wantField string
	}{
		{
			name: "normalised and collapsed",
			in: []catalog.CoverageDelta{
				{RegionCode: " rm ", Op: "INCLUDE"},
				{RegionCode: "VS", Op: "exclude"},
				{RegionCode: "RM", Op: "exclude"},
			},
			want: []catalog.CoverageDelta{
				{RegionCode: "VS", Op: catalog.DeltaExclude},
				{RegionCode: "RM", Op: catalog.DeltaExclude},
			},
		},
		{
			name: "empty clears",
			in:   nil,
			want: []catalog.CoverageDelta{},
		},
		{
			name:      "unknown region",
			in:        []catalog.CoverageDelta{{RegionCode: "RM", Op: "include"}, {RegionCode: "XX", Op: "include"}},
			wantField: "deltas[1].region_code",
		},
		{
			name:      "unknown op",
			in:        []catalog.CoverageDelta{{RegionCode: "RM", Op: "toggle"}},
			wantField: "deltas[0].op",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateDeltas(tt.in)
			if tt.wantField != "" {
				var ve *validationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, tt.wantField)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const coverageBase = "SELECT sp.coverage_regions, p.coverage_regions"
const coverageDeltas = "FROM service_coverage_deltas"

func TestServiceCoverageGet(t *testing.T) {
	tests := []struct {
		name          string
		service       any
		provider      any
		deltas        [][2]string
		wantSource    string
		wantEffective []any
	}{
		{
			name:          "inherits provider regions",
			service:       nil,
			provider:      []byte(`["RM","VS"]`),
			deltas:        [][2]string{{"VS", "exclude"}, {"AP", "include"}},
			wantSource:    catalog.CoverageSourceProvider,
			wantEffective: []any{"AP", "RM"},
		},
		{
			name:          "own regions win",
			service:       []byte(`["RM"]`),
			provider:      []byte(`["VS"]`),
			wantSource:    catalog.CoverageSourceService,
			wantEffective: []any{"RM"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, _ := newTestServer(t)
			mock.ExpectQuery(regexp.QuoteMeta(coverageBase)).
				WithArgs(testID1).
				WillReturnRows(sqlmock.NewRows([]string{"sp", "p"}).AddRow(tt.service, tt.provider))
			rows := sqlmock.NewRows([]string{"region_code", "op"})
			for _, d := range tt.deltas {
				rows.AddRow(d[0], d[1])
			}
			mock.ExpectQuery(regexp.QuoteMeta(coverageDeltas)).WithArgs(testID1).WillReturnRows(rows)

			rec := doRequest(adminHandler(s, testAdmin), http.MethodGet, "/services/"+testID1+"/coverage", "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			data := decodeBody(t, rec)["data"].(map[string]any)
			assert.Equal(t, tt.wantSource, data["source"])
			assert.Equal(t, tt.wantEffective, data["effective"])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestServiceCoverageGetMissingService(t *testing.T) {
	s, mock, _ := newTestServer(t)
	mock.ExpectQuery(regexp.QuoteMeta(coverageBase)).WillReturnError(sql.ErrNoRows)

	rec := doRequest(adminHandler(s, testAdmin), http.MethodGet, "/services/"+testID1+"/coverage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServiceCoveragePut(t *testing.T) {
	t.Run("invalid region", func(t *testing.T) {
		s, mock, _ := newTestServer(t)
		rec := doRequest(adminHandler(s, testAdmin), http.MethodPut, "/services/"+testID1+"/coverage",
			`{"deltas":[{"region_code":"ZZ","op":"include"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replaces deltas", func(t *testing.T) {
		s, mock, _ := newTestServer(t)
		mock.ExpectQuery(regexp.QuoteMeta(coverageBase)).
			WillReturnRows(sqlmock.NewRows([]string{"sp", "p"}).AddRow(nil, []byte(`["RM"]`)))
		mock.ExpectQuery(regexp.QuoteMeta(coverageDeltas)).
			WillReturnRows(sqlmock.NewRows([]string{"region_code", "op"}).AddRow("AP", "include"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM service_coverage_deltas WHERE service_id = ?")).
			WithArgs(testID1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO service_coverage_deltas (id, service_id, region_code, op) VALUES (?, ?, ?, ?)")).
			WithArgs(sqlmock.AnyArg(), testID1, "VS", "include").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_actions")).
			WithArgs(sqlmock.AnyArg(), testAdmin.ID, actionCoverageUpdate, entityService, testID1,
				`{"deltas":[{"region_code":"AP","op":"include"}]}`,
				`{"deltas":[{"region_code":"VS","op":"include"}]}`,
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec := doRequest(adminHandler(s, testAdmin), http.MethodPut, "/services/"+testID1+"/coverage",
			`{"deltas":[{"region_code":"vs","op":"include"}]}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, []any{"VS", "RM"}, data["effective"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestServiceCoverageDelete(t *testing.T) {
	t.Run("unknown region", func(t *testing.T) {
		s, _, _ := newTestServer(t)
		rec := doRequest(adminHandler(s, testAdmin), http.MethodDelete, "/services/"+testID1+"/coverage/zz", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no such delta", func(t *testing.T) {
		s, mock, _ := newTestServer(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM service_coverage_deltas WHERE service_id = ? AND region_code = ?")).
			WithArgs(testID1, "RM").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		rec := doRequest(adminHandler(s, testAdmin), http.MethodDelete, "/services/"+testID1+"/coverage/rm", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
