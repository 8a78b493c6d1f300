package api

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modtok/internal/config"
)

var pngPayload = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 56)...)

var mediaCols = []string{"id", "entity_type", "entity_id", "url", "storage_path", "kind", "alt_text", "caption", "sort_order", "is_primary", "size_bytes", "content_type", "created_by", "created_at", "updated_at"}

func uploadRequest(t *testing.T, fields map[string]string, fileName string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/media/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectHouseExists(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM houses WHERE id = ?)")).
		WithArgs(testID1).
		WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(true))
}

func TestMediaUpload(t *testing.T) {
	s, mock, store := newTestServer(t)
	expectHouseExists(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sort_order) + 1, 0) FROM media_assets")).
		WithArgs("house", testID1).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO media_assets")).
		WithArgs(sqlmock.AnyArg(), "house", testID1, sqlmock.AnyArg(), sqlmock.AnyArg(), "image", "Fachada",
			int64(2), true, int64(len(pngPayload)), "image/png", testAdmin.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE media_assets SET is_primary = 0")).
		WithArgs("house", testID1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_actions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM media_assets WHERE id = ? LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(mediaCols).AddRow(testID2, "house", testID1, "https://cdn.test/x.png", "x.png",
			"image", "Fachada", nil, int64(2), int64(1), int64(len(pngPayload)), "image/png", testAdmin.ID, testNow, testNow))

	req := uploadRequest(t, map[string]string{
		"entity_type": "House",
		"entity_id":   testID1,
		"alt_text":    " Fachada ",
		"is_primary":  "true",
	}, "foto.PNG", pngPayload)
	rec := serve(adminHandler(s, testAdmin), req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, store.puts, 1)
	for objectPath, payload := range store.puts {
		assert.True(t, strings.HasPrefix(objectPath, "media/house/"+testID1+"/"), objectPath)
		assert.True(t, strings.HasSuffix(objectPath, ".png"), objectPath)
		assert.Equal(t, pngPayload, payload)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["is_primary"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaUploadRejections(t *testing.T) {
	tests := []struct {
		name       string
		maxBytes   int
		fields     map[string]string
		fileName   string
		payload    []byte
		entityOK   bool
		wantStatus int
	}{
		{
			name:       "bad entity id",
			fields:     map[string]string{"entity_type": "house", "entity_id": "x"},
			fileName:   "a.png",
			payload:    pngPayload,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad entity type",
			fields:     map[string]string{"entity_type": "slot", "entity_id": testID1},
			fileName:   "a.png",
			payload:    pngPayload,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing file",
			fields:     map[string]string{"entity_type": "house", "entity_id": testID1},
			entityOK:   true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "type not allowed",
			fields:     map[string]string{"entity_type": "house", "entity_id": testID1},
			fileName:   "notas.txt",
			payload:    []byte("hola mundo, esto es texto"),
			entityOK:   true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too large",
			maxBytes:   16,
			fields:     map[string]string{"entity_type": "house", "entity_id": testID1},
			fileName:   "a.png",
			payload:    pngPayload,
			entityOK:   true,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, store := newTestServer(t, func(c *config.Config) {
				if tt.maxBytes > 0 {
					c.MediaMaxUploadBytes = tt.maxBytes
				}
			})
			if tt.entityOK {
				expectHouseExists(mock)
			}
			rec := serve(adminHandler(s, testAdmin), uploadRequest(t, tt.fields, tt.fileName, tt.payload))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Empty(t, store.puts)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMediaUploadStorageFailure(t *testing.T) {
	s, mock, store := newTestServer(t)
	store.putErr = errors.New("cdn down")
	expectHouseExists(mock)

	req := uploadRequest(t, map[string]string{"entity_type": "house", "entity_id": testID1}, "a.png", pngPayload)
	rec := serve(adminHandler(s, testAdmin), req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaUploadRollbackRemovesObject(t *testing.T) {
	s, mock, store := newTestServer(t)
	expectHouseExists(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sort_order) + 1, 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO media_assets")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	req := uploadRequest(t, map[string]string{"entity_type": "house", "entity_id": testID1}, "a.png", pngPayload)
	rec := serve(adminHandler(s, testAdmin), req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, store.puts, 1)
	require.Len(t, store.deletes, 1)
	_, uploaded := store.puts[store.deletes[0]]
	assert.True(t, uploaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaReorder(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		owned int
	}{
		{"unknown entity type", `{"entity_type":"slot","entity_id":"` + testID1 + `","ids":["` + testID2 + `"]}`, -1},
		{"bad entity id", `{"entity_type":"house","entity_id":"x","ids":["` + testID2 + `"]}`, -1},
		{"empty ids", `{"entity_type":"house","entity_id":"` + testID1 + `","ids":[]}`, -1},
		{"duplicate ids", `{"entity_type":"house","entity_id":"` + testID1 + `","ids":["` + testID2 + `","` + testID2 + `"]}`, -1},
		{"foreign asset", `{"entity_type":"house","entity_id":"` + testID1 + `","ids":["` + testID2 + `"]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, _ := newTestServer(t)
			if tt.owned >= 0 {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM media_assets WHERE entity_type = ? AND entity_id = ? AND id IN (?)")).
					WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(tt.owned))
			}
			rec := doRequest(adminHandler(s, testAdmin), http.MethodPut, "/media/reorder", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMediaReorderWritesPositions(t *testing.T) {
	s, mock, _ := newTestServer(t)
	mock.ExpectQuery(regexp.QuoteMeta("AND id IN (?, ?)")).
		WithArgs("house", testID1, testID2, testID1).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE media_assets SET sort_order = ? WHERE id = ?")).
		WithArgs(0, testID2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE media_assets SET sort_order = ? WHERE id = ?")).
		WithArgs(1, testID1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_actions")).
		WithArgs(sqlmock.AnyArg(), testAdmin.ID, actionMediaReorder, "media_asset", testID1,
			nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := doRequest(adminHandler(s, testAdmin), http.MethodPut, "/media/reorder",
		`{"entity_type":"house","entity_id":"`+testID1+`","ids":["`+testID2+`","`+testID1+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{testID2, testID1}, decodeBody(t, rec)["ids"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaDeleteRemovesStoredObject(t *testing.T) {
	s, mock, store := newTestServer(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM media_assets WHERE id = ? LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(mediaCols).AddRow(testID2, "house", testID1, "https://cdn.test/media/x.png", "media/x.png",
			"image", nil, nil, int64(0), int64(0), int64(10), "image/png", nil, testNow, testNow))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM media_assets WHERE id = ?")).WithArgs(testID2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_actions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := doRequest(adminHandler(s, testAdmin), http.MethodDelete, "/media/"+testID2, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"media/x.png"}, store.deletes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaPrimaryUpdateClearsSiblings(t *testing.T) {
	s, mock, _ := newTestServer(t)
	row := func(primary int64) *sqlmock.Rows {
		return sqlmock.NewRows(mediaCols).AddRow(testID2, "house", testID1, "u", "p", "image", nil, nil, int64(0), primary, int64(10), "image/png", nil, testNow, testNow)
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM media_assets WHERE id = ? LIMIT 1")).WillReturnRows(row(0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE media_assets SET is_primary = ? WHERE id = ?")).
		WithArgs(true, testID2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE entity_type = ? AND entity_id = ? AND id <> ? AND is_primary = 1")).
		WithArgs("house", testID1, testID2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_actions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM media_assets WHERE id = ? LIMIT 1")).WillReturnRows(row(1))

	rec := doRequest(adminHandler(s, testAdmin), http.MethodPut, "/media/"+testID2, `{"is_primary":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// runeText matches a valid UTF-8 string argument of exactly n characters.
type runeText struct{ n int }

func (a runeText) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && utf8.ValidString(s) && utf8.RuneCountInString(s) == a.n
}

func TestMediaUploadTruncatesAltTextByRune(t *testing.T) {
	s, mock, store := newTestServer(t)
	expectHouseExists(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sort_order) + 1, 0) FROM media_assets")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO media_assets")).
		WithArgs(sqlmock.AnyArg(), "house", testID1, sqlmock.AnyArg(), sqlmock.AnyArg(), "image", runeText{n: 255},
			int64(0), false, int64(len(pngPayload)), "image/png", testAdmin.ID).
		WillReturnError(errors.New("stop"))
	mock.ExpectRollback()

	req := uploadRequest(t, map[string]string{
		"entity_type": "house",
		"entity_id":   testID1,
		"alt_text":    strings.Repeat("ñ", 300),
	}, "foto.png", pngPayload)
	rec := serve(adminHandler(s, testAdmin), req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, store.deletes, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"casa", 10, "casa"},
		{"casa", 2, "ca"},
		{"ñandú", 3, "ñan"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := truncateRunes(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", strings.Repeat("é", 400))
	ua := clientUserAgent(req)
	assert.Equal(t, 250, utf8.RuneCountInString(ua))
	assert.True(t, utf8.ValidString(ua))
}
