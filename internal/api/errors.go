package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"modtok/internal/httpx"
)

var errNotFound = errors.New("not found")

// MySQL error numbers the handlers translate into client errors.
const (
	mysqlErrDuplicateEntry    = 1062
	mysqlErrRowReferenced     = 1451
	mysqlErrNoReferencedRow   = 1452
	mysqlErrNoReferencedRowV1 = 1216
)

// validationError carries per-field reasons and answers 400.
type validationError struct {
	Fields map[string]string
}

func (e *validationError) Error() string {
	return "validation failed"
}

func newValidation(field, reason string) *validationError {
	return &validationError{Fields: map[string]string{field: reason}}
}

// statusError carries a status and a client-safe message.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return e.Message
}

func httpError(status int, message string) error {
	return &statusError{Status: status, Message: message}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// writeStoreError maps err to a response. Unknown errors are logged and
// answered with fallback.
func writeStoreError(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	var ve *validationError
	if errors.As(err, &ve) {
		httpx.WriteValidation(w, ve.Fields)
		return
	}
	var se *statusError
	if errors.As(err, &se) {
		httpx.WriteError(w, se.Status, se.Message)
		return
	}
	if errors.Is(err, errNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "No encontrado")
		return
	}
	switch mysqlErrNumber(err) {
	case mysqlErrDuplicateEntry:
		httpx.WriteError(w, http.StatusConflict, "El registro ya existe")
		return
	case mysqlErrNoReferencedRow, mysqlErrNoReferencedRowV1:
		httpx.WriteError(w, http.StatusBadRequest, "Referencia invalida")
		return
	case mysqlErrRowReferenced:
		httpx.WriteError(w, http.StatusConflict, "El registro tiene dependencias")
		return
	}
	log.Error(fallback, zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, fallback)
}
