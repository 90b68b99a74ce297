package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/migration"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
	maxBodyBytes   = 1 << 20
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Data    []T `json:"data"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_BODY",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// errorStatus maps an engine error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ipam.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED"
	case errors.Is(err, ipam.ErrMalformedAddress):
		return http.StatusUnprocessableEntity, "MALFORMED_ADDRESS"
	case errors.Is(err, ipam.ErrDuplicateName):
		return http.StatusUnprocessableEntity, "DUPLICATE_NAME"
	case errors.Is(err, ipam.ErrPoolNotFound):
		return http.StatusNotFound, "POOL_NOT_FOUND"
	case errors.Is(err, ipam.ErrSubnetNotFound):
		return http.StatusNotFound, "SUBNET_NOT_FOUND"
	case errors.Is(err, ipam.ErrAllocationNotFound):
		return http.StatusNotFound, "ALLOCATION_NOT_FOUND"
	case errors.Is(err, migration.ErrNotFound):
		return http.StatusNotFound, "MIGRATION_NOT_FOUND"
	case errors.Is(err, ipam.ErrSubnetOverlap):
		return http.StatusBadRequest, "SUBNET_OVERLAP"
	case errors.Is(err, ipam.ErrPoolExhausted):
		return http.StatusBadRequest, "POOL_EXHAUSTED"
	case errors.Is(err, ipam.ErrSubnetInactive):
		return http.StatusBadRequest, "SUBNET_INACTIVE"
	case errors.Is(err, ipam.ErrHasActiveAllocations):
		return http.StatusBadRequest, "HAS_ACTIVE_ALLOCATIONS"
	case errors.Is(err, ipam.ErrDuplicateMAC):
		return http.StatusBadRequest, "DUPLICATE_MAC"
	case errors.Is(err, ipam.ErrAddressAllocated):
		return http.StatusBadRequest, "ADDRESS_ALLOCATED"
	case errors.Is(err, migration.ErrNotRunning):
		return http.StatusBadRequest, "MIGRATION_NOT_RUNNING"
	case errors.Is(err, migration.ErrRunning):
		return http.StatusBadRequest, "MIGRATION_RUNNING"
	case errors.Is(err, ipam.ErrAttributeStoreWriteFailed):
		return http.StatusBadGateway, "ATTRIBUTE_STORE_WRITE_FAILED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeServiceError writes err with the status that matches its kind.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var verr *ipam.ValidationError
	if errors.As(err, &verr) {
		resp.Error = "validation failed"
		resp.Fields = verr.Fields
	}
	var oerr *ipam.OverlapError
	if errors.As(err, &oerr) {
		resp.Details = fmt.Sprintf("conflicts with subnet %s", oerr.SubnetID)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

// pagination reads page and per_page from the query string.
func pagination(r *http.Request) (int, int, error) {
	page, perPage := 1, defaultPerPage
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, &ipam.ValidationError{Fields: map[string]string{"page": "must be a positive integer"}}
		}
		page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPerPage {
			return 0, 0, &ipam.ValidationError{Fields: map[string]string{"per_page": "must be between 1 and 500"}}
		}
		perPage = n
	}
	return page, perPage, nil
}

func paginate[T any](items []T, page, perPage int) Page[T] {
	out := Page[T]{Data: []T{}, Page: page, PerPage: perPage, Total: len(items)}
	start := (page - 1) * perPage
	if start >= len(items) {
		return out
	}
	end := min(start+perPage, len(items))
	out.Data = items[start:end]
	return out
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
