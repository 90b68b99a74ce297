package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mr-karan/ipamd/internal/migration"
)

func (s *Server) handleValidateMigration(w http.ResponseWriter, r *http.Request) {
	var req migration.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.migrator.Validate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStartMigration(w http.ResponseWriter, r *http.Request) {
	var req migration.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.migrator.Start(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"migration_id": id,
		"status":       string(migration.StateCreated),
	})
}

func (s *Server) handleListMigrations(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := pagination(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	history, err := s.migrator.History(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(history, page, perPage))
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	sum, err := s.migrator.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCancelMigration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.migrator.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"migration_id": id, "status": "cancelling"})
}

func (s *Server) handleRollbackMigration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.migrator.Rollback(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
