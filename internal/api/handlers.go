// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleTrackedCharacter(w http.ResponseWriter, r *http.Request) {
	characterID, ok := int64Param(w, r, "characterID")
	if !ok {
		return
	}

	tc, err := s.store.GetTrackedCharacter(r.Context(), characterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		logging.Error().Err(err).Int64("character_id", characterID).Msg("Tracked character lookup failed")
		return
	}
	if tc == nil {
		writeError(w, http.StatusNotFound, "character not tracked")
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handleInvolvements(w http.ResponseWriter, r *http.Request) {
	characterID, ok := int64Param(w, r, "characterID")
	if !ok {
		return
	}
	start, end, ok := timeRange(w, r)
	if !ok {
		return
	}

	rows, err := s.store.InvolvementsForCharacter(r.Context(), characterID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		logging.Error().Err(err).Int64("character_id", characterID).Msg("Involvement query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(rows), Items: rows})
}

func (s *Server) handleLosses(w http.ResponseWriter, r *http.Request) {
	characterID, ok := int64Param(w, r, "characterID")
	if !ok {
		return
	}
	start, end, ok := timeRange(w, r)
	if !ok {
		return
	}

	rows, err := s.store.LossesForCharacter(r.Context(), characterID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		logging.Error().Err(err).Int64("character_id", characterID).Msg("Loss query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(rows), Items: rows})
}

func (s *Server) handleKillmail(w http.ResponseWriter, r *http.Request) {
	killmailID, ok := int64Param(w, r, "killmailID")
	if !ok {
		return
	}

	km, err := s.store.GetKillmail(r.Context(), killmailID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		logging.Error().Err(err).Int64("killmail_id", killmailID).Msg("Killmail lookup failed")
		return
	}
	if km == nil {
		writeError(w, http.StatusNotFound, "killmail not found")
		return
	}
	writeJSON(w, http.StatusOK, km)
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	cp, err := s.store.LoadCheckpoint(r.Context(), stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		logging.Error().Err(err).Str("stream", stream).Msg("Checkpoint lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

type listResponse struct {
	Count int         `json:"count"`
	Items interface{} `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// int64Param parses a positive integer URL parameter, writing a 400 on
// failure.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// timeRange parses optional start/end query parameters (RFC 3339).
// Defaults: start = beginning of time, end = now.
func timeRange(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	end = time.Now().UTC()
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time, want RFC 3339")
			return start, end, false
		}
		end = t
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time, want RFC 3339")
			return start, end, false
		}
		start = t
	}
	if !start.IsZero() && end.Before(start) {
		writeError(w, http.StatusBadRequest, "end before start")
		return start, end, false
	}
	return start, end, true
}
