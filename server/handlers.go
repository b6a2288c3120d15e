package server

import (
	"context"
	"net/http"
	"time"

	"github.com/guchang/superinbox-sub005/db"
	"github.com/guchang/superinbox-sub005/dispatch"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/routing"
)

// dispatchRequestTimeout bounds a synchronous dispatch triggered over
// HTTP. Individual adapter calls carry their own shorter timeouts.
const dispatchRequestTimeout = 2 * time.Minute

// defaultUserID stands in until multi-user auth lands. All HTTP callers
// act as this user.
const defaultUserID = "usr_local"

type createItemRequest struct {
	UserID   string                 `json:"user_id"`
	Content  string                 `json:"content"`
	Category string                 `json:"category"`
	Entities map[string]interface{} `json:"entities"`

	// NoDispatch captures the item without triggering distribution.
	NoDispatch bool `json:"no_dispatch"`
}

// handleCreateItem captures a pre-classified item and triggers dispatch
// asynchronously. Classification happens upstream; the payload carries
// category and entities ready-made.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	it, err := item.New(req.UserID, req.Content, req.Category, req.Entities)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.items.Create(it); err != nil {
		s.log.Errorw("Failed to create item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	s.log.Infow("Item captured", "item_id", shortID(it.ID), "category", it.Category)

	if !req.NoDispatch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, dispatchRequestTimeout)
			defer cancel()
			if _, err := s.orchestrator.DistributeItem(ctx, it.ID, dispatch.Options{}); err != nil {
				s.logDispatchError(it.ID, err)
			}
		}()
	}

	writeJSON(w, http.StatusCreated, it)
}

// logDispatchError records a failed background dispatch. A dispatch cut
// short because the database closed underneath it is ordinary shutdown
// sequencing, not a fault, and logs at debug instead of warn.
func (s *Server) logDispatchError(itemID string, err error) {
	if db.IsDatabaseClosed(err) {
		s.log.Debugw("Post-capture dispatch stopped by shutdown", "item_id", shortID(itemID))
		return
	}
	s.log.Warnw("Post-capture dispatch failed",
		"item_id", shortID(itemID),
		"error", err,
	)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.items.Get(r.PathValue("id"))
	if errors.Is(err, item.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type dispatchItemRequest struct {
	AdapterTypes []string `json:"adapter_types"`
}

// handleDispatchItem triggers a manual (re)dispatch, optionally
// restricted to a subset of adapter types.
func (s *Server) handleDispatchItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req dispatchItemRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), dispatchRequestTimeout)
	defer cancel()

	results, err := s.orchestrator.DistributeItem(ctx, id, dispatch.Options{AdapterTypes: req.AdapterTypes})
	if errors.Is(err, dispatch.ErrDispatchInFlight) {
		writeError(w, http.StatusConflict, "dispatch already in flight for this item")
		return
	}
	if err != nil {
		if errors.Is(err, item.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.log.Errorw("Dispatch failed", "item_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id": id,
		"results": results,
	})
}

// handleItemRouting returns the progress snapshot derived from persisted
// state, for late-joining observers.
func (s *Server) handleItemRouting(w http.ResponseWriter, r *http.Request) {
	ev, err := s.orchestrator.Snapshot(r.PathValue("id"))
	if errors.Is(err, item.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to derive routing snapshot")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleItemResults returns the full append-only attempt history.
func (s *Server) handleItemResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.items.Get(id); errors.Is(err, item.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	results, err := s.results.ForItem(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id": id,
		"results": results,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = defaultUserID
	}

	rules, err := s.rules.ListRules(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

type createRuleRequest struct {
	UserID     string              `json:"user_id"`
	Name       string              `json:"name"`
	Priority   int                 `json:"priority"`
	Conditions []routing.Condition `json:"conditions"`
	Actions    []routing.Action    `json:"actions"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	rule, err := routing.NewRule(req.UserID, req.Name, req.Priority, req.Conditions, req.Actions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.rules.Create(rule); err != nil {
		s.log.Errorw("Failed to create rule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	s.log.Infow("Rule created", "rule_id", shortID(rule.ID), "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.rules.Get(id)
	if errors.Is(err, routing.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}

	var req struct {
		Name       *string              `json:"name"`
		Priority   *int                 `json:"priority"`
		Conditions *[]routing.Condition `json:"conditions"`
		Actions    *[]routing.Action    `json:"actions"`
		IsActive   *bool                `json:"is_active"`
	}
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Priority != nil {
		existing.Priority = *req.Priority
	}
	if req.Conditions != nil {
		existing.Conditions = *req.Conditions
	}
	if req.Actions != nil {
		existing.Actions = *req.Actions
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	if err := s.rules.Update(existing); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.rules.Delete(id)
	switch {
	case errors.Is(err, routing.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, routing.ErrSystemRule):
		writeError(w, http.StatusForbidden, "system rules cannot be deleted")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListAdapters reports registered adapter types and their health.
func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type adapterStatus struct {
		Type    string `json:"type"`
		Healthy bool   `json:"healthy"`
	}

	statuses := make([]adapterStatus, 0)
	for _, t := range s.registry.Types() {
		a, err := s.registry.Lookup(t)
		if err != nil {
			continue
		}
		statuses = append(statuses, adapterStatus{Type: t, Healthy: a.HealthCheck(ctx)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"adapters": statuses})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}
