package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"serima/core/regulatory"
	"serima/core/store"
)

const positionPrefix = "position_"

// AdminHandler holds the catalog administration pages.
type AdminHandler struct {
	*Common
	audits store.AuditStore
}

func NewAdminHandler(common *Common, audits store.AuditStore) *AdminHandler {
	return &AdminHandler{Common: common, audits: audits}
}

func (h *AdminHandler) ListBundles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.mustCaller(w, r); !ok {
		return
	}
	bundles, err := h.catalog.ListSectorRegulations(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if bundles == nil {
		bundles = []store.SectorRegulation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": bundles})
}

func (h *AdminHandler) BundleWorkflows(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.mustCaller(w, r); !ok {
		return
	}
	bundle, ok := h.bundle(w, r)
	if !ok {
		return
	}
	items, err := h.catalog.ListBundleWorkflows(r.Context(), bundle.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundle": bundle, "workflows": items})
}

// UpdateBundleWorkflows saves new positions given as position_<item id>
// fields. Duplicate positions are saved too but reported as a warning.
func (h *AdminHandler) UpdateBundleWorkflows(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	bundle, ok := h.bundle(w, r)
	if !ok {
		return
	}
	in, err := readInput(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	changes := map[int64]int{}
	fieldErrs := map[string]string{}
	for key, vals := range in {
		if !strings.HasPrefix(key, positionPrefix) || len(vals) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, positionPrefix), 10, 64)
		if err != nil {
			fieldErrs[key] = "Unknown workflow."
			continue
		}
		pos, err := strconv.Atoi(strings.TrimSpace(vals[0]))
		if err != nil || pos < 0 {
			fieldErrs[key] = "Enter a whole number."
			continue
		}
		changes[id] = pos
	}
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": fieldErrs})
		return
	}
	items, err := h.catalog.ListBundleWorkflows(r.Context(), bundle.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	dups := regulatory.DuplicatePositions(items, changes)
	if err := h.catalog.UpdateBundleWorkflowPositions(r.Context(), bundle.ID, changes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"workflows": "A workflow does not belong to this regulation."}})
			return
		}
		h.serverError(w, r, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Log(r.Context(), c.sess.Username, "catalog.bundle_workflows", strconv.FormatInt(bundle.ID, 10))
	}
	var warnings []string
	if len(dups) > 0 {
		msg := fmt.Sprintf("Several workflows share the position(s) %s. Their order is undefined.", joinInts(dups))
		warnings = append(warnings, msg)
		h.flash(r, c, flashWarning, msg)
	}
	if items, err = h.catalog.ListBundleWorkflows(r.Context(), bundle.ID); err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundle": bundle, "workflows": items, "warnings": warnings})
}

func (h *AdminHandler) bundle(w http.ResponseWriter, r *http.Request) (*store.SectorRegulation, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	bundle, err := h.catalog.GetSectorRegulation(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return nil, false
	}
	if bundle == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return bundle, true
}

func joinInts(vals []int) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ", ")
}
