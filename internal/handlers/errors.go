package handlers

import (
	"errors"
	"net/http"

	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/services"
)

// writeEngineError maps the engine's error taxonomy onto the JSON envelope.
// Every validation failure is surfaced verbatim; only unknown errors fall
// through to storage_error.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		transition *services.InvalidTransitionError
		selection  *services.InvalidSelectionError
		moq        *services.MoqNotMetError
		incomplete *services.IncompleteLineError
	)
	switch {
	case errors.Is(err, services.ErrOfferNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrLineNotFound):
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, services.ErrOfferLocked):
		httpx.JSONError(w, http.StatusConflict, "offer_locked", nil)
	case errors.As(err, &transition):
		httpx.JSONError(w, http.StatusConflict, "invalid_transition", map[string]any{
			"operation":      transition.Op,
			"current_status": transition.Current,
		})
	case errors.As(err, &selection):
		httpx.JSONError(w, http.StatusBadRequest, "invalid_selection", map[string]any{
			"reason":        selection.Reason,
			"unknown_lines": selection.UnknownIDs,
		})
	case errors.As(err, &moq):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "moq_not_met", map[string]any{
			"minimum":   moq.Minimum,
			"selected":  moq.Selected,
			"shortfall": moq.Shortfall,
		})
	case errors.As(err, &incomplete):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "incomplete_line", map[string]any{
			"sequences": incomplete.Sequences,
		})
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "storage_error", nil)
	}
}
