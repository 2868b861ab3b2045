package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	h "vaccinealert/internal/delivery/http/helpers"
	"vaccinealert/internal/domain"
)

// UnsubscribeResponse is the response body for GET /alerts/unsubscribe
type UnsubscribeResponse struct {
	Email        string `json:"email"`
	Unsubscribed bool   `json:"unsubscribed"`
}

type SubscriptionController struct {
	Logger  *slog.Logger
	Service domain.SubscriptionService
}

func NewSubscriptionController(logger *slog.Logger, svc domain.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{
		Logger:  logger,
		Service: svc,
	}
}

// Unsubscribe godoc
// @Summary Stop vaccine alerts
// @Description Follows the unsubscribe link embedded in every alert email and deactivates the recipient.
// @Tags alerts
// @Produce json
// @Param token query string true "Unsubscribe token from the alert email"
// @Success 200 {object} helpers.APIResponse "data contains email and unsubscribed"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /alerts/unsubscribe [get]
func (c *SubscriptionController) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.WriteJSONError(w, http.StatusBadRequest, h.ErrCodeBadRequest, "token is required")
		return
	}
	email, err := c.Service.Unsubscribe(r.Context(), token)
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "invalid or expired link")
	case errors.Is(err, domain.ErrUserNotFound):
		h.WriteJSONError(w, http.StatusNotFound, h.ErrCodeNotFound, "subscription not found")
	case err != nil:
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "could not unsubscribe")
	default:
		h.WriteJSONSuccess(w, http.StatusOK, UnsubscribeResponse{Email: email, Unsubscribed: true})
	}
}
