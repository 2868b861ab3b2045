package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	h "vaccinealert/internal/delivery/http/helpers"
	"vaccinealert/internal/domain"
)

// TokenRequest is the request body for POST /auth/token
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// Validate implements Validator.
func (t TokenRequest) Validate() []string {
	if strings.TrimSpace(t.APIKey) == "" {
		return []string{"api_key is required"}
	}
	return nil
}

// TokenResponse is the response body for POST /auth/token
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

type AuthController struct {
	Logger  *slog.Logger
	Service domain.OpsAuthService
}

func NewAuthController(logger *slog.Logger, svc domain.OpsAuthService) *AuthController {
	return &AuthController{
		Logger:  logger,
		Service: svc,
	}
}

// IssueToken godoc
// @Summary Exchange the ops API key for a token
// @Description Compares the API key with the configured bcrypt hash and returns a short-lived bearer token for the ops endpoints.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body TokenRequest true "Ops API key"
// @Success 200 {object} helpers.APIResponse "data contains token and token_type"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /auth/token [post]
func (c *AuthController) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.DecodeAndValidate(w, r, &req) {
		return
	}
	token, err := c.Service.IssueToken(r.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "could not issue token")
		return
	}

	h.WriteJSONSuccess(w, http.StatusOK, TokenResponse{Token: token, TokenType: "Bearer"})
}
