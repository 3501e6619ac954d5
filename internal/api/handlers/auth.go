package handlers

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/driftsync/driftsync/internal/api/auth"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store      store.Store
	jwtService *auth.JWTService
	quota      int64
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s store.Store, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		store:      s,
		jwtService: jwtService,
		quota:      models.DefaultStorageQuota,
	}
}

// SetDefaultQuota overrides the storage quota assigned to new accounts.
func (h *AuthHandler) SetDefaultQuota(quota int64) {
	if quota > 0 {
		h.quota = quota
	}
}

// RegisterRequest is the request body for POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the request body for POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

const minPasswordLength = 8

// Register handles POST /api/auth/register.
// Creates a new account and returns the sanitized user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		BadRequest(w, "Username is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		StorageQuota: h.quota,
	}
	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, models.ErrDuplicateUser) {
			Conflict(w, "Username or email already taken")
			return
		}
		InternalServerError(w, "Failed to create user")
		return
	}

	logger.Info("user registered", "username", user.Username, "user_id", user.ID)
	WriteJSONCreated(w, user)
}

// Login handles POST /api/auth/login.
// Authenticates credentials and returns a JWT token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "Invalid username or password")
			return
		}
		InternalServerError(w, "Authentication failed")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		Unauthorized(w, "Invalid username or password")
		return
	}
	if !user.IsActive() {
		Forbidden(w, "User account is disabled")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	logger.Info("user logged in", "username", user.Username)
	WriteJSONOK(w, tokenPair)
}

// Refresh handles POST /api/auth/refresh.
// Returns a new token pair using a valid refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.RefreshToken == "" {
		BadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			Unauthorized(w, "Refresh token has expired")
			return
		}
		Unauthorized(w, "Invalid refresh token")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to fetch user")
		return
	}
	if !user.IsActive() {
		Forbidden(w, "User account is disabled")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, tokenPair)
}

// Logout handles POST /api/auth/logout.
// Tokens are stateless, so logout is a client-side discard; the endpoint
// exists so clients have a uniform lifecycle to call into.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	WriteNoContent(w)
}
