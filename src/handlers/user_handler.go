package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/username/familyalpha/backend/src/config"
	"github.com/username/familyalpha/backend/src/database"
	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/security"
	"github.com/username/familyalpha/backend/src/security/validation"
)

type contextKey string

const userIDContextKey contextKey = "userID"

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,50}$`)
var passwordRegex = regexp.MustCompile(`^.{6,}$`)

type UserHandler struct {
	authService *security.AuthService
}

func NewUserHandler(authService *security.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func sendJSON(w http.ResponseWriter, payload interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	req.Username = validation.SanitizeText(validation.StripUnprintable(req.Username))
	req.DisplayName = validation.SanitizeText(validation.StripUnprintable(req.DisplayName))

	if !usernameRegex.MatchString(req.Username) {
		sendJSONError(w, "Username must be 3-50 characters (letters, digits, '._-')", http.StatusBadRequest)
		return
	}
	if !passwordRegex.MatchString(req.Password) {
		sendJSONError(w, "Password must be at least 6 characters", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(req.DisplayName, validation.MaxDisplayNameLength, "Display name"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := model.GetUserByUsername(database.DB, req.Username); err == nil {
		sendJSONError(w, "Username already taken", http.StatusConflict)
		return
	}

	user := &model.User{
		Username:    req.Username,
		DisplayName: req.DisplayName,
	}
	if err := user.HashPassword(req.Password); err != nil {
		ctxLogger.Error("Failed to hash password", "error", err)
		sendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if err := user.CreateUser(database.DB); err != nil {
		ctxLogger.Error("Failed to create user", "username", req.Username, "error", err)
		sendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("User registered", "userID", user.ID, "username", user.Username)
	sendJSON(w, user, http.StatusCreated)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         *model.User `json:"user,omitempty"`
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByUsername(database.DB, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			sendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		ctxLogger.Error("Failed to look up user for login", "error", err)
		sendJSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	if err := user.CheckPassword(req.Password); err != nil {
		ctxLogger.Warn("Login failed: bad credentials", "username", req.Username)
		sendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.authService.GenerateToken(strconv.FormatInt(user.ID, 10))
	if err != nil {
		ctxLogger.Error("Failed to generate access token", "userID", user.ID, "error", err)
		sendJSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		ctxLogger.Error("Failed to generate refresh token", "userID", user.ID, "error", err)
		sendJSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	session := &model.Session{
		UserID:       user.ID,
		Token:        accessToken,
		RefreshToken: refreshToken,
		UserAgent:    r.UserAgent(),
		ClientIP:     r.RemoteAddr,
		ExpiresAt:    time.Now().UTC().Add(config.Cfg.RefreshTokenExpiry),
	}
	if err := model.CreateSession(database.DB, session); err != nil {
		ctxLogger.Error("Failed to create session", "userID", user.ID, "error", err)
		sendJSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("User logged in", "userID", user.ID)
	sendJSON(w, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, http.StatusOK)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		sendJSONError(w, "Refresh token required", http.StatusBadRequest)
		return
	}

	session, err := model.GetSessionByRefreshToken(database.DB, req.RefreshToken)
	if err != nil {
		ctxLogger.Warn("Refresh failed: session lookup", "error", err)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.authService.GenerateToken(strconv.FormatInt(session.UserID, 10))
	if err != nil {
		ctxLogger.Error("Failed to generate access token on refresh", "userID", session.UserID, "error", err)
		sendJSONError(w, "Refresh failed", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		ctxLogger.Error("Failed to rotate refresh token", "userID", session.UserID, "error", err)
		sendJSONError(w, "Refresh failed", http.StatusInternalServerError)
		return
	}

	expiresAt := time.Now().UTC().Add(config.Cfg.RefreshTokenExpiry)
	if err := model.UpdateSessionTokens(database.DB, session.ID, accessToken, refreshToken, expiresAt); err != nil {
		ctxLogger.Error("Failed to update session tokens", "sessionID", session.ID, "error", err)
		sendJSONError(w, "Refresh failed", http.StatusInternalServerError)
		return
	}

	sendJSON(w, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, http.StatusOK)
}

func (h *UserHandler) LogoutUserHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tokenString != "" {
		if err := model.DeleteSessionByToken(database.DB, tokenString); err != nil {
			logger.FromContext(r.Context()).Warn("Failed to delete session on logout", "error", err)
		}
	}
	sendJSON(w, map[string]string{"message": "Logged out"}, http.StatusOK)
}

// GetCurrentUserHandler returns the authenticated user's own record.
func (h *UserHandler) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	sendJSON(w, user, http.StatusOK)
}

// ListUsersHandler returns every family member, for the journal filter and
// the comparison picker.
func (h *UserHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := model.ListUsers(database.DB)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list users", "error", err)
		sendJSONError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	sendJSON(w, users, http.StatusOK)
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	NewPassword string `json:"new_password"`
}

func (h *UserHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	req.DisplayName = validation.SanitizeText(validation.StripUnprintable(req.DisplayName))
	req.AvatarURL = validation.SanitizeText(validation.StripUnprintable(req.AvatarURL))

	if err := validation.ValidateStringNotEmpty(req.DisplayName, "Display name"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(req.DisplayName, validation.MaxDisplayNameLength, "Display name"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	newHash := ""
	if req.NewPassword != "" {
		if !passwordRegex.MatchString(req.NewPassword) {
			sendJSONError(w, "Password must be at least 6 characters", http.StatusBadRequest)
			return
		}
		var tmp model.User
		if err := tmp.HashPassword(req.NewPassword); err != nil {
			ctxLogger.Error("Failed to hash new password", "userID", userID, "error", err)
			sendJSONError(w, "Failed to update profile", http.StatusInternalServerError)
			return
		}
		newHash = tmp.Password
	}

	if err := user.UpdateProfile(database.DB, req.DisplayName, req.AvatarURL, newHash); err != nil {
		ctxLogger.Error("Failed to update profile", "userID", userID, "error", err)
		sendJSONError(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("Profile updated", "userID", userID)
	sendJSON(w, user, http.StatusOK)
}
