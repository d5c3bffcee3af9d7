package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"neurovision/internal/auth"
	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/middleware"
	"neurovision/internal/repository"
	"neurovision/internal/service/user"
)

// RegisterHandler handles POST /api/users/register.
func RegisterHandler(users *user.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "no data provided", http.StatusBadRequest)
			return
		}

		u, err := users.Register(r.Context(), req)
		switch {
		case errors.Is(err, user.ErrInvalidRegistration):
			respondJSON(w, dto.ErrorResponse{Error: "validation error", Message: err.Error()}, http.StatusBadRequest)
			return
		case errors.Is(err, repository.ErrEmailTaken):
			respondError(w, "email already registered", http.StatusConflict)
			return
		case err != nil:
			logger.Error("Error registering user: %v", err)
			respondJSON(w, dto.ErrorResponse{Error: "failed to create user", Message: "something went wrong, please try again later"},
				http.StatusInternalServerError)
			return
		}

		respondJSON(w, dto.Envelope{Message: "user created", Data: u}, http.StatusCreated)
	}
}

// LoginHandler handles POST /api/users/login by issuing an access and a refresh token.
func LoginHandler(users *user.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "no data provided", http.StatusBadRequest)
			return
		}

		tokens, err := users.Login(r.Context(), req)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		if err != nil {
			logger.Error("Error during login: %v", err)
			respondError(w, "failed to log in", http.StatusInternalServerError)
			return
		}

		respondJSON(w, dto.Envelope{Message: "login successful", Data: tokens}, http.StatusOK)
	}
}

// RefreshHandler handles POST /api/users/refresh. The refresh token is read
// from the body or from the Authorization header.
func RefreshHandler(users *user.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.RefreshRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}
		if req.RefreshToken == "" {
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				req.RefreshToken = h[7:]
			}
		}
		if req.RefreshToken == "" {
			respondError(w, "missing refresh token", http.StatusBadRequest)
			return
		}

		tokens, err := users.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			logger.Warning("Token refresh rejected: %v", err)
			respondJSON(w, dto.ErrorResponse{Error: "failed to refresh token", Message: err.Error()}, http.StatusUnauthorized)
			return
		}

		respondJSON(w, dto.Envelope{Message: "token refreshed", Data: tokens}, http.StatusOK)
	}
}

// AuthCheckHandler reports the identity behind the access token.
func AuthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		respondJSON(w, map[string]interface{}{
			"authenticated": true,
			"user": map[string]interface{}{
				"id":    claims.UserID(),
				"email": claims.Email,
			},
		}, http.StatusOK)
	}
}

// LogoutHandler revokes the access token used for the request.
func LogoutHandler(jwt *auth.JWTManager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		jwt.Revoke(claims)
		logger.Info("User %d logged out", claims.UserID())
		respondJSON(w, dto.Envelope{Message: "logout successful"}, http.StatusOK)
	}
}
