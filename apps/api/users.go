package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
}

type LoginRequest struct {
	// Identifier is an email, username or mobile number.
	Identifier string `json:"identifier"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// RegisterHandler creates a user profile. Email, username and mobile
// must all be unused; the store reports which one collides.
func RegisterHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.TrimSpace(req.Email)
		req.Mobile = strings.TrimSpace(req.Mobile)
		if req.Username == "" || req.Email == "" {
			http.Error(w, "username and email are required", http.StatusBadRequest)
			return
		}

		u := &model.User{
			ID:        uuid.NewString(),
			Username:  req.Username,
			Email:     req.Email,
			Mobile:    req.Mobile,
			CreatedAt: time.Now(),
		}
		if err := st.CreateUser(r.Context(), u); err != nil {
			log.Printf("Register failed for %s: %v", req.Email, err)
			http.Error(w, err.Error(), apperrors.HTTPStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(u)
	}
}

// LoginHandler resolves the identifier to a user and issues a token.
func LoginHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.Identifier = strings.TrimSpace(req.Identifier)
		if req.Identifier == "" {
			http.Error(w, "identifier is required", http.StatusBadRequest)
			return
		}

		u, err := st.FindUserByIdentifier(r.Context(), req.Identifier)
		if err != nil {
			http.Error(w, err.Error(), apperrors.HTTPStatus(err))
			return
		}
		if err := st.TouchLastLogin(r.Context(), u.ID, time.Now()); err != nil {
			log.Printf("Failed to record login for %s: %v", u.ID, err)
		}

		token, err := auth.GenerateToken(u.ID)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{Token: token, User: *u})
	}
}

// SearchHandler matches users by username substring or mobile number,
// excluding the caller.
func SearchHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		term := strings.TrimSpace(r.URL.Query().Get("q"))
		if term == "" {
			http.Error(w, "q is required", http.StatusBadRequest)
			return
		}

		users, err := st.SearchUsers(r.Context(), term, claims.UserID)
		if err != nil {
			http.Error(w, err.Error(), apperrors.HTTPStatus(err))
			return
		}
		if users == nil {
			users = []model.User{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(users)
	}
}
