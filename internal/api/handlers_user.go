/**
 * @description
 * HTTP handlers for user registration, login sessions, and account
 * management. Login issues an HS256 session token; logout revokes it
 * through the session manager so the token dies immediately.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JoonasMagi/jmbpank/internal/app"
	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/store"
)

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

func buildUserResponse(user *domain.User) userResponse {
	return userResponse{
		ID:       user.ID.String(),
		Username: user.Username,
		FullName: user.FullName,
	}
}

// RegisterUserHandler creates a user and their first account.
func (h *BankHandlers) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}

	user, account, err := h.service.RegisterUser(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingField):
			h.writeError(w, http.StatusBadRequest, "", "Username and full name are required")
		case errors.Is(err, app.ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, "", "Password must be at least 8 characters")
		case errors.Is(err, store.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, "", "Username is already taken")
		default:
			log.Printf("level=error component=api endpoint=register err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "", "Unable to register user")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    buildUserResponse(user),
		"account": account,
	})
}

// LoginHandler checks credentials and issues a session token.
func (h *BankHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid username or password")
			return
		}
		log.Printf("level=error component=api endpoint=login err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to log in")
		return
	}

	sessionToken, err := h.service.Sessions().Issue(user.ID, user.Username)
	if err != nil {
		log.Printf("level=error component=api endpoint=login msg=\"session issue failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to log in")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": sessionToken,
		"user":  buildUserResponse(user),
	})
}

// LogoutHandler revokes the current session.
func (h *BankHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sessionToken, ok := GetSessionToken(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}
	h.service.Sessions().Revoke(sessionToken)
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUserHandler returns the authenticated user with their accounts.
func (h *BankHandlers) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=current_user user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load user")
		return
	}

	accounts, err := h.service.ListUserAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=current_user msg=\"account listing failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load accounts")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     buildUserResponse(user),
		"accounts": accounts,
	})
}

// OpenAccountHandler opens an additional account for the authenticated user.
func (h *BankHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}

	account, err := h.service.OpenAccount(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=error component=api endpoint=open_account user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to open account")
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler returns the authenticated user's accounts.
func (h *BankHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	accounts, err := h.service.ListUserAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load accounts")
		return
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// GetAccountHandler returns one of the authenticated user's accounts.
func (h *BankHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	accountNumber := chi.URLParam(r, "accountNumber")
	if !h.authorizeAccountAccess(w, r, userID, accountNumber) {
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountNumber)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_account account=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load account")
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}
