/**
 * @description
 * This file sets up the HTTP router for the bank service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * The counterpart-facing endpoints (jwks, b2b intake) are unauthenticated;
 * everything a customer touches sits behind the session middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JoonasMagi/jmbpank/internal/app"
)

// BankRoutes creates and returns the router for the bank service.
func BankRoutes(h *BankHandlers, sessions *app.SessionManager) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Counterpart-facing endpoints, reachable without a session.
	r.Get("/transfers/jwks", h.JWKSHandler)
	r.Post("/transfers/b2b", h.IncomingTransferHandler)

	// Registration and login create sessions, so they sit outside the
	// authenticated group.
	r.Post("/users", h.RegisterUserHandler)
	r.Post("/sessions", h.LoginHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(sessions))

		r.Delete("/sessions", h.LogoutHandler)
		r.Get("/users/me", h.CurrentUserHandler)

		r.Post("/accounts", h.OpenAccountHandler)
		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/{accountNumber}", h.GetAccountHandler)

		r.Post("/transfers", h.SubmitTransferHandler)
		r.Get("/transfers/{id}", h.GetTransferHandler)
		r.Get("/transfers/account/{accountNumber}", h.ListAccountTransfersHandler)
	})

	return r
}
