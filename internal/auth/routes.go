package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// Public routes: /register, /login, /refresh
// Protected routes: /logout, /logout-all, /me
//
// maxConcurrent caps in-flight requests on the bcrypt-heavy endpoints so
// slow hashing cannot stall the rest of the service.
func RegisterRoutes(r chi.Router, handler *AuthHandler, authMiddleware Middleware, maxConcurrent int) {
	r.Route("/auth", func(r chi.Router) {
		// Public routes (no authentication required)
		r.Group(func(r chi.Router) {
			if maxConcurrent > 0 {
				r.Use(middleware.Throttle(maxConcurrent))
			}
			r.Post("/register", handler.Register)
			r.Post("/login", handler.Login)
		})
		r.Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)

		// Protected routes (authentication required)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout-all", handler.LogoutAll)
			r.Get("/me", handler.GetMe)
		})
	})
}
