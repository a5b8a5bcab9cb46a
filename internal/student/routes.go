package student

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers student record routes with the Chi router.
// All routes require authentication; writes additionally require the
// admin or teacher role, and deletes require admin. Extra route groups
// (per-student document routes) are mounted inside the same subtree so
// they share the authentication middleware.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware Middleware, requireRole func(roles ...string) func(http.Handler) http.Handler, extra ...func(chi.Router)) {
	r.Route("/students", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/", handler.List)
		r.Get("/stats", handler.Stats)
		r.Get("/{id}", handler.Get)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(repository.RoleAdmin, repository.RoleTeacher))
			r.Post("/", handler.Create)
			r.Put("/{id}", handler.Update)
			r.Patch("/{id}", handler.Update)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(repository.RoleAdmin))
			r.Delete("/{id}", handler.Delete)
		})

		for _, mount := range extra {
			mount(r)
		}
	})
}
