package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/middleware"
)

// NewRouter constructs the registry API handler.
//
// Routes:
//
//	POST   /api/register                                → authHandler.Register
//	POST   /api/login                                   → authHandler.Login
//	POST   /api/items/{type}                            → registryHandler.CreateItem
//	GET    /api/items/{type}                            → registryHandler.SearchItems
//	GET    /api/items/{type}/{id}                       → registryHandler.GetItem
//	PUT    /api/items/{type}/{id}/state                 → registryHandler.SetState
//	POST   /api/items/{type}/{id}/lock                  → registryHandler.LockItem
//	DELETE /api/items/{type}/{id}/lock                  → registryHandler.UnlockItem
//	GET    /api/items/{type}/{id}/relationships/{name}  → registryHandler.RelatedFiles
//	POST   /api/items/{type}/{id}/relationships/{name}  → registryHandler.AddRelationship
//	PUT    /api/items/{type}/{id}/properties/{name}     → registryHandler.SetProperty
//	PUT    /api/relationships/{name}                    → registryHandler.AddRelationshipByID
//	POST   /api/files?filename=                         → registryHandler.CreateFile
//	GET    /api/files/{id}                              → registryHandler.GetFile
//	GET    /api/files/{id}/content                      → registryHandler.DownloadFile
//	PUT    /api/files/{id}/content                      → registryHandler.UpdateFileContent
//	POST   /api/files/{id}/lock                         → registryHandler.LockFile
//	DELETE /api/files/{id}/lock                         → registryHandler.UnlockFile
//	GET    /metrics                                     → Prometheus exposition
//
// Every request is logged, then authenticated by client certificate.
// File content routes take application/octet-stream bodies, all others JSON.
func NewRouter(
	authHandler *AuthHandler,
	registryHandler *RegistryHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.CertAuth)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)

			r.Route("/items/{type}", func(r chi.Router) {
				r.Post("/", registryHandler.CreateItem)
				r.Get("/", registryHandler.SearchItems)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", registryHandler.GetItem)
					r.Put("/state", registryHandler.SetState)
					r.Post("/lock", registryHandler.LockItem)
					r.Delete("/lock", registryHandler.UnlockItem)
					r.Get("/relationships/{name}", registryHandler.RelatedFiles)
					r.Post("/relationships/{name}", registryHandler.AddRelationship)
					r.Put("/properties/{name}", registryHandler.SetProperty)
				})
			})
			r.Put("/relationships/{name}", registryHandler.AddRelationshipByID)

			r.Get("/files/{id}", registryHandler.GetFile)
			r.Post("/files/{id}/lock", registryHandler.LockFile)
			r.Delete("/files/{id}/lock", registryHandler.UnlockFile)
		})

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/octet-stream"))

			r.Post("/files", registryHandler.CreateFile)
			r.Get("/files/{id}/content", registryHandler.DownloadFile)
			r.Put("/files/{id}/content", registryHandler.UpdateFileContent)
		})
	})

	return r
}
