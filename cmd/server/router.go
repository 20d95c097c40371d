package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/taskd/internal/api"
	apimw "github.com/phrazzld/taskd/internal/api/middleware"
	"github.com/phrazzld/taskd/internal/app"
)

// setupRouter registers the API routes and middleware for a.
func setupRouter(a *app.App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(apimw.Trace(a.Logger))
	r.Use(chimw.Recoverer)

	tasks := api.NewTaskHandler(a.TaskService, a.Logger)
	emails := api.NewEmailHandler(a.EmailService, a.Logger)
	healthz := api.NewHealthHandler(a.Health)
	authMiddleware := apimw.NewAuthMiddleware(a.JWT)

	r.Get("/health", healthz.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.OptionalAuth)

		r.Post("/tasks", tasks.CreateTask)
		r.Get("/tasks", tasks.ListTasks)
		r.Get("/tasks/{id}", tasks.GetTask)
		r.Patch("/tasks/{id}", tasks.UpdateTask)
		r.Delete("/tasks/{id}", tasks.DeleteTask)
		r.Post("/tasks/{id}/cancel", tasks.CancelTask)

		r.Get("/email-logs", emails.ListEmailLogs)
		r.Post("/send-email", emails.SendEmail)
	})

	return r
}
