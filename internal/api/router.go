package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mkessel/outrider/internal/api/middleware"
	"github.com/mkessel/outrider/internal/queue"
)

// NewRouter creates and configures the application router with all routes
// and middleware. Returns the configured router.
func NewRouter(queueService queue.QueueService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	messageHandler := NewMessageHandler(queueService)
	taskHandler := NewTaskHandler(queueService)
	statusHandler := NewStatusHandler(queueService)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Message intake endpoints
		r.Post("/messages", messageHandler.EnqueueMessage)
		r.Get("/messages/{id}", messageHandler.GetMessage)

		// Task delegation endpoints
		r.Post("/tasks", taskHandler.DelegateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/tasks/{id}/progress", taskHandler.GetTaskProgress)

		// Chain endpoints
		r.Post("/chains", taskHandler.CreateChain)
		r.Get("/chains/{groupID}", taskHandler.GetChainStatus)

		// Queue-wide status
		r.Get("/status", statusHandler.GetQueueStatus)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
