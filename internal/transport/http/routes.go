package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler, wh *WorkerHandler, workerToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// external workers, shared credential
	r.Route("/worker", func(r chi.Router) {
		r.Use(WorkerAuth(workerToken))

		r.Post("/claim", wh.Claim)
		r.Post("/heartbeat", wh.Heartbeat)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Post("/status", wh.ReportStage)
			r.Post("/checkpoint", wh.SaveCheckpoint)
			r.Post("/complete", wh.Complete)
			r.Post("/fail", wh.Fail)
			r.Post("/interrupt", wh.Interrupt)
		})
	})

	// clients, identity established upstream
	r.Group(func(r chi.Router) {
		r.Use(Auth)

		r.Post("/uploads", h.CreateUpload)
		r.Post("/uploads/complete", h.CompleteUpload)
		r.Post("/imports", h.CreateImport)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/bulk/delete", h.BulkDelete)
			r.Post("/bulk/restore", h.BulkRestore)
			r.Post("/bulk/purge", h.BulkPurge)
			r.Post("/interrupted/retry", h.RetryInterrupted)

			r.Get("/", h.ListJobs)
			r.Get("/{id}", h.GetJob)
			r.Delete("/{id}", h.DeleteJob)
			r.Post("/{id}/restore", h.RestoreJob)
			r.Delete("/{id}/purge", h.PurgeJob)
			r.Post("/{id}/cancel", h.CancelJob)
		})

		r.Get("/workers", h.ListWorkers)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
