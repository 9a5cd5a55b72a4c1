package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/batch"
	"github.com/sells-group/boq-resolver/internal/engine"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/monitoring"
	"github.com/sells-group/boq-resolver/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface for resolution and batch jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		resumeRunning(ctx, env)

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Store, env.Queue.Breaker())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// resumeRunning restarts jobs that were running when the previous process
// stopped. They continue from their last checkpoint.
func resumeRunning(ctx context.Context, env *resolverEnv) int {
	jobs, err := env.Store.ListJobs(ctx, store.JobFilter{Limit: 1000})
	if err != nil {
		zap.L().Warn("serve: list jobs for resume", zap.Error(err))
		return 0
	}
	n := 0
	for _, j := range jobs {
		if j.Status != model.JobRunning {
			continue
		}
		if err := env.Batch.Start(ctx, j.ID); err != nil {
			zap.L().Warn("serve: resume job", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		zap.L().Info("serve: resumed interrupted jobs", zap.Int("jobs", n))
	}
	return n
}

type resolveRequest struct {
	Text         string                  `json:"text"`
	Context      model.ContextDescriptor `json:"context"`
	NoEscalation bool                    `json:"no_escalation"`
}

type createJobRequest struct {
	Rows              []string                `json:"rows"`
	Context           model.ContextDescriptor `json:"context"`
	Concurrency       int                     `json:"concurrency"`
	EscalationEnabled *bool                   `json:"escalation_enabled"`
	MaxCandidates     int                     `json:"max_candidates"`
	Start             bool                    `json:"start"`
}

func buildRouter(env *resolverEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]string{"status": "ok", "provider": env.Provider.Name()}
		if env.Queue != nil {
			body["selector_circuit"] = env.Queue.Breaker().State().String()
		}
		respondJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body resolveRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Text == "" {
			respondError(w, http.StatusBadRequest, "text is required")
			return
		}
		res, err := env.Engine.ResolveText(req.Context(), body.Text, body.Context, engine.Options{NoEscalation: body.NoEscalation})
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			jobs, err := env.Store.ListJobs(req.Context(), store.JobFilter{Limit: 100})
			if err != nil {
				respondErr(w, err)
				return
			}
			respondJSON(w, http.StatusOK, jobs)
		})

		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body createJobRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			escalate := cfg.Gate.EscalationEnabled
			if body.EscalationEnabled != nil {
				escalate = *body.EscalationEnabled
			}
			job, err := env.Batch.Create(req.Context(), body.Rows, model.JobSettings{
				Concurrency:       body.Concurrency,
				EscalationEnabled: escalate,
				MaxCandidates:     body.MaxCandidates,
			}, body.Context)
			if err != nil {
				respondErr(w, err)
				return
			}
			if body.Start {
				if err := env.Batch.Start(req.Context(), job.ID); err != nil {
					respondErr(w, err)
					return
				}
			}
			respondJSON(w, http.StatusCreated, job)
		})

		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				p, err := env.Batch.Status(req.Context(), chi.URLParam(req, "jobID"))
				if err != nil {
					respondErr(w, err)
					return
				}
				respondJSON(w, http.StatusOK, p)
			})

			r.Get("/results", func(w http.ResponseWriter, req *http.Request) {
				results, err := env.Batch.Results(req.Context(), chi.URLParam(req, "jobID"))
				if err != nil {
					respondErr(w, err)
					return
				}
				respondJSON(w, http.StatusOK, results)
			})

			r.Post("/start", jobAction(env, env.Batch.Start))
			r.Post("/pause", jobAction(env, env.Batch.Pause))
			r.Post("/resume", jobAction(env, env.Batch.Resume))

			r.Post("/items/{itemID}/retry", func(w http.ResponseWriter, req *http.Request) {
				it, err := env.Batch.RetryItem(req.Context(), chi.URLParam(req, "jobID"), chi.URLParam(req, "itemID"))
				if err != nil {
					respondErr(w, err)
					return
				}
				respondJSON(w, http.StatusAccepted, it)
			})
		})
	})

	return r
}

// jobAction adapts a job control call to a handler that answers with the
// job's progress.
func jobAction(env *resolverEnv, action func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		jobID := chi.URLParam(req, "jobID")
		if err := action(req.Context(), jobID); err != nil {
			respondErr(w, err)
			return
		}
		p, err := env.Batch.Status(req.Context(), jobID)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, p)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondErr maps domain errors to HTTP status codes.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrEmptyBatch), errors.Is(err, batch.ErrTooManyItems):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("serve: request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
