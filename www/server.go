package www

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/task"
)

type Server struct {
	logger *slog.Logger
	config config.AppConfigApi
	hub    *Hub
	mux    *http.ServeMux
}

// runEvent is pushed to websocket clients after every run.
type runEvent struct {
	Type string `json:"type"`
	Run  run    `json:"run"`
}

func StartServer(db *database.Database, planner *task.Planner, cnfg *config.AppConfig, version string) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger: logger,
		config: cnfg.Api,
		hub:    NewHub(logger.With(slog.String("handler", "ws"))),
		mux:    http.NewServeMux(),
	}

	planner.OnRun(func(res task.RunResult) {
		s.hub.Publish(runEvent{Type: "run", Run: newRunFromResult(res)})
	})

	planTimeout := cnfg.Optimizer.GetSolveTimeout() + time.Minute

	s.mux.Handle("GET /runs", NewListRunsHandler(logger.With(slog.String("handler", "runs")), db))
	s.mux.Handle("POST /runs", NewCreateRunHandler(logger.With(slog.String("handler", "runs")), planner, planTimeout))
	s.mux.Handle("GET /runs/{id}", NewGetRunHandler(logger.With(slog.String("handler", "run")), db))
	s.mux.Handle("GET /runs/{id}/results.csv", NewResultsHandler(logger.With(slog.String("handler", "results")), db))
	s.mux.Handle("GET /log", NewLogHandler(logger.With(slog.String("handler", "log")), db))
	s.mux.Handle("GET /sys_info", NewSysInfoHandler(logger.With(slog.String("handler", "sys_info")), NewSysInfo(version)))
	s.mux.HandleFunc("GET /ws", s.hub.ServeWs)

	return s
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remoteAddr", r.RemoteAddr))
		s.mux.ServeHTTP(w, r)
	})
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server...", "address", s.config.Address, "port", s.config.Port)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	srvErrors := make(chan error, 1)
	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.Any("error", err))
			return err
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*5)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
