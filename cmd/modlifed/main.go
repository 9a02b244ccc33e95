// Command modlifed is a small composing application for the lifecycle
// manager: it wires the Registry, Validator, Loader and Monitor together and
// exposes them over an HTTP admin surface with Prometheus metrics.
//
// The manager core owns no network surface of its own; everything in this
// binary is the surrounding application's responsibility.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modlife"
	"github.com/GoCodeAlone/modlife/artifact"
)

func main() {
	var (
		addr       = flag.String("addr", ":8480", "listen address for the admin API")
		configPath = flag.String("config", "", "path to a YAML or TOML manager config file")
		modulesDir = flag.String("modules", "modules.d", "directory of module manifest files")
	)
	flag.Parse()

	logger := modlife.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(*addr, *configPath, *modulesDir, logger); err != nil {
		logger.Error("modlifed failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, configPath, modulesDir string, logger modlife.Logger) error {
	cfg, err := modlife.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	loaderOptions, err := cfg.LoaderOptions()
	if err != nil {
		return err
	}
	monitorOptions, err := cfg.MonitorOptions()
	if err != nil {
		return err
	}

	source, err := artifact.NewDirSource(modulesDir)
	if err != nil {
		return fmt.Errorf("opening artifact source: %w", err)
	}
	defer source.Close()
	source.RegisterKind("noop", func(ctx context.Context, manifest artifact.Manifest) (modlife.ModuleHandle, error) {
		return struct{}{}, nil
	})

	bus := modlife.NewEventBus(logger)
	registry := modlife.NewRegistry(bus, logger)
	validator := modlife.NewValidator(registry)
	loader := modlife.NewLoader(registry, validator, source, bus, logger, loaderOptions)
	monitor, err := modlife.NewMonitor(registry, bus, logger, monitorOptions)
	if err != nil {
		return err
	}

	monitor.Start()
	defer monitor.Stop()
	defer loader.Stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(modlife.NewCollector(monitor))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	srv := &server{registry: registry, loader: loader, monitor: monitor, logger: logger}

	router.Route("/modules", func(r chi.Router) {
		r.Get("/", srv.listModules)
		r.Post("/", srv.registerModule)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", srv.getModule)
			r.Delete("/", srv.unregisterModule)
			r.Post("/load", srv.lifecycle(loader.Load))
			r.Post("/unload", srv.lifecycle(loader.Unload))
			r.Post("/reload", srv.lifecycle(loader.Reload))
			r.Post("/activate", srv.lifecycle(loader.Activate))
			r.Post("/deactivate", srv.lifecycle(loader.Deactivate))
		})
	})
	router.Get("/health", srv.allHealth)
	router.Get("/health/{id}", srv.moduleHealth)
	router.Get("/stats", srv.stats)
	router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type server struct {
	registry *modlife.Registry
	loader   *modlife.Loader
	monitor  *modlife.Monitor
	logger   modlife.Logger
}

func (s *server) listModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetAll())
}

func (s *server) registerModule(w http.ResponseWriter, r *http.Request) {
	var descriptor modlife.ModuleDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptor); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.Register(&descriptor); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": descriptor.ID})
}

func (s *server) getModule(w http.ResponseWriter, r *http.Request) {
	descriptor, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (s *server) unregisterModule(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Unregister(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lifecycle adapts a loader operation to an HTTP handler.
func (s *server) lifecycle(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := op(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		descriptor, err := s.registry.Get(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": descriptor.Status.String()})
	}
}

func (s *server) allHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.AllHealthStatuses())
}

func (s *server) moduleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.monitor.HealthStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registry": s.registry.Stats(),
		"monitor":  s.monitor.Stats(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, modlife.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, modlife.ErrModuleAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, modlife.ErrValidationFailed),
		errors.Is(err, modlife.ErrInvalidModule),
		errors.Is(err, modlife.ErrInvalidStateTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, modlife.ErrOperationInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
