// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"vendingmachine/internal/api"
	"vendingmachine/internal/cleanup"
	"vendingmachine/internal/config"
	"vendingmachine/internal/data"
	"vendingmachine/internal/inventory"
	"vendingmachine/internal/logger"
	"vendingmachine/internal/machine"
	"vendingmachine/internal/middleware"
	"vendingmachine/internal/schedule"
)

type App struct {
	addr          string
	mux           *http.ServeMux
	allowedOrigin string
	connections   sync.WaitGroup
	totalRequests int64
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Step 2: Setup logging
	if err := logger.SetupLogger(cfg.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment loaded. Logger ready.")
	cfg.LogCurrentEnvironment()

	// Step 3: Load the product catalog
	catalog := inventory.DefaultCatalog()
	if cfg.Machine.CatalogPath != "" {
		catalog, err = inventory.LoadCatalog(cfg.Machine.CatalogPath)
		if err != nil {
			logger.LogFatal("Failed to load catalog: %v", err)
		}
	} else {
		logger.LogInfo("No catalog path set, using the default catalog")
	}

	// Step 4: Open the journal
	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	opts := []machine.Option{
		machine.WithLogger(logger.Named("machine")),
		machine.WithScheduler(schedule.NewTicker()),
	}
	var journal *data.Journal
	var reader api.JournalReader
	if cfg.Journal.Path != "" {
		journal, err = data.OpenJournal(cfg.Journal.Path, cfg.Journal.Buffer)
		if err != nil {
			logger.LogFatal("Failed to open journal: %v", err)
		}
		opts = append(opts, machine.WithRecorder(journal))
		reader = journal

		// Step 5: Start background tasks
		cleanup.StartCleanupRoutine(ctx, journal, cfg.Journal.Retention)
	} else {
		logger.LogInfo("Journal disabled (VM_JOURNAL_PATH not set)")
	}

	// Step 6: Build the machine
	vm, err := machine.New(machine.Settings{
		Cash:    cfg.Machine.CashConfig(),
		Card:    cfg.Machine.CardConfig(),
		Catalog: catalog,
	}, opts...)
	if err != nil {
		logger.LogFatal("Failed to build machine: %v", err)
	}

	// Step 7: Setup app
	app := &App{
		addr:          cfg.ServerAddress(),
		mux:           routes(api.NewHandler(vm, reader)),
		allowedOrigin: cfg.Server.AllowedOrigin,
	}

	// Step 8: Run server
	app.Run()

	vm.Close()
	stopBackground()
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.LogError("Journal close error: %v", err)
		}
	}
}

// routes sets up all API routes
func routes(h *api.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Mount(mux)
	return mux
}

// Run starts the HTTP server and blocks until a shutdown signal arrives
func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	// Wait for active connections to finish
	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = withJSON404(handler)
	handler = middleware.CORS(a.allowedOrigin)(handler)
	handler = a.trackConnections(handler)
	handler = withTimeout(handler, 15*time.Second)

	return handler
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, "Request timed out")
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}

// Middleware: JSON 404 for unknown paths
func withJSON404(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		crw := &captureResponseWriter{ResponseWriter: w}
		h.ServeHTTP(crw, r)

		if crw.notFound {
			logger.LogInfo("404 not found: %s", r.URL.Path)
			middleware.WriteAPIError(w, r, http.StatusNotFound, "NOT_FOUND",
				"no endpoint at "+r.URL.Path, nil)
		}
	})
}

// captureResponseWriter swallows the mux's plain-text 404 so it can be
// replaced with the JSON envelope; every other response passes through.
type captureResponseWriter struct {
	http.ResponseWriter
	notFound bool
	written  bool
}

func (crw *captureResponseWriter) WriteHeader(code int) {
	if crw.written {
		return
	}
	crw.written = true
	if code == http.StatusNotFound && crw.Header().Get("Content-Type") != "application/json" {
		crw.notFound = true
		return
	}
	crw.ResponseWriter.WriteHeader(code)
}

func (crw *captureResponseWriter) Write(b []byte) (int, error) {
	if !crw.written {
		crw.WriteHeader(http.StatusOK)
	}
	if crw.notFound {
		return len(b), nil
	}
	return crw.ResponseWriter.Write(b)
}
