package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultPort = "8081"
	maxDelayMs  = 60000
)

func main() {
	port := getEnv("PORT", defaultPort)
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	server := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(),
	}

	go func() {
		logger.Info().Str("port", port).Msg("Starting target server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
}

// newRouter builds the demo target routes
func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/echo", echoHandler)
	r.HandleFunc("/delay/{ms:[0-9]+}", delayHandler)
	r.HandleFunc("/status/{code:[0-9]{3}}", statusHandler)
	return r
}

type echoResponse struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"`
}

// echoHandler reflects the request back as JSON
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(echoResponse{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header,
		Body:    string(body),
	})
}

// delayHandler responds after the requested number of milliseconds
func delayHandler(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(mux.Vars(r)["ms"])
	if err != nil || ms > maxDelayMs {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}

	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
	}
}

// statusHandler responds with the requested status code
func statusHandler(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
