// Package api exposes the invocation facade over REST for callers outside
// the process.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"quackcore/pkg/capability"
	"quackcore/pkg/facade"
	"quackcore/pkg/plugin"
	"quackcore/pkg/session"
)

// Server serves the invocation and introspection endpoints.
type Server struct {
	addr     string
	entry    *facade.Facade
	registry *plugin.Registry
}

// NewServer constructs the API server.
func NewServer(addr string, entry *facade.Facade, registry *plugin.Registry) *Server {
	return &Server{addr: addr, entry: entry, registry: registry}
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/invoke", s.handleInvoke)
	mux.HandleFunc("/api/v1/plugins", s.handlePlugins)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type invokeRequest struct {
	Kind            string         `json:"kind"`
	Plugin          string         `json:"plugin"`
	Operation       string         `json:"operation"`
	Args            map[string]any `json:"args"`
	WaitOnRateLimit bool           `json:"wait_on_rate_limit"`
}

type invokeResponse struct {
	OK      bool                `json:"ok"`
	Payload any                 `json:"payload,omitempty"`
	Failure *capability.Failure `json:"failure,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decoding request body failed", http.StatusBadRequest)
		return
	}
	if req.Kind == "" || req.Plugin == "" || req.Operation == "" {
		http.Error(w, "kind, plugin and operation are required", http.StatusBadRequest)
		return
	}

	var opts []session.CallOption
	if req.WaitOnRateLimit {
		opts = append(opts, session.WaitOnRateLimit())
	}
	result := s.entry.Invoke(r.Context(), capability.Kind(req.Kind), req.Plugin, req.Operation, req.Args, opts...)

	w.Header().Set("Content-Type", "application/json")
	if !result.OK() {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(invokeResponse{
		OK:      result.OK(),
		Payload: result.Payload,
		Failure: result.Failure,
	})
}

type pluginInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	kinds := []capability.Kind{
		capability.KindFilesystem, capability.KindPathResolver,
		capability.KindConfig, capability.KindIntegration,
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		kinds = []capability.Kind{capability.Kind(kind)}
	}

	var out []pluginInfo
	for _, kind := range kinds {
		for _, info := range s.registry.List(kind) {
			tags := make([]string, 0, len(info.Descriptor.Capabilities))
			for _, tag := range info.Descriptor.Capabilities {
				tags = append(tags, string(tag))
			}
			item := pluginInfo{
				Name:         info.Descriptor.Name,
				Kind:         string(info.Descriptor.Kind),
				Version:      info.Descriptor.Version,
				Capabilities: tags,
				State:        string(info.State),
			}
			if info.Err != nil {
				item.Error = info.Err.Error()
			}
			out = append(out, item)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// withContext rejects new requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
