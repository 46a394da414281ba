// Package server exposes a small admin HTTP API over a replica's
// Chronicle: pulling/restoring a snapshot and triggering stack
// compaction, plus a server-sent-events stream that pushes the
// base64-encoded Chronicle envelope to connected browser clients on every
// state change. It deliberately knows nothing about
// game rules; it is a thin operational surface around chronicle,
// recorder, and internal/cluster.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rakunlabs/ada"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/internal/cluster"
	"github.com/rakunlabs/chronicle/internal/config"
	"github.com/rakunlabs/chronicle/internal/store"
	"github.com/rakunlabs/chronicle/recorder"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"
)

// Server is the admin/operational HTTP surface for one replica.
type Server struct {
	config config.Server

	server *ada.Server

	chron     *chronicle.Chronicle
	recorder  *recorder.Recorder
	store     store.Storer
	snapshotKey string

	compactor *cluster.Compactor

	m        sync.RWMutex
	channels map[string]chan MessageChannel
}

func New(ctx context.Context, cfg config.Server, chron *chronicle.Chronicle, rec *recorder.Recorder, st store.Storer, snapshotKey string, compactor *cluster.Compactor) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:      cfg,
		server:      mux,
		chron:       chron,
		recorder:    rec,
		store:       st,
		snapshotKey: snapshotKey,
		compactor:   compactor,
		channels:    make(map[string]chan MessageChannel),
	}

	if cfg.BasePath != "" {
		slog.Info("configuring server with base path", "base_path", cfg.BasePath)
	}

	baseGroup := mux.Group(cfg.BasePath)

	if cfg.ForwardAuth != nil {
		slog.Info("forward auth enabled", "url", cfg.ForwardAuth.Address)
		baseGroup.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	} else {
		slog.Info("forward auth disabled (no forward_auth config)")
	}

	apiGroup := baseGroup.Group("/api")

	adminGroup := apiGroup.Group("/v1")
	adminGroup.Use(s.adminAuthMiddleware())
	adminGroup.GET("/snapshot", s.GetSnapshotAPI)
	adminGroup.POST("/snapshot/restore", s.RestoreSnapshotAPI)
	adminGroup.POST("/compaction", s.RunCompactionAPI)

	apiGroup.GET("/v1/stream", s.StreamAPI)

	chron.Events().On("state:changed", func(payload any) {
		blob, err := chron.Save()
		if err != nil {
			slog.Error("stream: save chronicle for broadcast", "error", err)
			return
		}
		s.broadcastMessage(MessageChannel{Type: "state:changed", Value: base64.StdEncoding.EncodeToString(blob)})
	})

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// ─── Admin API ───

// GetSnapshotAPI returns the current Chronicle envelope and recorder log
// as a JSON object with base64-encoded byte fields (the default encoding
// for []byte in encoding/json).
func (s *Server) GetSnapshotAPI(w http.ResponseWriter, r *http.Request) {
	blob, err := s.chron.Save()
	if err != nil {
		httpResponse(w, fmt.Sprintf("save chronicle: %v", err), http.StatusInternalServerError)
		return
	}

	var log json.RawMessage
	if s.recorder != nil {
		data, err := s.recorder.MarshalJSON()
		if err != nil {
			httpResponse(w, fmt.Sprintf("marshal recorder log: %v", err), http.StatusInternalServerError)
			return
		}
		log = data
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"blob": blob,
		"log":  log,
	})
}

type restoreRequest struct {
	Blob []byte `json:"blob"`
}

// RestoreSnapshotAPI loads a previously saved Chronicle envelope, replacing
// the replica's current state. It does not persist the restored snapshot;
// the caller should trigger a save via the normal sync path if it should
// stick.
func (s *Server) RestoreSnapshotAPI(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.chron.Load(req.Blob); err != nil {
		httpResponse(w, fmt.Sprintf("load chronicle: %v", err), http.StatusBadRequest)
		return
	}

	httpResponse(w, "restored", http.StatusOK)
}

// RunCompactionAPI reclaims discard piles across every tracked stack,
// coordinating with peers through the cluster lock when clustering is
// enabled.
func (s *Server) RunCompactionAPI(w http.ResponseWriter, r *http.Request) {
	if s.compactor == nil {
		httpResponse(w, "compaction not configured", http.StatusNotImplemented)
		return
	}

	removed, err := s.compactor.Run(r.Context())
	if err != nil {
		httpResponse(w, fmt.Sprintf("run compaction: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed_discards": removed})
}

// StreamAPI pushes a server-sent-events stream of "state:changed" frames,
// one base64-encoded Chronicle blob per local or peer-synced mutation, so
// a browser client can stay in sync without polling GetSnapshotAPI.
func (s *Server) StreamAPI(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpResponse(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	key, messages := s.addClient()
	defer s.deleteClient(key)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-messages:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Value)
			flusher.Flush()
		}
	}
}

// adminAuthMiddleware returns middleware that protects admin endpoints.
// If no admin_token is configured, all admin requests are rejected with 403.
// If configured, requests must provide a matching Authorization: Bearer <token> header.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func httpResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"message": message})
}
