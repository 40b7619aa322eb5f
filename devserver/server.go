package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"helix/config"
	"helix/domain"
	"helix/ollama"
	"helix/transport"
)

const (
	DefaultAddr = "localhost:5000"
	maxBodySize = 1 << 20
)

// Options configures a development backend.
type Options struct {
	Addr         string
	DatabasePath string
	// OllamaHost and OllamaModel select a local model for replies. When
	// OllamaModel is empty the scripted composer is used.
	OllamaHost  string
	OllamaModel string
	// MessageRate and MessageBurst bound POST /messages per user.
	MessageRate  float64
	MessageBurst int
}

// Server is the local stand-in for the Helix backend: REST under /api,
// the push hub at /ws and prometheus metrics at /metrics.
type Server struct {
	store     *Store
	hub       *Hub
	assistant *Assistant
	metrics   *metrics
	limiter   *limiterPool
	router    *mux.Router

	wg sync.WaitGroup
}

// NewServer wires a server around an open store. composer may be nil.
func NewServer(store *Store, composer Composer, opts Options) *Server {
	m := newMetrics()
	hub := newHub(store, m)
	s := &Server{
		store:     store,
		hub:       hub,
		assistant: newAssistant(store, hub, composer, m),
		metrics:   m,
		limiter:   newLimiterPool(opts.MessageRate, opts.MessageBurst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the push hub, mainly for tests that wait on clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.metrics.instrument)

	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api.HandleFunc("/sessions/current", s.currentSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.createMessage).Methods(http.MethodPost)

	api.HandleFunc("/sequences", s.listSequences).Methods(http.MethodGet)
	api.HandleFunc("/sequences", s.createSequence).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}", s.getSequence).Methods(http.MethodGet)
	api.HandleFunc("/sequences/{id}", s.updateSequence).Methods(http.MethodPut)
	api.HandleFunc("/sequences/{id}", s.deleteSequence).Methods(http.MethodDelete)
	api.HandleFunc("/sequences/{id}/steps/{stepId}", s.updateStep).Methods(http.MethodPut)

	api.HandleFunc("/users/profile", s.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/profile", s.updateProfile).Methods(http.MethodPut)

	r.Handle("/ws", s.hub)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// userID reads the caller's id. Callers without one get a fresh id per
// request, the same as the hosted backend.
func userID(r *http.Request) string {
	if id := r.Header.Get(transport.UserIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store failures onto status codes.
func writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	config.Log.Error("store request failed", zap.String("entity", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "clients": s.hub.Clients()})
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.CurrentSession(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, "Session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.CreateSession(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, "Session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// createMessage stores the message in the caller's current session, echoes
// it on the push channel, responds, then lets the assistant answer.
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if !s.limiter.Allow(uid) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	var msg domain.OutgoingMessage
	if !decodeBody(w, r, &msg) {
		return
	}
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}

	sess, err := s.store.CurrentSession(r.Context(), uid)
	if err != nil {
		writeStoreError(w, "Session", err)
		return
	}
	entry, err := s.store.AddMessage(r.Context(), sess.ID, msg.Role, msg.Content, nil)
	if err != nil {
		writeStoreError(w, "Message", err)
		return
	}

	s.hub.Broadcast(uid, transport.WireMessage, entry)
	writeJSON(w, http.StatusOK, entry)

	if msg.Role != domain.RoleUser {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.assistant.Respond(context.Background(), sess.ID); err != nil {
			config.Log.Warn("assistant turn failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()
}

func (s *Server) listSequences(w http.ResponseWriter, r *http.Request) {
	seqs, err := s.store.ListSequences(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, "Sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, seqs)
}

func (s *Server) getSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.store.Sequence(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, "Sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) createSequence(w http.ResponseWriter, r *http.Request) {
	var fields domain.SequencePatch
	if !decodeBody(w, r, &fields) {
		return
	}
	seq, err := s.store.CreateSequence(r.Context(), userID(r), fields, nil)
	if err != nil {
		writeStoreError(w, "Sequence", err)
		return
	}
	s.hub.Broadcast(userID(r), transport.WireSequenceUpdate, seq)
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) updateSequence(w http.ResponseWriter, r *http.Request) {
	var fields domain.SequencePatch
	if !decodeBody(w, r, &fields) {
		return
	}
	seq, err := s.store.UpdateSequence(r.Context(), mux.Vars(r)["id"], fields)
	if err != nil {
		writeStoreError(w, "Sequence", err)
		return
	}
	s.hub.Broadcast(userID(r), transport.WireSequenceUpdate, seq)
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) deleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSequence(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, "Sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) updateStep(w http.ResponseWriter, r *http.Request) {
	var fields domain.StepPatch
	if !decodeBody(w, r, &fields) {
		return
	}
	vars := mux.Vars(r)
	seq, err := s.store.UpdateStep(r.Context(), vars["id"], vars["stepId"], fields)
	if err != nil {
		writeStoreError(w, "Step", err)
		return
	}
	s.hub.Broadcast(userID(r), transport.WireSequenceUpdate, seq)
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.User(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var fields domain.UserPatch
	if !decodeBody(w, r, &fields) {
		return
	}
	u, err := s.store.UpdateUser(r.Context(), userID(r), fields)
	if err != nil {
		writeStoreError(w, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Close disconnects push clients and waits for assistant turns in flight.
func (s *Server) Close() {
	s.hub.Close()
	s.wg.Wait()
}

// Run opens the database, serves until ctx is cancelled, then shuts down.
func Run(ctx context.Context, opts Options) error {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.DatabasePath == "" {
		opts.DatabasePath = ":memory:"
	}

	store, err := OpenStore(opts.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var composer Composer = ScriptedComposer{}
	if opts.OllamaModel != "" {
		client, err := ollama.NewClient(opts.OllamaHost, opts.OllamaModel)
		if err != nil {
			return err
		}
		if ok, err := client.HasModel(ctx); err != nil || !ok {
			config.Log.Warn("ollama model unavailable, using scripted replies",
				zap.String("model", client.Model()), zap.Error(err))
		} else {
			composer = OllamaComposer{Client: client}
		}
	}

	srv := NewServer(store, composer, opts)
	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		config.Log.Info("devserver listening",
			zap.String("addr", opts.Addr), zap.String("database", opts.DatabasePath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("devserver: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	config.Log.Info("devserver stopped")
	return err
}
