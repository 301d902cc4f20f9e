package httpstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Comcast/tortoise/core"
)

// Server serves the record store protocol from a core.EntityStore.
//
// The service uses a Server to expose its own store, and tests use
// one to stand in for a real record store.
type Server struct {
	Store core.EntityStore

	// Username and Password, if set, are required via basic
	// auth.
	Username string
	Password string

	// Cookie, if not empty, is the name of a session cookie set
	// on every response.
	Cookie string

	Logger *slog.Logger
}

// NewServer makes a Server for the given store.
func NewServer(store core.EntityStore) *Server {
	return &Server{
		Store:  store,
		Logger: slog.Default(),
	}
}

// Register adds the Server's routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+APIPrefix+"{tag}", s.auth(s.get))
	mux.HandleFunc("POST "+APIPrefix+"{tag}", s.auth(s.set))
	mux.HandleFunc("DELETE "+APIPrefix+"{tag}/attribute/{key}", s.auth(s.delete))
}

// Handler returns an http.Handler for just the protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username != "" || s.Password != "" {
			u, p, have := r.BasicAuth()
			if !have || u != s.Username || p != s.Password {
				w.Header().Set("WWW-Authenticate", `Basic realm="assets"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if s.Cookie != "" {
			http.SetCookie(w, &http.Cookie{
				Name:  s.Cookie,
				Value: "1",
				Path:  "/",
			})
		}
		h(w, r)
	}
}

func (s *Server) punt(w http.ResponseWriter, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Logger.Warn("record store", "status", status, "error", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	e, err := s.Store.Get(r.Context(), tag)
	if errors.Is(err, core.ErrNotFound) {
		s.punt(w, http.StatusNotFound, "no asset %s", tag)
		return
	}
	if err != nil {
		s.punt(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}

func (s *Server) set(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if err := r.ParseForm(); err != nil {
		s.punt(w, http.StatusBadRequest, "%v", err)
		return
	}
	attr := r.PostForm.Get("attribute")
	key, value, found := strings.Cut(attr, ";")
	if !found || key == "" {
		s.punt(w, http.StatusBadRequest, "bad attribute %q", attr)
		return
	}
	done, err := s.Store.SetAttribute(r.Context(), tag, key, value)
	if err != nil {
		s.punt(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if !done {
		s.punt(w, http.StatusNotFound, "no asset %s", tag)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	tag, key := r.PathValue("tag"), r.PathValue("key")
	done, err := s.Store.DeleteAttribute(r.Context(), tag, key)
	if err != nil {
		s.punt(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if !done {
		s.punt(w, http.StatusNotFound, "no asset %s", tag)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
