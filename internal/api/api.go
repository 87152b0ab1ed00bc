package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/camtap/camtap/internal/app"
	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/tcp"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen   string `yaml:"listen"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			BasePath string `yaml:"base_path"`
			Origin   string `yaml:"origin"`
		} `yaml:"api"`
	}

	// default config
	cfg.Mod.Listen = ":1984"

	// load config from YAML
	app.LoadConfig(&cfg)

	log = app.GetLogger("api")

	if cfg.Mod.Listen == "" {
		return
	}

	basePath = strings.TrimSuffix(cfg.Mod.BasePath, "/")
	creds.AddSecret(cfg.Mod.Password)

	HandleFunc("api", apiHandler).Methods("GET")
	HandleFunc("api/log", logHandler).Methods("GET", "DELETE")

	Handler = NewHandler(Router, cfg.Mod.Username, cfg.Mod.Password, cfg.Mod.Origin)

	go listen("tcp", cfg.Mod.Listen)
}

// NewHandler wraps the router with logging, auth and CORS middlewares.
func NewHandler(next http.Handler, username, password, origin string) http.Handler {
	if origin == "*" {
		next = middlewareCORS(next) // 3rd
	}

	if username != "" {
		next = middlewareAuth(username, password, next) // 2nd
	}

	if log.Trace().Enabled() {
		next = middlewareLog(next) // 1st
	}

	return next
}

func listen(network, address string) {
	ln, err := net.Listen(network, address)
	if err != nil {
		log.Error().Err(err).Msg("[api] listen")
		return
	}

	log.Info().Str("addr", address).Msg("[api] listen")

	Port = ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverMu.Lock()
	server = srv
	serverMu.Unlock()

	if err = srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("[api] serve")
	}
}

// Shutdown stops the listener and waits for active requests.
// Long-lived streams end when their request context is cancelled.
func Shutdown(ctx context.Context) error {
	serverMu.Lock()
	srv := server
	serverMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

var Port int

const (
	MimeJSON = "application/json"
	MimeText = "text/plain"
)

var Handler http.Handler

var Router = mux.NewRouter()

// HandleFunc handle pattern with relative path:
// - "api/cameras" => "{basepath}/api/cameras"
// - "/cameras"    => "/cameras"
func HandleFunc(pattern string, handler http.HandlerFunc) *mux.Route {
	if len(pattern) == 0 || pattern[0] != '/' {
		pattern = basePath + "/" + pattern
	}
	log.Trace().Str("path", pattern).Msg("[api] register path")
	return Router.HandleFunc(pattern, handler)
}

// ResponseJSON important always add Content-Type
// so go won't need to call http.DetectContentType
func ResponseJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", MimeJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func ResponsePrettyJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", MimeJSON)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func Response(w http.ResponseWriter, body any, contentType string) {
	w.Header().Set("Content-Type", contentType)

	switch v := body.(type) {
	case []byte:
		_, _ = w.Write(v)
	case string:
		_, _ = w.Write([]byte(v))
	default:
		_, _ = fmt.Fprint(w, body)
	}
}

const CameraNotFound = "camera not found"

var basePath string
var log = zerolog.Nop()

var (
	server   *http.Server
	serverMu sync.Mutex
)

func middlewareLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Trace().Msgf("[api] %s %s %s", r.Method, r.URL, tcp.RemoteAddr(r))
		next.ServeHTTP(w, r)
	})
}

func middlewareAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.RemoteAddr, "127.") && !strings.HasPrefix(r.RemoteAddr, "[::1]") {
			user, pass, ok := r.BasicAuth()
			if !ok || !equal(user, username) || !equal(pass, password) {
				w.Header().Set("Www-Authenticate", `Basic realm="camtap"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func equal(s1, s2 string) bool {
	return subtle.ConstantTimeCompare([]byte(s1), []byte(s2)) == 1
}

func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == "OPTIONS" {
			return
		}
		next.ServeHTTP(w, r)
	})
}

var mu sync.Mutex

func apiHandler(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	app.Info["host"] = r.Host
	ResponseJSON(w, app.Info)
	mu.Unlock()
}

func logHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		w.Header().Set("Content-Type", "application/jsonlines")
		_, _ = app.MemoryLog.WriteTo(w)
	case "DELETE":
		app.MemoryLog.Reset()
		Response(w, "OK", MimeText)
	}
}

// StatusCode maps the error kind to the HTTP status.
func StatusCode(err error) int {
	switch core.KindOf(err) {
	case core.ErrInvalidArgument, core.ErrMalformedURI, core.ErrInvalidProfile:
		return http.StatusBadRequest
	case core.ErrAuthenticationFailed:
		return http.StatusForbidden
	case core.ErrCancelled:
		return http.StatusServiceUnavailable
	case core.ErrUnreachable, core.ErrProtocol, core.ErrNoProfilesAvailable,
		core.ErrStreamUnavailable, core.ErrStreamLost:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func Error(w http.ResponseWriter, err error) {
	log.Error().Err(err).Caller(1).Send()

	http.Error(w, err.Error(), StatusCode(err))
}
