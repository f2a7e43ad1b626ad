package preview

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/metrics"
	smw "git.home.luguber.info/inful/simbuild/internal/server/middleware"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Host is the loopback address to bind. The port is always chosen by the OS.
	Host string
	// DisableConsoleCapture serves HTML unmodified.
	DisableConsoleCapture bool
	// LiveReload adds the SSE endpoint and the reload client.
	LiveReload bool
}

// Server serves one bundle directory at a time.
type Server struct {
	opts     Options
	logger   *slog.Logger
	recorder metrics.Recorder
	adapter  *foundation.HTTPErrorAdapter
	script   string

	mu      sync.Mutex
	srv     *http.Server
	hub     *LiveReloadHub
	root    string
	url     string
	sink    ConsoleSink
	serveWG sync.WaitGroup
}

// New creates a stopped server.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	logger := slog.Default()
	return &Server{
		opts:     opts,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
		adapter:  foundation.NewHTTPErrorAdapter(logger),
		script:   CaptureScript(ScriptOptions{LiveReload: opts.LiveReload}),
	}
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	if l != nil {
		s.logger = l
		s.adapter = foundation.NewHTTPErrorAdapter(l)
	}
	return s
}

// WithRecorder sets the metrics recorder.
func (s *Server) WithRecorder(r metrics.Recorder) *Server {
	if r != nil {
		s.recorder = r
	}
	return s
}

// SetConsoleSink routes captured console messages to sink.
func (s *Server) SetConsoleSink(sink ConsoleSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Server) consoleSink() ConsoleSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Start serves dir on a fresh loopback port and returns its URL. A running
// instance is stopped first.
func (s *Server) Start(ctx context.Context, dir string) (string, error) {
	if s.IsRunning() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		err := s.Stop(stopCtx)
		cancel()
		if err != nil {
			s.logger.Warn("Previous preview server did not stop cleanly", logfields.Error(err))
		}
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", foundation.PreviewError("invalid preview directory").WithCause(err).Build()
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return "", foundation.PreviewError("preview directory does not exist").
			WithCause(err).
			WithContext("path", root).
			Build()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.opts.Host, "0"))
	if err != nil {
		return "", foundation.PreviewError("failed to bind preview server").WithCause(err).Build()
	}

	hub := NewLiveReloadHub(s.logger)
	srv := &http.Server{
		Handler:           s.handler(root, hub),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	u := "http://" + ln.Addr().String()

	s.mu.Lock()
	s.srv, s.hub, s.root, s.url = srv, hub, root, u
	s.serveWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.serveWG.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("preview server error", logfields.Error(err))
		}
	}()

	s.logger.Info("Preview server started", logfields.URL(u), logfields.Path(root))
	return u, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, hub := s.srv, s.hub
	s.srv, s.hub, s.root, s.url = nil, nil, "", ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	hub.Shutdown()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	s.serveWG.Wait()
	if err != nil {
		return foundation.PreviewError("preview server shutdown").WithCause(err).Build()
	}
	s.logger.Info("Preview server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// URL returns the base URL while running.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Root returns the served directory while running.
func (s *Server) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Reload tells connected pages that a new revision is being served.
func (s *Server) Reload(revision string) {
	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	if hub != nil && s.opts.LiveReload {
		hub.Broadcast(revision)
	}
}

// Handler returns the HTTP handler serving root, for use without a listener.
func (s *Server) Handler(root string) http.Handler {
	return s.handler(root, NewLiveReloadHub(s.logger))
}

func (s *Server) handler(root string, hub *LiveReloadHub) http.Handler {
	chain := smw.Chain(s.logger, s.adapter, s.recorder.IncPreviewRequest)
	return chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == ConsolePath:
			s.handleConsole(w, r)
		case r.URL.Path == LiveReloadPath && s.opts.LiveReload:
			hub.ServeHTTP(w, r)
		default:
			s.serveFile(w, r, root)
		}
	}))
}

// resolve maps a request path onto a file below root. ok is false when the
// path escapes root.
func resolve(root, rawPath string) (string, bool) {
	p, err := url.PathUnescape(rawPath)
	if err != nil {
		p = rawPath
	}
	if p == "" || p == "/" {
		p = "/index.html"
	}
	full := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return full, true
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, root string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name, ok := resolve(root, r.URL.EscapedPath())
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if st, err := os.Stat(name); err == nil && st.IsDir() {
		name = filepath.Join(name, "index.html")
	}

	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.logger.Warn("Preview file open failed", logfields.Path(name), logfields.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", ContentType(name))
	h.Set("Cache-Control", "no-cache")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cross-Origin-Embedder-Policy", "require-corp")

	if isHTML(name) && !s.opts.DisableConsoleCapture {
		doc, err := io.ReadAll(f)
		if err != nil {
			s.logger.Warn("Preview file read failed", logfields.Path(name), logfields.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		out := Inject(doc, s.script)
		h.Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = io.Copy(w, bytes.NewReader(out))
		}
		return
	}

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("Preview stream interrupted", logfields.Path(name), logfields.Error(err))
	}
}
