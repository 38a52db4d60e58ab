package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Options configures the preview server.
type Options struct {
	// Host is the listen host. Defaults to all interfaces.
	Host string
	// Port is the listen port; 0 picks a free port.
	Port int
	// Proxy is the backend (host:port or URL) HTML is fetched from.
	Proxy string
	// ServeDir is served statically when Proxy is empty.
	ServeDir string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the preview HTTP server.
type Server struct {
	opts    Options
	hub     *Hub
	handler http.Handler
	logger  *slog.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan error
}

// NewServer builds a preview server in front of the configured backend.
func NewServer(opts Options, hub *Hub) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if hub == nil {
		return nil, errors.New("preview hub is required")
	}

	var backend http.Handler

	switch {
	case opts.Proxy != "":
		target, err := parseProxy(opts.Proxy)
		if err != nil {
			return nil, err
		}

		backend = newProxy(target, opts.Logger)
	case opts.ServeDir != "":
		info, err := os.Stat(opts.ServeDir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("serve-dir %q is not a directory", opts.ServeDir)
		}

		backend = newStatic(opts.ServeDir)
	default:
		return nil, errors.New("preview needs either a proxy target or a serve-dir")
	}

	mux := http.NewServeMux()
	mux.Handle(WSPath, hub)
	mux.HandleFunc(ClientPath, serveClientScript)
	mux.Handle("/", backend)

	return &Server{opts: opts, hub: hub, handler: mux, logger: opts.Logger}, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens and serves in the background until ctx is cancelled, then
// shuts down gracefully. Use Wait to block until the server has stopped.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("starting preview server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.done = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		s.done <- err
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.hub.Close()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("preview shutdown", slog.Any("error", err))
		}
	}()

	s.logger.Info("preview server listening", slog.String("url", s.URL()))

	return nil
}

// Wait blocks until a started server has stopped.
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	return <-done
}

// URL returns the browser URL of a started server.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addr == nil {
		return ""
	}

	_, port, _ := net.SplitHostPort(s.addr.String())

	host := s.opts.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return "http://" + net.JoinHostPort(host, port) + "/"
}

func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy target %q", raw)
	}

	return u, nil
}

func newProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			r.Out.Host = target.Host
			// Bodies must arrive uncompressed for the script to be injected.
			r.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: injectResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("preview backend unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
			http.Error(w, "assetflow: backend "+target.Host+" unavailable: "+err.Error(), http.StatusBadGateway)
		},
	}
}

func injectResponse(resp *http.Response) error {
	if !isHTML(resp.Header) {
		return nil
	}

	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return fmt.Errorf("reading backend response: %w", err)
	}

	body = Inject(body)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("ETag")

	return nil
}

type static struct {
	dir   string
	files http.Handler
}

func newStatic(dir string) *static {
	return &static{dir: dir, files: http.FileServer(http.Dir(dir))}
}

// ServeHTTP serves HTML documents with the client script injected and
// everything else straight from disk.
func (s *static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		name = path.Join(name, "index.html")
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
	default:
		s.files.ServeHTTP(w, r)
		return
	}

	full := filepath.Join(s.dir, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		s.files.ServeHTTP(w, r)
		return
	}

	data, err := os.ReadFile(full) //nolint:gosec // path is cleaned and rooted at dir
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(Inject(data)))
}
