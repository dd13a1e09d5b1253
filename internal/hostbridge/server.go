package hostbridge

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/dbview-labs/dbview/internal/webview"
)

// maxFrameBytes bounds inbound frame size.
const maxFrameBytes = 4 << 20

const sessionName = "dbview"

// Config holds configuration for the dev host server.
type Config struct {
	Addr      string
	AssetsDir string
	Watch     bool
	// SessionSecret signs session cookies; a random per-process secret
	// is generated when empty.
	SessionSecret string
	Logger        *slog.Logger

	// OnBind is invoked with each fresh surface, at startup and after
	// every asset rebuild. Typically Controller.Bind.
	OnBind func(webview.Surface)
}

// Server bridges one controller surface to browser clients.
type Server struct {
	addr      string
	assetsDir string
	watch     bool
	logger    *slog.Logger
	sessions  *sessions.CookieStore
	onBind    func(webview.Surface)

	frames  *broadcaster
	mu      sync.Mutex
	surface *BridgeSurface
}

// NewServer creates a dev host server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}

	store := sessions.NewCookieStore(secret)
	store.MaxAge(86400 * 30)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode

	s := &Server{
		addr:      cfg.Addr,
		assetsDir: cfg.AssetsDir,
		watch:     cfg.Watch,
		logger:    cfg.Logger,
		sessions:  store,
		onBind:    cfg.OnBind,
		frames:    newBroadcaster(),
	}
	return s
}

// Surface returns the currently bound surface.
func (s *Server) Surface() *BridgeSurface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// Rebind disposes the current surface and binds a fresh one. Connected
// clients receive a reload event and reconnect against the new surface.
func (s *Server) Rebind() {
	s.mu.Lock()
	old := s.surface
	surf := newBridgeSurface(s.frames)
	s.surface = surf
	s.mu.Unlock()

	if s.onBind != nil {
		s.onBind(surf)
	}
	if old != nil {
		old.dispose()
	}
	s.frames.Broadcast(event{name: "reload", data: []byte("{}")})
}

// Serve binds the initial surface, starts the HTTP server and the
// asset watcher, and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.Rebind()
	s.logger.Info("starting dev host", slog.String("addr", "http://"+s.addr))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch && s.assetsDir != "" {
		eg.Go(func() error {
			return s.watchAssets(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down dev host")
		return srv.Shutdown(shutdownCtx)
	})

	err := eg.Wait()
	if surf := s.Surface(); surf != nil {
		surf.dispose()
	}
	return err
}

func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/events", s.handleEvents)
	r.Post("/messages", s.handleInbound)

	if s.assetsDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.assetsDir)))
	}
	return r
}

// handleEvents streams outbound frames to one client as SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess, _ := s.sessions.Get(r, sessionName)
	if sess.IsNew {
		sess.Values["client"] = uuid.New().String()
		_ = sess.Save(r, w)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.frames.Subscribe()
	defer s.frames.Unsubscribe(ch)

	s.logger.Debug("client connected", slog.Any("client", sess.Values["client"]))

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		}
	}
}

// handleInbound accepts one frame posted by the UI.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "failed to read frame", http.StatusBadRequest)
		return
	}
	if _, err := webview.Decode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Surface().deliver(payload)
	w.WriteHeader(http.StatusAccepted)
}

// watchAssets rebinds the surface when UI assets are rebuilt.
func (s *Server) watchAssets(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, s.assetsDir); err != nil {
		s.logger.Error("failed to watch assets directory", slog.String("error", err.Error()))
		// Continue without watching.
		return nil
	}

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Ext(ev.Name) {
			case ".js", ".css", ".html", ".json":
			default:
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("assets changed, rebinding", slog.String("file", ev.Name))
				s.Rebind()
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
