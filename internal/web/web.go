package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"schedsync/internal/config"
	"schedsync/internal/ics"
	appLog "schedsync/internal/log"
	"schedsync/internal/pipeline"
)

// ErrSyncRunning is returned by Sync while another sync is in progress.
var ErrSyncRunning = errors.New("web: sync already running")

// SyncFunc runs one synchronisation; pipeline.Run bound to a config in
// production.
type SyncFunc func(ctx context.Context) (pipeline.Report, error)

// Server publishes the generated calendar for subscription and exposes a
// small JSON API over it.
type Server struct {
	cfg    *config.Config
	syncFn SyncFunc
	mux    *http.ServeMux

	// baseCtx is the server lifetime; background syncs are canceled with it.
	baseCtx context.Context

	// syncMu is held for the duration of a sync; overlapping runs are refused.
	syncMu sync.Mutex

	reportMu sync.RWMutex
	report   *pipeline.Report

	// /api/events is rebuilt only when the calendar file changes.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

// NewServer constructs a new Server. syncFn may be nil, in which case
// /api/refresh is not offered.
func NewServer(cfg *config.Config, syncFn SyncFunc) *Server {
	s := &Server{
		cfg:     cfg,
		syncFn:  syncFn,
		mux:     http.NewServeMux(),
		baseCtx: context.Background(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully. Syncs started through /api/refresh are canceled with ctx.
func (s *Server) Serve(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Sync runs the configured SyncFunc unless one is already running, and
// remembers its report for /api/report.
func (s *Server) Sync(ctx context.Context) (pipeline.Report, error) {
	if s.syncFn == nil {
		return pipeline.Report{}, errors.New("web: no sync configured")
	}
	if !s.syncMu.TryLock() {
		return pipeline.Report{}, ErrSyncRunning
	}
	defer s.syncMu.Unlock()
	return s.runSync(ctx)
}

// runSync must be called with syncMu held.
func (s *Server) runSync(ctx context.Context) (pipeline.Report, error) {
	report, err := s.syncFn(ctx)
	if err != nil {
		appLog.Error("sync failed", err)
		return report, err
	}
	s.SetReport(report)
	return report, nil
}

// SetReport replaces the report served by /api/report.
func (s *Server) SetReport(r pipeline.Report) {
	s.reportMu.Lock()
	s.report = &r
	s.reportMu.Unlock()
}

func (s *Server) lastReport() *pipeline.Report {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.report
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
	if name := filepath.Base(s.cfg.Calendar.Output); name != "calendar.ics" && name != "." && name != "/" {
		s.mux.HandleFunc("/"+name, s.handleCalendar)
	}
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/report", s.handleReport)
	if s.syncFn != nil {
		s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the last written calendar file. http.ServeFile
// handles conditional requests and missing files.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeFile(w, r, s.cfg.Calendar.Output)
}

// handleReport returns the report of the last sync run by this server, or
// the report file on disk if none ran yet.
func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	if rep := s.lastReport(); rep != nil {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	if s.cfg.Calendar.ReportPath != "" {
		data, err := os.ReadFile(s.cfg.Calendar.ReportPath)
		if err == nil {
			var rep pipeline.Report
			if err := json.Unmarshal(data, &rep); err == nil {
				writeJSON(w, http.StatusOK, rep)
				return
			}
			appLog.Error("report file unreadable", err, "path", s.cfg.Calendar.ReportPath)
		}
	}
	writeError(w, http.StatusNotFound, "no sync has run yet")
}

// handleRefresh starts a sync in the background.
//
// POST /api/refresh -> 202 when started, 409 while one is running.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if !s.syncMu.TryLock() {
		writeError(w, http.StatusConflict, ErrSyncRunning.Error())
		return
	}

	appLog.Info("manual refresh requested", "remote", r.RemoteAddr)
	go func() {
		defer s.syncMu.Unlock()
		_, _ = s.runSync(s.baseCtx)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Calendar        string     `json:"calendar"`
	DisplayTimeZone string     `json:"display_timezone"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Events          []eventDTO `json:"events"`
}

// eventsCache holds a parsed calendar keyed by the file's mod time.
type eventsCache struct {
	resp    eventsResponse
	modTime time.Time
	size    int64
}

// eventDTO is a JSON-friendly view of one calendar entry, in the display
// timezone.
type eventDTO struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns the entries of the published calendar.
//
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	path := s.cfg.Calendar.Output
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "calendar not generated yet")
			return
		}
		appLog.Error("api events: stat failed", err, "path", path)
		writeError(w, http.StatusInternalServerError, "calendar unavailable")
		return
	}

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.modTime.Equal(info.ModTime()) && ec.size == info.Size() {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	parsed, err := ics.ParseFile(path)
	if err != nil {
		appLog.Error("api events: parse failed", err, "path", path)
		writeError(w, http.StatusInternalServerError, "failed to parse calendar")
		return
	}

	tz := parsed.Timezone
	if tz == "" {
		tz = s.cfg.Calendar.Timezone
	}
	loc := resolveLocationOrLocal(tz)

	dtos := make([]eventDTO, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		dtos = append(dtos, eventDTO{
			UID:         e.UID,
			Summary:     e.Summary,
			Description: e.Description,
			Location:    e.Location,
			Start:       e.Start.In(loc),
			End:         e.End.In(loc),
		})
	}
	resp := eventsResponse{
		Calendar:        parsed.Name,
		DisplayTimeZone: loc.String(),
		UpdatedAt:       info.ModTime().UTC(),
		Events:          dtos,
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{resp: resp, modTime: info.ModTime(), size: info.Size()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
