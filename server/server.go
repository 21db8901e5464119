// Package server exposes a share over HTTP to browsers on the LAN.
package server

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/t7a/lanshare/discover"
	"github.com/t7a/lanshare/share"
	"github.com/t7a/lanshare/watch"
)

// archive modes
const (
	ArchiveStream = "stream"
	ArchiveDisk   = "disk"
)

// DefaultMaxMemory is the multipart memory threshold when Options
// leaves it zero.
const DefaultMaxMemory = 32 << 20

// watcher events are coalesced for this long before clients hear of
// them
const debounceDelay = 200 * time.Millisecond

type Options struct {
	ArchiveMode string
	MaxMemory   int64
	// QR serves /qr; nil means 404
	QR *discover.Cache
}

// Server routes HTTP requests to a share.Service.  Every change it
// makes or hears about from a watcher bumps a generation counter,
// which doubles as the listing's ETag, and is pushed to websocket
// clients.
type Server struct {
	svc        *share.Service
	opts       Options
	router     *mux.Router
	hub        *Hub
	generation atomic.Uint64
	changes    chan watch.Change
	quit       chan struct{}
	done       chan struct{}
	once       sync.Once
}

func New(svc *share.Service, opts Options) *Server {
	if opts.ArchiveMode == "" {
		opts.ArchiveMode = ArchiveStream
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = DefaultMaxMemory
	}
	s := &Server{
		svc:     svc,
		opts:    opts,
		changes: make(chan watch.Change, 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.generation.Store(1)
	s.hub = newHub(s.Generation)
	s.routes()
	go s.hub.run()
	go s.notify()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(logRequests, allowCORS)
	r.Methods(http.MethodOptions).HandlerFunc(preflight)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/files/{path:.+}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/download_all", s.handleDownloadAll).Methods(http.MethodGet)
	r.HandleFunc("/download/{path:.+}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/folders", s.handleMkdir).Methods(http.MethodPost)
	r.HandleFunc("/storage", s.handleStorage).Methods(http.MethodGet)
	r.HandleFunc("/cleanup", s.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/qr", s.handleQR).Methods(http.MethodGet)
	r.HandleFunc("/events", s.hub.serveWs).Methods(http.MethodGet)
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Generation returns the current change counter.
func (s *Server) Generation() uint64 {
	return s.generation.Load()
}

// changed records a change made by a handler and tells clients right
// away.
func (s *Server) changed(op, path string) {
	gen := s.generation.Add(1)
	s.hub.Publish(Event{Generation: gen, Op: op, Path: path})
}

// Changed is a watch.Callback.  It bumps the generation immediately
// but clients only hear about a burst of changes once it settles.
func (s *Server) Changed(change watch.Change) {
	s.generation.Add(1)
	select {
	case s.changes <- change:
	default:
		// a notification is already pending; the count is only a hint
	}
}

func (s *Server) notify() {
	defer close(s.done)
	var debounce <-chan time.Time
	var last watch.Change
	var count int
	for {
		select {
		case change := <-s.changes:
			last = change
			count++
			debounce = time.After(debounceDelay)
		case <-debounce:
			s.hub.Publish(Event{Generation: s.Generation(), Op: "changed", Path: last.Path, Count: count})
			count = 0
			debounce = nil
		case <-s.quit:
			return
		}
	}
}

// Close disconnects websocket clients and stops background work.  It
// does not close the share.Service.
func (s *Server) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	s.hub.close()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(buf []byte) (n int, err error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err = rec.ResponseWriter.Write(buf)
	rec.bytes += int64(n)
	return
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Hijack is needed for the websocket upgrade on /events.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rec.status = http.StatusSwitchingProtocols
	return http.NewResponseController(rec.ResponseWriter).Hijack()
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Info("request")
	})
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
	w.WriteHeader(http.StatusNoContent)
}
