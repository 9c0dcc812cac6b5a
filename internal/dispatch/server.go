// Package dispatch serves the HTTP front of the transcription system: it
// accepts media, hands the job to the worker instance through its metadata
// and serves the finished transcripts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"

	"github.com/tendant/simple-transcriber/internal/gce"
	"github.com/tendant/simple-transcriber/internal/locator"
	"github.com/tendant/simple-transcriber/internal/metadata"
	"github.com/tendant/simple-transcriber/internal/status"
	"github.com/tendant/simple-transcriber/internal/storage"
	"github.com/tendant/simple-transcriber/pkg/schema"
)

// DefaultMaxUploadBytes caps uploaded media files.
const DefaultMaxUploadBytes = 16 << 20

// formOverhead leaves room for multipart boundaries and the url field on top
// of the file itself.
const formOverhead = 1 << 20

// InstanceController prepares and boots the worker VM.
type InstanceController interface {
	SetMetadata(ctx context.Context, ref gce.InstanceRef, items map[string]string) error
	Start(ctx context.Context, ref gce.InstanceRef) error
}

// StatusLookup returns the latest stored status document of a job.
type StatusLookup interface {
	Latest(ctx context.Context, jobID string) ([]byte, error)
}

type eventPublisher interface {
	PublishJSON(subject string, v any) error
}

type Config struct {
	Bucket         string
	// Scheme is the storage scheme the runner resolves the bucket under.
	// Empty means "gs".
	Scheme         string
	Token          string
	Instance       gce.InstanceRef
	Keys           metadata.Keys
	MaxUploadBytes int64
	// PublicBaseURL prefixes download links. Empty means derive it from the
	// request.
	PublicBaseURL  string
	AllowedOrigins []string
	// DispatchSubject receives a schema.DispatchRequest for every started
	// job when an event publisher is set.
	DispatchSubject string
}

type Server struct {
	cfg     Config
	store   storage.Store
	compute InstanceController
	status  StatusLookup
	events  eventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Server)

func WithStatusLookup(l StatusLookup) Option { return func(s *Server) { s.status = l } }

func WithEvents(p eventPublisher) Option { return func(s *Server) { s.events = p } }

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func New(cfg Config, store storage.Store, compute InstanceController, logger *slog.Logger, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "gs"
	}
	if cfg.Keys == (metadata.Keys{}) {
		cfg.Keys = metadata.DefaultKeys()
	}
	s := &Server{cfg: cfg, store: store, compute: compute, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the router. Request logging goes through httplog on top of
// the server's slog handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(&httplog.Logger{
		Logger:  s.logger,
		Options: httplog.Options{Concise: true},
	}))
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/transcriptions", s.handleList)
	r.Get("/transcriptions/{jobID}/status", s.handleStatus)
	r.Get("/download/*", s.handleDownload)
	return r
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File size exceeds upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Malformed form: "+err.Error(), http.StatusBadRequest)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	rawURL := strings.TrimSpace(r.FormValue("url"))
	file, header, err := r.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "Malformed file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	if file != nil {
		defer file.Close()
	}
	if file == nil && rawURL == "" {
		logger.Warn("no url or file provided")
		http.Error(w, "No URL or file provided", http.StatusBadRequest)
		return
	}

	now := s.now()
	var jobID, input string
	if file != nil {
		if !AllowedFile(header.Filename) {
			logger.Warn("invalid file type uploaded", "filename", header.Filename)
			http.Error(w, "Invalid file type", http.StatusBadRequest)
			return
		}
		if header.Size > s.cfg.MaxUploadBytes {
			http.Error(w, "File size exceeds upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		jobID = NewJobID(FileBase(header.Filename), now)
		object := objectName(jobID, header.Filename)
		contentType := header.Header.Get("Content-Type")
		if err := s.store.Put(r.Context(), s.cfg.Bucket, object, file, header.Size, contentType); err != nil {
			logger.Error("store upload failed", "object", object, "err", err)
			http.Error(w, "Failed to store upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		input = storage.URI{Scheme: s.cfg.Scheme, Bucket: s.cfg.Bucket, Object: object}.String()
		logger.Info("uploaded media", "filename", header.Filename, "input_locator", input)
	} else {
		if loc := locator.Parse(rawURL); loc.Kind == locator.Invalid {
			logger.Warn("invalid url", "url", rawURL, "reason", loc.Reason)
			http.Error(w, "Invalid URL: "+loc.Reason, http.StatusBadRequest)
			return
		}
		jobID = NewJobID(URLBase(rawURL), now)
		input = rawURL
		logger.Info("url provided for transcription", "url", rawURL)
	}

	params := metadata.JobParameters{
		InputLocator:    input,
		OutputBucket:    s.outputBucket(),
		CredentialToken: s.cfg.Token,
		JobID:           jobID,
	}
	if err := s.dispatch(r.Context(), params); err != nil {
		logger.Error("dispatch failed", "job_id", jobID, "instance", s.cfg.Instance.String(), "err", err)
		http.Error(w, "Failed to initiate transcription: "+err.Error(), http.StatusInternalServerError)
		return
	}
	logger.Info("transcription dispatched", "job_id", jobID, "instance", s.cfg.Instance.String())
	_, _ = fmt.Fprintf(w, "Transcription job '%s' initiated. The VM is spinning up.", jobID)
}

// outputBucket is the bare bucket name for GCS, which the runner assumes by
// default, and a scheme-qualified root otherwise.
func (s *Server) outputBucket() string {
	if s.cfg.Scheme == "gs" {
		return s.cfg.Bucket
	}
	return storage.URI{Scheme: s.cfg.Scheme, Bucket: s.cfg.Bucket}.String()
}

// dispatch writes the job parameters onto the worker and boots it.
func (s *Server) dispatch(ctx context.Context, p metadata.JobParameters) error {
	if err := metadata.Validate(p); err != nil {
		return err
	}
	items := make(map[string]string, 4)
	for _, kv := range s.cfg.Keys.Items(p) {
		items[kv[0]] = kv[1]
	}
	if err := s.compute.SetMetadata(ctx, s.cfg.Instance, items); err != nil {
		return err
	}
	if err := s.compute.Start(ctx, s.cfg.Instance); err != nil {
		return err
	}

	if s.events != nil && s.cfg.DispatchSubject != "" {
		evt := schema.DispatchRequest{
			JobID:        p.JobID,
			InputLocator: p.InputLocator,
			OutputBucket: p.OutputBucket,
			Instance:     s.cfg.Instance.String(),
			HappenedAt:   s.now().Unix(),
		}
		if err := s.events.PublishJSON(s.cfg.DispatchSubject, evt); err != nil {
			s.logger.Error("publish dispatch event failed", "subject", s.cfg.DispatchSubject, "job_id", p.JobID, "err", err)
		}
	}
	return nil
}

// Transcription is one finished job in the listing.
type Transcription struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.transcriptions(r.Context(), s.baseURL(r))
	if err != nil {
		s.logger.Error("list transcriptions failed", "bucket", s.cfg.Bucket, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	render.JSON(w, r, items)
}

// transcriptions returns every top-level job folder holding a .txt file,
// newest name first.
func (s *Server) transcriptions(ctx context.Context, baseURL string) ([]Transcription, error) {
	top, err := s.store.List(ctx, s.cfg.Bucket, "", "/")
	if err != nil {
		return nil, err
	}
	out := make([]Transcription, 0, len(top))
	for _, entry := range top {
		if !entry.Prefix {
			continue
		}
		objects, err := s.store.List(ctx, s.cfg.Bucket, entry.Name, "")
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if obj.Prefix || !strings.HasSuffix(obj.Name, ".txt") {
				continue
			}
			out = append(out, Transcription{
				Name:        strings.TrimSuffix(entry.Name, "/"),
				DownloadURL: baseURL + "/download/" + escapePath(obj.Name),
			})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	object := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	// chi matches on the raw path when the request carries escapes.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(object)
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		object = unescaped
	}
	if object == "" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	rc, info, err := s.store.Open(r.Context(), s.cfg.Bucket, object)
	if errors.Is(err, storage.ErrNoObject) {
		s.logger.Warn("file not found for download", "object", object)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("open download failed", "object", object, "err", err)
		http.Error(w, "Failed to serve file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(object)}))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("download interrupted", "object", object, "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.status == nil {
		http.Error(w, "Status tracking disabled", http.StatusNotFound)
		return
	}
	b, err := s.status.Latest(r.Context(), jobID)
	if errors.Is(err, status.ErrNoStatus) {
		http.Error(w, "No status for job", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read job status failed", "job_id", jobID, "err", err)
		http.Error(w, "Failed to read status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func escapePath(name string) string {
	segs := strings.Split(name, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
