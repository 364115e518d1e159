package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"protocolmaker/internal/metrics"
	"protocolmaker/internal/pipeline"
	"protocolmaker/internal/storage"
	"protocolmaker/internal/transcript"
	"protocolmaker/internal/worker"
)

// Processor runs both pipeline phases
type Processor interface {
	Transcribe(ctx context.Context, sub pipeline.Submission) (*pipeline.TranscriptResult, error)
	GenerateProtocol(ctx context.Context, sub pipeline.LLMSubmission) (*storage.ProtocolRecord, error)
}

// ProtocolStore reads and deletes stored protocols
type ProtocolStore interface {
	Get(id string) (storage.ProtocolRecord, error)
	Delete(id string) error
	List() ([]storage.Summary, error)
}

// ProtocolTypes is the protocol type catalog
type ProtocolTypes interface {
	Get(id string) (storage.ProtocolType, error)
	IDs() []string
	List() []storage.ProtocolType
}

// Uploads stores and removes uploaded audio
type Uploads interface {
	SaveUpload(id, filename string, r io.Reader) (string, int64, error)
	Remove(path string) error
}

// JobQueue accepts background jobs
type JobQueue interface {
	Submit(job worker.Job) error
	QueueDepth() int
}

// JobStatuses looks up job state
type JobStatuses interface {
	Get(id string) (worker.JobStatus, bool)
}

// Diarizer finds speaker turns in an audio file
type Diarizer interface {
	Diarize(ctx context.Context, path string) ([]transcript.DiarizationTurn, error)
}

// Deps are the collaborators of the HTTP surface
type Deps struct {
	Processor      Processor
	Protocols      ProtocolStore
	Types          ProtocolTypes
	Uploads        Uploads
	Jobs           JobQueue
	Diarizer       Diarizer
	Statuses       JobStatuses
	Metrics        *metrics.Collectors
	Health         *metrics.Health
	MaxUploadBytes int64
	LLMTimeout     time.Duration
}

// Server is the REST surface of the service
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *zap.Logger
	newID  func() string
}

// New creates a Server and registers its routes
func New(deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
		newID:  uuid.NewString,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	s.mux.HandleFunc("GET /api/protocol-types", s.handleListTypes)
	s.mux.HandleFunc("GET /api/protocol-types/{id}", s.handleGetType)

	s.mux.HandleFunc("POST /api/protocols/submit", s.handleSubmit)
	s.mux.HandleFunc("POST /api/protocols/submit_llm", s.handleSubmitLLM)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	s.mux.HandleFunc("POST /api/diarize", s.handleDiarize)

	s.mux.HandleFunc("GET /api/protocols", s.handleListProtocols)
	s.mux.HandleFunc("GET /api/protocols/{id}", s.handleGetProtocol)
	s.mux.HandleFunc("GET /api/protocols/{id}/status", s.handleProtocolStatus)
	s.mux.HandleFunc("DELETE /api/protocols/{id}", s.handleDeleteProtocol)
}

// Handler returns the routes wrapped in CORS and request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(cors(s.mux))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}
