package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"protocolmaker/internal/pipeline"
	"protocolmaker/internal/storage"
	"protocolmaker/internal/transcript"
	"protocolmaker/internal/worker"
)

var allowedAudioTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
}

// ProtocolResponse is returned by protocol generation and lookups
type ProtocolResponse struct {
	ID       string                  `json:"id"`
	Status   storage.Status          `json:"status"`
	Protocol *storage.ProtocolRecord `json:"protocol"`
	Error    *string                 `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Protocol maker API is running",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Snapshot()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Types.List())
}

func (s *Server) handleGetType(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Types.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Protocol type not found")
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart form: %v", err))
		return
	}

	protocolType, err := s.protocolType(r.FormValue("protocolType"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	participants, err := parseParticipants(r.FormValue("participants"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mapping, err := parseMapping(r.FormValue("speakerMapping"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saveTranscript := true
	if raw := r.FormValue("saveTranscript"); raw != "" {
		saveTranscript, err = strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid saveTranscript value")
			return
		}
	}

	file, header, err := r.FormFile("audioFile")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Audio file is required")
		return
	}
	defer file.Close()

	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !allowedAudioTypes[contentType] {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %q", contentType))
		return
	}

	jobID := s.newID()
	path, size, err := s.deps.Uploads.SaveUpload(jobID, header.Filename, file)
	if err != nil {
		s.logger.Error("failed to store upload", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to store audio file")
		return
	}

	sub := pipeline.Submission{
		JobID:          jobID,
		AudioPath:      path,
		Participants:   participants,
		SaveTranscript: saveTranscript,
		SpeakerMapping: mapping,
	}
	err = s.deps.Jobs.Submit(worker.Job{ID: jobID, Run: s.transcribeJob(sub)})
	if err != nil {
		if rmErr := s.deps.Uploads.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove rejected upload", zap.Error(rmErr))
		}
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
			s.writeError(w, http.StatusServiceUnavailable, "Server is busy, try again later")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Metrics.QueueDepth.Set(float64(s.deps.Jobs.QueueDepth()))

	s.logger.Info("protocol submitted",
		zap.String("job_id", jobID),
		zap.String("protocol_type", protocolType.ID),
		zap.Int("participants", len(participants)),
		zap.String("filename", header.Filename),
		zap.Int64("bytes", size))

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(worker.StateQueued),
	})
}

func (s *Server) transcribeJob(sub pipeline.Submission) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		start := time.Now()
		result, err := s.deps.Processor.Transcribe(ctx, sub)
		s.deps.Health.RecordJob(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Server) handleDiarize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Diarizer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Diarization is not configured")
		return
	}
	if s.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("audioFile")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Audio file is required")
		return
	}
	defer file.Close()

	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !allowedAudioTypes[contentType] {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %q", contentType))
		return
	}

	id := s.newID()
	path, _, err := s.deps.Uploads.SaveUpload(id, header.Filename, file)
	if err != nil {
		s.logger.Error("failed to store upload", zap.String("upload_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to store audio file")
		return
	}
	defer func() {
		if err := s.deps.Uploads.Remove(path); err != nil {
			s.logger.Warn("failed to remove diarized upload", zap.String("path", path), zap.Error(err))
		}
	}()

	turns, err := s.deps.Diarizer.Diarize(r.Context(), path)
	if err != nil {
		s.logger.Error("diarization failed", zap.String("upload_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Diarization failed: %v", err))
		return
	}
	if turns == nil {
		turns = []transcript.DiarizationTurn{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"audio_file":     header.Filename,
		"segments":       turns,
		"statistics":     transcript.SpeakerStats(turns),
		"total_segments": len(turns),
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	status, ok := s.deps.Statuses.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSubmitLLM(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid form: %v", err))
		return
	}

	protocolType, err := s.protocolType(r.FormValue("protocolType"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	participants, err := parseParticipants(r.FormValue("participants"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mapping, err := parseMapping(r.FormValue("speakerMapping"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc := r.FormValue("transcript")
	if strings.TrimSpace(doc) == "" {
		s.writeError(w, http.StatusBadRequest, "Transcript is required")
		return
	}
	var durationMS int64
	if raw := r.FormValue("duration_ms"); raw != "" {
		durationMS, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid duration_ms value")
			return
		}
	}

	ctx := r.Context()
	if s.deps.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.LLMTimeout)
		defer cancel()
	}

	rec, err := s.deps.Processor.GenerateProtocol(ctx, pipeline.LLMSubmission{
		ProtocolType:   protocolType,
		Participants:   participants,
		Transcript:     doc,
		Duration:       r.FormValue("duration"),
		DurationMS:     durationMS,
		SpeakerMapping: mapping,
	})
	if err != nil {
		if errors.Is(err, transcript.ErrNoTranscript) {
			s.writeError(w, http.StatusBadRequest, "Transcript is required")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Generation failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, protocolResponse(*rec))
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Protocols.List()
	if err != nil {
		s.logger.Error("failed to list protocols", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error loading protocols: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupProtocol(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, protocolResponse(rec))
}

func (s *Server) handleProtocolStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupProtocol(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":     rec.ID,
		"status": string(rec.Status),
	})
}

func (s *Server) handleDeleteProtocol(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Protocols.Delete(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("Protocol %s not found", id))
			return
		}
		s.logger.Error("failed to delete protocol", zap.String("protocol_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error deleting protocol: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Protocol %s deleted", id),
		"success": true,
	})
}

func (s *Server) lookupProtocol(w http.ResponseWriter, id string) (storage.ProtocolRecord, bool) {
	rec, err := s.deps.Protocols.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("Protocol %s not found", id))
			return storage.ProtocolRecord{}, false
		}
		s.logger.Error("failed to load protocol", zap.String("protocol_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error loading protocol: %v", err))
		return storage.ProtocolRecord{}, false
	}
	return rec, true
}

func (s *Server) protocolType(raw string) (storage.ProtocolType, error) {
	t, err := s.deps.Types.Get(raw)
	if err != nil {
		return storage.ProtocolType{}, fmt.Errorf("invalid protocol type: %q. Available types: %s",
			strings.TrimSpace(raw), strings.Join(s.deps.Types.IDs(), ", "))
	}
	return t, nil
}

func protocolResponse(rec storage.ProtocolRecord) ProtocolResponse {
	resp := ProtocolResponse{ID: rec.ID, Status: rec.Status, Protocol: &rec}
	if rec.Error != "" {
		msg := rec.Error
		resp.Error = &msg
	}
	return resp
}

// parseForm accepts both multipart and urlencoded bodies
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(32 << 20)
	}
	return r.ParseForm()
}

func parseParticipants(raw string) ([]transcript.Participant, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("participants are required")
	}
	var participants []transcript.Participant
	if err := json.Unmarshal([]byte(raw), &participants); err != nil {
		return nil, fmt.Errorf("invalid participants format: %v", err)
	}
	return participants, nil
}

func parseMapping(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("invalid speakerMapping format: %v", err)
	}
	return mapping, nil
}
