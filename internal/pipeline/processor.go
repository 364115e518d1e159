package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"protocolmaker/internal/llm"
	"protocolmaker/internal/metrics"
	"protocolmaker/internal/storage"
	"protocolmaker/internal/transcriber"
	"protocolmaker/internal/transcript"
)

// DurationResolver measures the length of an audio file
type DurationResolver interface {
	ResolveWithSource(ctx context.Context, path string) (time.Duration, string, bool)
}

// Diarizer produces speaker turns for an audio file
type Diarizer interface {
	Diarize(ctx context.Context, path string) ([]transcript.DiarizationTurn, error)
}

// ArtifactStore persists per-job transcript artifacts
type ArtifactStore interface {
	WriteTranscript(id, document string) (string, error)
	WriteSegments(id string, segments []transcript.AlignedSegment) (string, error)
}

// RecordStore persists protocol records
type RecordStore interface {
	Save(rec storage.ProtocolRecord) error
}

// Submission is an uploaded audio file waiting to be transcribed
type Submission struct {
	JobID          string
	AudioPath      string
	Participants   []transcript.Participant
	SaveTranscript bool
	SpeakerMapping map[string]string
}

// TranscriptResult is the outcome of the transcription phase
type TranscriptResult struct {
	Transcript     string                       `json:"transcript"`
	Segments       []transcript.AlignedSegment  `json:"segments"`
	Labels         []string                     `json:"labels"`
	Language       string                       `json:"language,omitempty"`
	Duration       string                       `json:"duration"`
	DurationMS     int64                        `json:"duration_ms"`
	DurationSource string                       `json:"duration_source"`
	UnknownCount   int                          `json:"unknown_segments"`
	SpeakerCount   int                          `json:"speaker_count"`
	Statistics     transcript.SpeakerStatistics `json:"speaker_statistics"`
	Collisions     []string                     `json:"mapping_collisions,omitempty"`
	TranscriptFile string                       `json:"transcript_file,omitempty"`
}

// LLMSubmission is a reviewed transcript ready for protocol generation
type LLMSubmission struct {
	ProtocolType   storage.ProtocolType
	Participants   []transcript.Participant
	Transcript     string
	Duration       string
	DurationMS     int64
	SpeakerMapping map[string]string
}

// Processor runs the transcription and protocol generation phases
type Processor struct {
	resolver    DurationResolver
	transcriber transcriber.Service
	diarizer    Diarizer
	generator   llm.Generator
	artifacts   ArtifactStore
	records     RecordStore
	metrics     *metrics.Collectors
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// Option customizes a Processor
type Option func(*Processor)

// WithDiarizer replaces the transcriber's speaker turns with an external diarization service
func WithDiarizer(d Diarizer) Option {
	return func(p *Processor) { p.diarizer = d }
}

// WithGenerator enables protocol generation
func WithGenerator(g llm.Generator) Option {
	return func(p *Processor) { p.generator = g }
}

// NewProcessor creates a Processor
func NewProcessor(
	resolver DurationResolver,
	svc transcriber.Service,
	artifacts ArtifactStore,
	records RecordStore,
	collectors *metrics.Collectors,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		resolver:    resolver,
		transcriber: svc,
		artifacts:   artifacts,
		records:     records,
		metrics:     collectors,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transcribe turns an uploaded audio file into a speaker-attributed transcript document
func (p *Processor) Transcribe(ctx context.Context, sub Submission) (*TranscriptResult, error) {
	log := p.logger.With(zap.String("job_id", sub.JobID), zap.String("audio_path", sub.AudioPath))

	// Step 1: file duration; unknown is not fatal
	timer := p.metrics.StartStage(metrics.StageResolve)
	fileDuration, strategy, known := p.resolver.ResolveWithSource(ctx, sub.AudioPath)
	timer.Done(nil)
	p.metrics.ObserveResolution(strategy)
	if !known {
		log.Warn("audio duration unknown, continuing")
	}

	// Step 2: transcription
	timer = p.metrics.StartStage(metrics.StageTranscribe)
	result, err := p.transcriber.Transcribe(ctx, sub.AudioPath)
	timer.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	if result.Empty() {
		log.Error("transcription returned no content")
		return nil, transcript.ErrNoTranscript
	}

	segments := result.Segments
	if len(segments) == 0 {
		segments = fallbackSegments(result.Text, fileDuration, result.Duration)
		log.Warn("transcript has no utterances, using a single unattributed segment")
	}

	// Step 3: optional external diarization
	turns := result.Turns
	if p.diarizer != nil {
		timer = p.metrics.StartStage(metrics.StageDiarize)
		diarized, err := p.diarizer.Diarize(ctx, sub.AudioPath)
		timer.Done(err)
		if err != nil {
			log.Warn("diarization failed, keeping transcriber speaker labels", zap.Error(err))
		} else {
			turns = diarized
		}
	}

	// Step 4: alignment
	timer = p.metrics.StartStage(metrics.StageAlign)
	aligned, report := transcript.Align(segments, turns)
	timer.Done(nil)
	if report.Unknown > 0 {
		p.metrics.UnknownSegments.Add(float64(report.Unknown))
		log.Warn("segments without speaker",
			zap.Int("unknown", report.Unknown),
			zap.Int("total", report.Total))
	}

	// Steps 5 and 6: render, then reconcile the duration line
	timer = p.metrics.StartStage(metrics.StageRender)
	document := transcript.Render(aligned, transcript.Meta{
		ProcessedAt:  p.now(),
		Language:     result.Language,
		Participants: transcript.Names(sub.Participants),
		DurationSlot: true,
	})
	candidates := transcript.Candidates{
		FromFile:             fileDuration,
		FromAPI:              result.Duration,
		FromLastUtteranceEnd: transcript.SecondsToDuration(transcript.LastUtteranceEnd(segments)),
	}
	document = transcript.Reconcile(document, candidates)
	duration, source, _ := candidates.Select()

	// Step 7: explicit speaker mapping
	var collisions []string
	if len(sub.SpeakerMapping) > 0 {
		mapping := transcript.ResolveMapping(sub.SpeakerMapping, sub.Participants)
		var skipped []transcript.MappingCollision
		document, skipped = transcript.ApplyMapping(document, mapping)
		collisions = p.reportCollisions(log, skipped)
	}
	timer.Done(nil)

	stats := transcript.SpeakerStats(turns)
	out := &TranscriptResult{
		Transcript:     document,
		Segments:       aligned,
		Labels:         transcript.Labels(document),
		Language:       result.Language,
		Duration:       transcript.FormatDuration(duration),
		DurationMS:     duration.Milliseconds(),
		DurationSource: string(source),
		UnknownCount:   report.Unknown,
		SpeakerCount:   stats.SpeakerCount,
		Statistics:     stats,
		Collisions:     collisions,
	}

	// Step 8: artifacts
	if sub.SaveTranscript && p.artifacts != nil {
		timer = p.metrics.StartStage(metrics.StageArtifacts)
		path, err := p.saveArtifacts(sub.JobID, document, aligned)
		timer.Done(err)
		if err != nil {
			log.Error("failed to save transcript artifacts", zap.Error(err))
		} else {
			out.TranscriptFile = path
		}
	}

	log.Info("transcription completed",
		zap.Int("segments", len(aligned)),
		zap.String("duration", out.Duration),
		zap.String("duration_source", out.DurationSource))
	return out, nil
}

// GenerateProtocol writes a protocol for a reviewed transcript and stores the record.
// A failed generation is stored as a FAILED record and also returned as an error.
func (p *Processor) GenerateProtocol(ctx context.Context, sub LLMSubmission) (*storage.ProtocolRecord, error) {
	if strings.TrimSpace(sub.Transcript) == "" {
		return nil, transcript.ErrNoTranscript
	}
	if p.generator == nil {
		return nil, fmt.Errorf("protocol generation is not configured")
	}

	id := p.newID()
	log := p.logger.With(zap.String("protocol_id", id), zap.String("protocol_type", sub.ProtocolType.ID))

	document := sub.Transcript
	if len(sub.SpeakerMapping) > 0 {
		mapping := transcript.ResolveMapping(sub.SpeakerMapping, sub.Participants)
		var skipped []transcript.MappingCollision
		document, skipped = transcript.ApplyMapping(document, mapping)
		p.reportCollisions(log, skipped)
	}

	durationText, durationMS := submittedDuration(sub, document)

	timer := p.metrics.StartStage(metrics.StageGenerate)
	content, genErr := p.generator.GenerateProtocol(ctx, llm.Request{
		Transcript:   document,
		Participants: sub.Participants,
		AssistantID:  sub.ProtocolType.AssistantID,
		ThreadRef:    "protocol-" + id,
	})
	timer.Done(genErr)

	now := p.now()
	rec := storage.ProtocolRecord{
		ID:           id,
		Status:       storage.StatusCompleted,
		Content:      content,
		Transcript:   transcript.StripDurationLine(document),
		Participants: sub.Participants,
		ProtocolType: sub.ProtocolType.Name,
		Duration:     durationText,
		DurationMS:   durationMS,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if genErr != nil {
		rec.Status = storage.StatusFailed
		rec.Content = ""
		rec.Error = genErr.Error()
	}

	timer = p.metrics.StartStage(metrics.StageStore)
	saveErr := p.records.Save(rec)
	timer.Done(saveErr)
	if saveErr != nil {
		log.Error("failed to save protocol", zap.Error(saveErr))
	}

	if genErr != nil {
		log.Error("protocol generation failed", zap.Error(genErr))
		return &rec, fmt.Errorf("failed to generate protocol: %w", genErr)
	}

	log.Info("protocol generated", zap.Int("content_length", len(content)))
	return &rec, nil
}

func (p *Processor) saveArtifacts(jobID, document string, aligned []transcript.AlignedSegment) (string, error) {
	path, err := p.artifacts.WriteTranscript(jobID, document)
	if err != nil {
		return "", err
	}
	if _, err := p.artifacts.WriteSegments(jobID, aligned); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Processor) reportCollisions(log *zap.Logger, skipped []transcript.MappingCollision) []string {
	if len(skipped) == 0 {
		return nil
	}
	p.metrics.MappingCollisions.Add(float64(len(skipped)))
	out := make([]string, 0, len(skipped))
	for _, c := range skipped {
		log.Warn("speaker mapping skipped", zap.Error(c))
		out = append(out, c.Error())
	}
	return out
}

// fallbackSegments covers a transcript without utterances with one segment of unknown speaker
func fallbackSegments(text string, candidates ...time.Duration) []transcript.TimeSegment {
	end := 1.0
	for _, d := range candidates {
		if d > 0 {
			end = d.Seconds()
			break
		}
	}
	return []transcript.TimeSegment{{Start: 0, End: end, Text: text}}
}

// submittedDuration prefers the client's duration, then derives one from the transcript timestamps
func submittedDuration(sub LLMSubmission, document string) (string, int64) {
	if sub.Duration != "" {
		return sub.Duration, sub.DurationMS
	}
	if sub.DurationMS > 0 {
		d := time.Duration(sub.DurationMS) * time.Millisecond
		return transcript.FormatDuration(d), sub.DurationMS
	}
	d := transcript.SecondsToDuration(transcript.LastUtteranceEnd(transcript.Parse(document)))
	return transcript.FormatDuration(d), d.Milliseconds()
}
