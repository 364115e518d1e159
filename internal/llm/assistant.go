package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"protocolmaker/internal/transcript"
)

const (
	maxRequiresAction    = 60
	maxBackoffFactor     = 4
	maxConsecutiveErrors = 5
)

var (
	// ErrRunFailed is returned when the assistant run ends in a non-completed state
	ErrRunFailed = errors.New("assistant run failed")
	// ErrTimeout is returned when the run does not finish before the deadline
	ErrTimeout = errors.New("assistant run timed out")
	// ErrNoAssistantMessage is returned when a completed run left no assistant reply
	ErrNoAssistantMessage = errors.New("no assistant message in thread")
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("llm client is not configured")
)

// Generator turns a reviewed transcript into protocol text
type Generator interface {
	GenerateProtocol(ctx context.Context, req Request) (string, error)
}

// Request describes one protocol generation
type Request struct {
	Transcript   string
	Participants []transcript.Participant
	AssistantID  string
	ThreadRef    string
}

// assistantAPI is the subset of the go-openai client used for the Assistants flow
type assistantAPI interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

// AssistantClient drives an OpenAI assistant through a thread, a run and its tool calls
type AssistantClient struct {
	api          assistantAPI
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// Options configures NewAssistantClient
type Options struct {
	APIKey       string
	BaseURL      string
	ProxyURL     string
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewAssistantClient creates a client for the Assistants API, optionally behind an HTTP proxy
func NewAssistantClient(opts Options, logger *zap.Logger) (*AssistantClient, error) {
	if opts.APIKey == "" {
		return newAssistantClient(nil, opts.PollInterval, opts.Timeout, logger), nil
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		cfg.HTTPClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxy)}}
		logger.Info("llm client using proxy", zap.String("proxy_host", proxy.Host))
	}

	return newAssistantClient(openai.NewClientWithConfig(cfg), opts.PollInterval, opts.Timeout, logger), nil
}

func newAssistantClient(api assistantAPI, pollInterval, timeout time.Duration, logger *zap.Logger) *AssistantClient {
	return &AssistantClient{
		api:          api,
		pollInterval: pollInterval,
		timeout:      timeout,
		now:          time.Now,
		logger:       logger,
	}
}

// GenerateProtocol posts the transcript to a fresh thread and returns the assistant's reply
func (c *AssistantClient) GenerateProtocol(ctx context.Context, req Request) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}
	if req.AssistantID == "" {
		return "", fmt.Errorf("assistant id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{
		Metadata: map[string]any{"ref": req.ThreadRef},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	if _, err := c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: BuildPrompt(req.Transcript, req.Participants),
	}); err != nil {
		return "", fmt.Errorf("failed to add message: %w", err)
	}

	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: req.AssistantID})
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	c.logger.Info("assistant run started",
		zap.String("thread_id", thread.ID),
		zap.String("run_id", run.ID),
		zap.String("ref", req.ThreadRef))

	if err := c.waitForRun(ctx, thread.ID, run); err != nil {
		return "", err
	}

	return c.latestReply(ctx, thread.ID)
}

func (c *AssistantClient) waitForRun(ctx context.Context, threadID string, run openai.Run) error {
	requiresAction := 0
	failures := 0
	for attempt := 1; ; attempt++ {
		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusFailed:
			msg := "unknown error"
			if run.LastError != nil {
				msg = run.LastError.Message
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, msg)
		case openai.RunStatusCancelled, openai.RunStatusExpired:
			return fmt.Errorf("%w: run %s", ErrRunFailed, run.Status)
		case openai.RunStatusRequiresAction:
			requiresAction++
			if requiresAction > maxRequiresAction {
				c.cancelRun(threadID, run.ID)
				return fmt.Errorf("%w: too many tool call rounds", ErrRunFailed)
			}
			next, err := c.submitTools(ctx, threadID, run)
			if err != nil {
				return err
			}
			run = next
			attempt = 0
			continue
		}

		delay := pollDelay(c.pollInterval, attempt)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.logger.Warn("assistant run deadline reached",
					zap.String("run_id", run.ID),
					zap.Duration("timeout", c.timeout))
				c.cancelRun(threadID, run.ID)
				return ErrTimeout
			}
			return fmt.Errorf("assistant run cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		next, err := c.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			failures++
			c.logger.Debug("run status check failed",
				zap.String("run_id", run.ID),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= maxConsecutiveErrors {
				c.cancelRun(threadID, run.ID)
				return fmt.Errorf("failed to retrieve run status: %w", err)
			}
			continue
		}
		failures = 0
		run = next
	}
}

// pollDelay doubles the interval per attempt up to maxBackoffFactor times the base
func pollDelay(base time.Duration, attempt int) time.Duration {
	factor := 1
	for i := 1; i < attempt && factor < maxBackoffFactor; i++ {
		factor *= 2
	}
	return base * time.Duration(factor)
}

func (c *AssistantClient) submitTools(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return run, fmt.Errorf("%w: run requires action without tool calls", ErrRunFailed)
	}

	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	for _, call := range calls {
		c.logger.Debug("answering tool call",
			zap.String("function", call.Function.Name),
			zap.String("tool_call_id", call.ID))
	}

	next, err := c.api.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{
		ToolOutputs: toolOutputs(calls, c.now()),
	})
	if err != nil {
		return run, fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return next, nil
}

// cancelRun asks the API to stop a run; it uses its own short deadline since ctx may be expired
func (c *AssistantClient) cancelRun(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.api.CancelRun(ctx, threadID, runID); err != nil {
		c.logger.Debug("failed to cancel run", zap.String("run_id", runID), zap.Error(err))
	}
}

func (c *AssistantClient) latestReply(ctx context.Context, threadID string) (string, error) {
	limit := 20
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		var parts []string
		for _, content := range msg.Content {
			if content.Text != nil && content.Text.Value != "" {
				parts = append(parts, content.Text.Value)
			}
		}
		if len(parts) == 0 {
			continue
		}
		return strings.Join(parts, "\n"), nil
	}
	return "", ErrNoAssistantMessage
}
