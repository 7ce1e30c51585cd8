package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
	"github.com/tmc/langchaingo/prompts"
)

const (
	DefaultTopK       = 4
	DefaultMaxChars   = 10
	DefaultCandidates = 3
	DefaultTone       = "gentle, warm, and considerate"
	DefaultLanguage   = "Korean"

	// Apology is returned in place of a reply when the model could not be reached.
	Apology = "죄송해요, 지금은 제가 잠시 말을 잘 못하겠어요. 잠시 후에 다시 이야기해주실래요?"
)

// Request is one message to rephrase. Tone overrides the responder default
// when set.
type Request struct {
	UserID  string
	Message string
	Tone    string
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message"}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "user_id"}
	}
	return nil
}

// Response is the outcome of a Respond call.
type Response struct {
	// Entry is the persisted chat log row.
	Entry *core.ChatLogEntry

	TranslatedMessage string
	RawOutput         string
	Candidates        []string

	// Matched is false when the model output did not have the expected
	// "original" : "reply" shape and the whole output was used.
	Matched bool

	// Degraded is true when the model failed and Apology was returned.
	Degraded bool

	// Truncated counts candidates cut to the length limit.
	Truncated int
}

// Responder answers rephrasing requests from a populated vector index.
type Responder struct {
	index      storage.VectorIndex
	chatLog    storage.ChatLogRepository
	embedder   ai.Embedder
	completer  ai.Completer
	policy     *retry.Policy
	template   prompts.PromptTemplate
	topK       int
	maxChars   int
	candidates int
	tone       string
	language   string
	logger     *slog.Logger
}

// Option configures a Responder.
type Option func(*Responder) error

// WithTopK sets how many similar utterances are retrieved as context.
// Default is DefaultTopK.
func WithTopK(k int) Option {
	return func(r *Responder) error {
		if k < 1 {
			return fmt.Errorf("%w: top k must be at least 1, got %d", ErrInvalidOption, k)
		}
		r.topK = k
		return nil
	}
}

// WithMaxChars sets the length limit for each rephrasing.
// Default is DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(r *Responder) error {
		if n < 1 {
			return fmt.Errorf("%w: max chars must be at least 1, got %d", ErrInvalidOption, n)
		}
		r.maxChars = n
		return nil
	}
}

// WithCandidates sets how many rephrasings the model is asked for.
// Default is DefaultCandidates.
func WithCandidates(n int) Option {
	return func(r *Responder) error {
		if n < 1 {
			return fmt.Errorf("%w: candidates must be at least 1, got %d", ErrInvalidOption, n)
		}
		r.candidates = n
		return nil
	}
}

// WithTone sets the tone used when a request does not name one.
func WithTone(tone string) Option {
	return func(r *Responder) error {
		if strings.TrimSpace(tone) == "" {
			return fmt.Errorf("%w: tone is empty", ErrInvalidOption)
		}
		r.tone = tone
		return nil
	}
}

// WithLanguage sets the language the model must answer in.
func WithLanguage(language string) Option {
	return func(r *Responder) error {
		if strings.TrimSpace(language) == "" {
			return fmt.Errorf("%w: language is empty", ErrInvalidOption)
		}
		r.language = language
		return nil
	}
}

// WithPromptTemplate replaces DefaultPromptTemplate. The template uses Go
// template syntax with the variables question, context, tone, language,
// max_chars and candidates.
func WithPromptTemplate(text string) Option {
	return func(r *Responder) error {
		tmpl := newPromptTemplate(text)
		if _, err := renderPrompt(tmpl, promptInput{}); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		r.template = tmpl
		return nil
	}
}

// WithRetryPolicy sets the policy applied to embedding and completion calls.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(r *Responder) error {
		if policy == nil {
			return fmt.Errorf("%w: retry policy is nil", ErrInvalidOption)
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		r.policy = policy
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Responder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewResponder creates a responder over index that records answers in chatLog.
func NewResponder(
	index storage.VectorIndex,
	chatLog storage.ChatLogRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Responder, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if chatLog == nil {
		return nil, ErrChatLogRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	logger := slog.Default().With("component", "respond")
	policy, err := retry.NewPolicy(
		retry.WithRetryable(ai.IsTransient),
		retry.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	r := &Responder{
		index:      index,
		chatLog:    chatLog,
		embedder:   provider.Embedder(),
		completer:  provider.Completer(),
		policy:     policy,
		template:   newPromptTemplate(DefaultPromptTemplate),
		topK:       DefaultTopK,
		maxChars:   DefaultMaxChars,
		candidates: DefaultCandidates,
		tone:       DefaultTone,
		language:   DefaultLanguage,
		logger:     logger,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Respond rephrases req.Message. Validation failures return a
// *ValidationError and an empty index returns core.ErrNotReady; neither is
// logged. Any later model or retrieval failure is answered with Apology and
// still recorded.
func (r *Responder) Respond(ctx context.Context, req Request) (*Response, error) {
	return r.RespondWithMonitor(ctx, req, nil)
}

// RespondWithMonitor is Respond with stage callbacks delivered to monitor.
func (r *Responder) RespondWithMonitor(ctx context.Context, req Request, monitor Monitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	if err := req.validate(); err != nil {
		return nil, err
	}

	count, err := r.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting index documents: %w", err)
	}
	if count == 0 {
		return nil, core.ErrNotReady
	}

	monitor.Start(req)

	tone := req.Tone
	if strings.TrimSpace(tone) == "" {
		tone = r.tone
	}

	resp := &Response{}
	raw, err := r.generate(ctx, req.Message, tone, monitor)
	monitor.AfterCompletion(raw, err)

	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		r.logger.Error("rephrasing failed, answering with apology", "user_id", req.UserID, "err", err)
		resp.TranslatedMessage = Apology
		resp.Degraded = true
	default:
		resp.RawOutput = raw
		resp.TranslatedMessage, resp.Matched = Extract(raw)
		resp.Candidates, resp.Truncated = SplitCandidates(resp.TranslatedMessage, r.maxChars)
		if resp.Truncated > 0 {
			r.logger.Warn("candidates cut to length limit",
				"user_id", req.UserID, "truncated", resp.Truncated, "max_chars", r.maxChars)
		}
		if !resp.Matched {
			r.logger.Warn("model output did not match reply format", "user_id", req.UserID)
		}
	}

	entry, err := r.chatLog.AddChatLog(ctx, &core.ChatLogEntry{
		UserID:            req.UserID,
		InputContent:      req.Message,
		OutputContent:     resp.RawOutput,
		TranslatedContent: resp.TranslatedMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("saving chat log: %w", err)
	}
	resp.Entry = entry

	monitor.Finish(resp)
	return resp, nil
}

func (r *Responder) generate(ctx context.Context, message, tone string, monitor Monitor) (string, error) {
	var vector []float32
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = r.embedder.EmbedText(ctx, message)
		return embedErr
	})
	if err != nil {
		return "", fmt.Errorf("embedding message: %w", err)
	}

	results, err := r.index.Query(ctx, vector, r.topK)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}
	monitor.AfterRetrieval(results)

	contents := make([]string, len(results))
	for i, result := range results {
		contents[i] = result.Content
	}

	prompt, err := renderPrompt(r.template, promptInput{
		question:   message,
		context:    strings.Join(contents, "\n"),
		tone:       tone,
		language:   r.language,
		maxChars:   r.maxChars,
		candidates: r.candidates,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}

	start := time.Now()
	var raw string
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		var completeErr error
		raw, completeErr = r.completer.Complete(ctx, prompt)
		return completeErr
	})
	if err != nil {
		return "", fmt.Errorf("completing prompt: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", ai.ErrEmptyCompletion
	}
	r.logger.Debug("model answered", "context_documents", len(results), "elapsed", time.Since(start))
	return raw, nil
}

// History returns a user's recorded requests, newest first.
func (r *Responder) History(ctx context.Context, userID string, limit int) ([]*core.ChatLogEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id"}
	}
	return r.chatLog.ChatLogsByUser(ctx, userID, limit)
}
