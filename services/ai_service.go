package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnato/forum/ai"
)

const (
	minSuggestTitle    = 10
	minSummarizeLength = 50
	maxSuggestions     = 3
)

// AIService produces question suggestions and thread summaries.
type AIService struct {
	completer ai.Completer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAIService returns a service that reports the provider as unavailable
// when completer is nil.
func NewAIService(completer ai.Completer, timeout time.Duration, logger *zap.Logger) *AIService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIService{completer: completer, timeout: timeout, logger: logger}
}

func (s *AIService) Enabled() bool { return s.completer != nil }

func (s *AIService) Suggest(ctx context.Context, title string) ([]string, error) {
	title = strings.TrimSpace(title)
	if runeLen(title) < minSuggestTitle {
		return nil, invalid("title", "must be at least 10 characters")
	}
	reply, err := s.complete(ctx, ai.SuggestRequest(title))
	if err != nil {
		return nil, err
	}
	return ai.ParseSuggestions(reply, maxSuggestions), nil
}

func (s *AIService) Summarize(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if runeLen(content) < minSummarizeLength {
		return "", invalid("content", "must be at least 50 characters")
	}
	reply, err := s.complete(ctx, ai.SummarizeRequest(content))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (s *AIService) complete(ctx context.Context, req ai.Request) (string, error) {
	if s.completer == nil {
		return "", &DependencyError{Dependency: "ai", Err: ai.ErrDisabled}
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.completer.Complete(cctx, req)
	if err != nil {
		s.logger.Error("ai completion failed", zap.Error(err))
		return "", &DependencyError{Dependency: "ai", Err: err}
	}
	return reply, nil
}
