// Package ai wraps the chat-completion provider used for question suggestions
// and thread summaries.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("ai: provider not configured")

type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer returns the model's reply to a single-message prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// SuggestRequest builds the prompt asking for three similar questions.
func SuggestRequest(title string) Request {
	return Request{
		Prompt: fmt.Sprintf(`Find similar questions to: %q
Please provide 3 similar questions that have been commonly asked in programming forums.
Format the response as a JSON array of strings.
Each suggestion should be clear and concise, focusing on the core problem.`, title),
		MaxTokens:   150,
		Temperature: 0.7,
	}
}

// SummarizeRequest builds the prompt summarizing a discussion thread.
func SummarizeRequest(content string) Request {
	return Request{
		Prompt: `Summarize the following discussion thread:

` + content + `

Please provide a concise summary that includes:
1. The main question/problem
2. Key points from the discussion
3. The solution (if provided)
Format the response in a clear, structured way.
Keep it under 250 words.`,
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

// ParseSuggestions reads a JSON array of strings out of reply. Models sometimes
// wrap the array in prose or code fences, so the outermost brackets are
// extracted first; if that fails the reply is split into non-empty lines.
func ParseSuggestions(reply string, max int) []string {
	var out []string
	if start, end := strings.Index(reply, "["), strings.LastIndex(reply, "]"); start >= 0 && end > start {
		var arr []string
		if err := json.Unmarshal([]byte(reply[start:end+1]), &arr); err == nil {
			out = arr
		}
	}
	if out == nil {
		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
			if line != "" && !strings.HasPrefix(line, "```") {
				out = append(out, line)
			}
		}
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if max > 0 && len(cleaned) > max {
		cleaned = cleaned[:max]
	}
	return cleaned
}
