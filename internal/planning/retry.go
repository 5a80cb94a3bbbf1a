// Package planning turns a user requirement into an executable task
// plan, with bounded self-repair when the model's output cannot be
// parsed or fails validation.
package planning

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/memory"
)

// CompletionFunc is the model call a retry loop drives: a system
// prompt plus conversation context in, raw text out.
type CompletionFunc func(ctx context.Context, system string, msgs []memory.ContextMessage) (string, error)

// ErrRetriesExhausted wraps the last failure after every attempt is
// spent.
type ErrRetriesExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("output invalid after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrRetriesExhausted) Unwrap() error { return e.Last }

var thinkingBlock = regexp.MustCompile(`(?s)\A\s*<think>.*?</think>`)

// StripThinking removes a leading chain-of-thought block from model
// output. Only a block at the very start is stripped.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkingBlock.ReplaceAllString(text, ""))
}

// RetryWithRepair prompts the model, parses and validates the output,
// and on failure retries with the failure appended as a repair
// instruction. It returns the first value that parses and validates,
// or ErrRetriesExhausted once maxAttempts is spent. Model transport
// errors are terminal, not retried.
func RetryWithRepair[T any](
	ctx context.Context,
	complete CompletionFunc,
	log *logger.Logger,
	system string,
	msgs []memory.ContextMessage,
	parse func(string) (T, error),
	validate func(T) error,
	maxAttempts int,
) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := append([]memory.ContextMessage(nil), msgs...)
	var lastErr error

	for i := 1; i <= maxAttempts; i++ {
		raw, err := complete(ctx, system, attempt)
		if err != nil {
			return zero, err
		}
		cleaned := StripThinking(raw)

		value, err := parse(cleaned)
		if err == nil {
			err = validate(value)
			if err == nil {
				return value, nil
			}
		}

		lastErr = err
		log.Warn("model output rejected, retrying with repair instruction",
			"attempt", i, "max_attempts", maxAttempts, "error", err)

		// Feed the rejected output and the failure back so the next
		// attempt can repair rather than start over.
		attempt = append(attempt,
			memory.ContextMessage{Role: "assistant", Content: raw},
			memory.ContextMessage{Role: "user", Content: fmt.Sprintf(
				"Your previous output was invalid: %v. Produce a corrected response in the required format only.", err)},
		)
	}

	return zero, &ErrRetriesExhausted{Attempts: maxAttempts, Last: lastErr}
}
