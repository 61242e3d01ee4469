package moderation

import (
	"context"
	"strings"
)

// Checker is the content-sanitizer/spam-detector collaborator. It returns a
// pass/fail verdict; rejected content never reaches storage.
type Checker interface {
	Check(ctx context.Context, content string) (ok bool, err error)
}

// KeywordChecker is the built-in heuristic implementation: flags messages
// dominated by blocked phrases or repeated characters. A real deployment
// swaps in the hosted spam service behind the same interface.
type KeywordChecker struct {
	blocked []string
}

func NewKeywordChecker(blocked []string) *KeywordChecker {
	lowered := make([]string, len(blocked))
	for i, phrase := range blocked {
		lowered[i] = strings.ToLower(phrase)
	}
	return &KeywordChecker{blocked: lowered}
}

func (c *KeywordChecker) Check(_ context.Context, content string) (bool, error) {
	lowered := strings.ToLower(content)

	for _, phrase := range c.blocked {
		if phrase != "" && strings.Contains(lowered, phrase) {
			return false, nil
		}
	}

	// Flood heuristic: a single character repeated for effectively the whole message
	if len(content) >= 20 {
		first := rune(content[0])
		same := true
		for _, r := range content {
			if r != first {
				same = false
				break
			}
		}
		if same {
			return false, nil
		}
	}

	return true, nil
}
