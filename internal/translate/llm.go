package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/llm"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// LLM translates by prompting a completion model.
type LLM struct {
	svc    llm.Service
	policy resilience.Policy
}

// NewLLM creates an LLM-backed translator.
func NewLLM(svc llm.Service, policy resilience.Policy) *LLM {
	return &LLM{svc: svc, policy: policy}
}

func (t *LLM) Translate(ctx context.Context, text, src, dst string) (string, error) {
	prompt := llm.Prompt{
		Instructions: fmt.Sprintf(
			"You translate image search queries from %s to %s. Reply with the translation only, without quotes or explanations.",
			languageName(src), languageName(dst)),
		Input: text,
	}

	out, err := resilience.RetryValue(ctx, t.policy, "llm-translate", func(ctx context.Context) (string, error) {
		return t.svc.Complete(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errdefs.ErrTranslation, t.svc.Provider(), err)
	}

	out = strings.Trim(strings.TrimSpace(out), "\"'“”")
	if out == "" {
		return "", fmt.Errorf("%w: %s returned an empty translation", errdefs.ErrTranslation, t.svc.Provider())
	}
	return out, nil
}
