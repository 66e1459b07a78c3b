package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/bibswap/swapchat/internal/status"
	"github.com/bibswap/swapchat/internal/translate"
	"go.uber.org/zap"
)

// degradeAfter is the number of consecutive upstream failures that marks the
// daemon Degraded.
const degradeAfter = 3

// upstream is the translation client surface the daemon uses.
type upstream interface {
	translate.Translator
	translate.LanguageDetector
}

// translationHealth tracks consecutive translation failures. Messaging keeps
// working while Degraded.
type translationHealth struct {
	machine   *status.Machine
	threshold int
	logger    *zap.Logger

	mu       sync.Mutex
	failures int
}

func newTranslationHealth(m *status.Machine, threshold int, logger *zap.Logger) *translationHealth {
	if threshold <= 0 {
		threshold = degradeAfter
	}
	return &translationHealth{machine: m, threshold: threshold, logger: logger}
}

func (h *translationHealth) observe(err error) {
	// A caller giving up says nothing about the upstream.
	if errors.Is(err, context.Canceled) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures = 0
		if h.machine.Current() == status.Degraded {
			if terr := h.machine.Transition(status.Ready, "translation upstream recovered"); terr == nil {
				h.logger.Info("translation upstream recovered")
			}
		}
		return
	}

	h.failures++
	if h.failures >= h.threshold && h.machine.Current() == status.Ready {
		if terr := h.machine.Transition(status.Degraded, "translation upstream failing: "+err.Error()); terr == nil {
			h.logger.Warn("translation upstream degraded", zap.Int("failures", h.failures), zap.Error(err))
		}
	}
}

// monitoredTranslator reports every upstream call to health.
type monitoredTranslator struct {
	upstream upstream
	health   *translationHealth
}

func (m *monitoredTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	out, err := m.upstream.Translate(ctx, text, target)
	m.health.observe(err)
	return out, err
}

func (m *monitoredTranslator) Detect(ctx context.Context, text string) (string, error) {
	lang, err := m.upstream.Detect(ctx, text)
	m.health.observe(err)
	return lang, err
}
