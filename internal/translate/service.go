package translate

import (
	"context"
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Translator translates text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// LanguageDetector identifies the language of text as a BCP 47 tag.
type LanguageDetector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// Cache is the persistent translation cache.
type Cache interface {
	GetTranslation(ctx context.Context, messageID, lang string) (string, bool, error)
	SaveTranslation(ctx context.Context, messageID, lang, content string) (bool, error)
}

// flightTimeout bounds a shared upstream call, which outlives the caller that
// started it.
const flightTimeout = 30 * time.Second

// Service translates stored messages, making at most one upstream call per
// message and target language.
type Service struct {
	cache      Cache
	translator Translator
	logger     *zap.Logger
	group      singleflight.Group
}

// NewService creates a translation service. A nil translator disables
// translation: every uncached request fails with TranslationUnavailable.
func NewService(cache Cache, tr Translator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cache: cache, translator: tr, logger: logger}
}

// Enabled reports whether an upstream translator is configured.
func (s *Service) Enabled() bool { return s.translator != nil }

// Translate returns m's content in target. Concurrent callers for the same
// message and language share one upstream call; a caller that gives up returns
// its own context error without cancelling the call for the others.
func (s *Service) Translate(ctx context.Context, m *convo.Message, target string) (string, error) {
	lang := BaseLanguage(target)
	if m == nil || m.ID == "" || lang == "" {
		return "", convo.NewError(convo.CodeValidation, "message and target language are required", nil)
	}
	if SameLanguage(m.DetectedLanguage, lang) {
		return m.Content, nil
	}

	if text, ok, err := s.cache.GetTranslation(ctx, m.ID, lang); err != nil {
		return "", err
	} else if ok {
		return text, nil
	}

	ch := s.group.DoChan(m.ID+"|"+lang, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		// Another caller may have finished between the cache miss and here.
		if text, ok, err := s.cache.GetTranslation(ctx, m.ID, lang); err == nil && ok {
			return text, nil
		}
		if s.translator == nil {
			return "", convo.NewError(convo.CodeTranslationUnavailable, "translation is disabled", nil)
		}
		text, err := s.translator.Translate(ctx, m.Content, lang)
		if err != nil {
			return "", convo.NewError(convo.CodeTranslationUnavailable, "translate message", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", convo.NewError(convo.CodeTranslationUnavailable, "empty translation", nil)
		}
		created, err := s.cache.SaveTranslation(ctx, m.ID, lang, text)
		if err != nil {
			s.logger.Warn("failed to cache translation", zap.String("message_id", m.ID), zap.Error(err))
			return text, nil
		}
		if !created {
			// First write wins.
			if stored, ok, err := s.cache.GetTranslation(ctx, m.ID, lang); err == nil && ok {
				return stored, nil
			}
		}
		return text, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		s.logger.Debug("translation unavailable", zap.String("message_id", m.ID), zap.String("target", lang), zap.Error(res.Err))
		return "", res.Err
	}
	return res.Val.(string), nil
}
