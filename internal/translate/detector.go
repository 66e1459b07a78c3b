package translate

import (
	"context"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"go.uber.org/zap"
)

// LanguageStore persists detected languages.
type LanguageStore interface {
	SetDetectedLanguage(ctx context.Context, id, lang string) error
}

// Detector fills in the detected language of newly inserted messages.
type Detector struct {
	db       LanguageStore
	detector LanguageDetector
	bus      *bus.Bus
	logger   *zap.Logger
	timeout  time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDetector creates a detector worker.
func NewDetector(db LanguageStore, d LanguageDetector, b *bus.Bus, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{db: db, detector: d, bus: b, logger: logger, timeout: 15 * time.Second}
}

// Start subscribes to message events on the bus.
func (d *Detector) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	ch, unsub := d.bus.Subscribe("message.", 256)

	go func() {
		defer close(d.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the worker and waits for the in-flight detection to finish.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Detector) handleEvent(ctx context.Context, evt bus.Event) {
	if evt.Kind != bus.KindMessageInserted {
		return
	}
	msg, ok := evt.Payload.(convo.Message)
	if !ok || msg.Type != convo.TypeText || msg.DetectedLanguage != "" {
		return
	}
	if err := d.Process(ctx, msg); err != nil {
		d.logger.Warn("language detection failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// Process detects and stores msg's language and publishes the update.
func (d *Detector) Process(ctx context.Context, msg convo.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	lang, err := d.detector.Detect(ctx, msg.Content)
	if err != nil {
		return err
	}
	if err := d.db.SetDetectedLanguage(ctx, msg.ID, lang); err != nil {
		return err
	}

	d.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpdated,
		Key:       msg.ConversationID,
		Timestamp: time.Now(),
		Payload:   convo.Message{ID: msg.ID, ConversationID: msg.ConversationID, DetectedLanguage: lang},
	})
	d.logger.Debug("language detected", zap.String("message_id", msg.ID), zap.String("language", lang))
	return nil
}
