package sync

import (
	"context"
	"errors"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/outbox"
	"github.com/bibswap/swapchat/internal/translate"
	"go.uber.org/zap"
)

// ErrClosed is returned by Engine methods after Close.
var ErrClosed = errors.New("sync: session closed")

// Backend is the server surface a client session uses.
type Backend interface {
	Open(ctx context.Context, conversationID string) (*convo.Snapshot, error)
	SendMessage(ctx context.Context, conversationID, content string) (convo.Message, error)
	MarkSeen(ctx context.Context, conversationID string) (convo.ReadResult, error)
	Translate(ctx context.Context, messageID, target string) (string, error)
}

// PushEvent is one event from the push channel.
type PushEvent struct {
	Kind    string
	Message convo.Message
	Receipt *convo.ReadReceipt
	ActorID string
	At      time.Time
}

// PushChannel delivers events for one conversation. Events published after
// Subscribe returns must be buffered until read.
type PushChannel interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan PushEvent, func(), error)
}

// Config configures a client session.
type Config struct {
	ConversationID string
	ViewerID       string
	// Language is the viewer's preferred language. Empty disables translation.
	Language    string
	MatchWindow time.Duration
	SendTimeout time.Duration
	// OnChange is called from the session goroutine after every change.
	OnChange func(View)
	Logger   *zap.Logger
}

// ViewEntry is one rendered message.
type ViewEntry struct {
	Entry
	Display   translate.Display
	Outbound  bool
	Indicator bool
}

// View is the render state of a session.
type View struct {
	ConversationID  string
	PublicID        string
	ListingID       string
	CreatedAt       time.Time
	ListingTitle    string
	OwnerID         string
	OtherID         string
	State           convo.State
	Entries         []ViewEntry
	Unseen          int
	BlockedByViewer bool
	BlockedByOther  bool
	Sending         string
	// Err is the last error of a user action; it does not end the session.
	Err error
	// Fatal is set when the session can no longer show the conversation.
	Fatal error
}

// CanSend reports whether the composer should accept input.
func (v View) CanSend() bool {
	return v.Fatal == nil && !v.BlockedByViewer && !v.BlockedByOther && v.Sending == ""
}

type translationResult struct {
	messageID string
	text      string
	err       error
}

// Engine is a client session on one conversation. A single goroutine owns the
// synchronizer, the translation overlay and the send results; every public
// method hands work to that goroutine.
type Engine struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger

	sync    *Synchronizer
	overlay *translate.Overlay
	sender  *outbox.Sender

	conv            convo.Conversation
	listingTitle    string
	ownerID         string
	blockedByViewer bool
	blockedByOther  bool
	lastErr         error
	fatal           error

	cmds         chan func()
	translations chan translationResult
	cancel       context.CancelFunc
	ctx          context.Context
	done         chan struct{}
}

// Open subscribes to the push channel, loads the conversation (which marks it
// read on the server), seeds the synchronizer and starts the session loop.
// Events published between the subscription and the load are merged, not lost.
func Open(ctx context.Context, backend Backend, push PushChannel, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loopCtx, cancel := context.WithCancel(context.Background())

	events, unsub, err := push.Subscribe(loopCtx, cfg.ConversationID)
	if err != nil {
		cancel()
		return nil, err
	}

	snap, err := backend.Open(ctx, cfg.ConversationID)
	if err != nil {
		unsub()
		cancel()
		return nil, err
	}

	opts := []SyncOption{}
	if cfg.MatchWindow > 0 {
		opts = append(opts, WithMatchWindow(cfg.MatchWindow))
	}
	e := &Engine{
		cfg:             cfg,
		backend:         backend,
		logger:          logger.With(zap.String("conversation_id", cfg.ConversationID)),
		sync:            NewSynchronizer(cfg.ConversationID, cfg.ViewerID, opts...),
		overlay:         translate.NewOverlay(cfg.ViewerID, cfg.Language),
		sender:          outbox.NewSender(backend, cfg.SendTimeout, logger),
		conv:            snap.Conversation,
		listingTitle:    snap.ListingTitle,
		ownerID:         snap.OwnerID,
		blockedByViewer: snap.BlockedByViewer,
		blockedByOther:  snap.BlockedByOther,
		cmds:            make(chan func()),
		translations:    make(chan translationResult, 16),
		cancel:          cancel,
		ctx:             loopCtx,
		done:            make(chan struct{}),
	}
	e.sync.Seed(snap.Messages)

	go e.loop(events, unsub)
	return e, nil
}

func (e *Engine) loop(events <-chan PushEvent, unsub func()) {
	defer close(e.done)
	defer unsub()
	defer e.sender.Close()

	e.changed()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				e.lastErr = convo.NewError(convo.CodeTransientStore, "push channel closed", nil)
				e.changed()
				continue
			}
			changes := e.pushChanges(ev)
			// Drain whatever else is queued so one render covers the batch.
			for more := true; more; {
				select {
				case ev, ok := <-events:
					if !ok {
						events = nil
						more = false
						continue
					}
					changes = append(changes, e.pushChanges(ev)...)
				default:
					more = false
				}
			}
			e.sync.Apply(changes...)
			e.changed()
		case r := <-e.sender.Results():
			e.onSendResult(r)
			e.changed()
		case tr := <-e.translations:
			e.overlay.Resolve(tr.messageID, tr.text, tr.err)
			if tr.err != nil {
				e.logger.Debug("translation failed", zap.String("message_id", tr.messageID), zap.Error(tr.err))
			}
			e.changed()
		}
	}
}

func (e *Engine) pushChanges(ev PushEvent) []Change {
	switch ev.Kind {
	case bus.KindMessageInserted:
		return []Change{{Op: OpPush, Message: ev.Message}}
	case bus.KindMessageUpdated:
		return []Change{{Op: OpUpdate, Message: ev.Message}}
	case bus.KindMessageRead:
		if ev.Receipt == nil || ev.Receipt.ReaderID == "" {
			return nil
		}
		changes := make([]Change, 0, len(ev.Receipt.MessageIDs))
		for _, id := range ev.Receipt.MessageIDs {
			at := ev.Receipt.ReadAt
			changes = append(changes, Change{Op: OpUpdate, Message: convo.Message{ID: id, ReadAt: &at}})
		}
		return changes
	case bus.KindConversationActivated:
		e.conv.Activated = true
	case bus.KindConversationBlocked, bus.KindConversationUnblocked:
		blocked := ev.Kind == bus.KindConversationBlocked
		if ev.ActorID == e.cfg.ViewerID {
			e.blockedByViewer = blocked
		} else if ev.ActorID != "" {
			e.blockedByOther = blocked
		}
	case bus.KindConversationDeleted:
		if ev.ActorID != "" {
			e.conv.SetDeleted(ev.ActorID, true)
		}
	}
	return nil
}

func (e *Engine) onSendResult(r outbox.Result) {
	if r.Err != nil {
		e.sync.Apply(Change{Op: OpFail, TempID: r.TempID, Err: r.Err})
		e.lastErr = r.Err
		if convo.CodeOf(r.Err).Fatal() {
			e.fatal = r.Err
		}
		if errors.Is(r.Err, convo.ErrBlocked) {
			e.blockedByOther = e.blockedByOther || !e.blockedByViewer
		}
		return
	}
	e.sync.Apply(Change{Op: OpConfirm, TempID: r.TempID, Message: r.Message})
	eff := e.conv.OnSend(e.cfg.ViewerID, e.ownerID, r.Message.Type)
	e.conv.Apply(e.cfg.ViewerID, eff)
	e.lastErr = nil
}

// changed requests missing translations and renders.
func (e *Engine) changed() {
	if e.cfg.Language != "" {
		for _, req := range e.overlay.Observe(e.sync.Entries().Messages()) {
			e.requestTranslation(req)
		}
	}
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(e.view())
	}
}

func (e *Engine) requestTranslation(req translate.Request) {
	go func() {
		text, err := e.backend.Translate(e.ctx, req.MessageID, req.Target)
		select {
		case e.translations <- translationResult{messageID: req.MessageID, text: text, err: err}:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) view() View {
	seq := e.sync.Entries()
	v := View{
		ConversationID:  e.cfg.ConversationID,
		PublicID:        e.conv.PublicID,
		ListingID:       e.conv.ListingID,
		CreatedAt:       e.conv.CreatedAt,
		ListingTitle:    e.listingTitle,
		OwnerID:         e.ownerID,
		OtherID:         e.conv.Other(e.cfg.ViewerID),
		State:           e.conv.StateFor(e.cfg.ViewerID),
		Entries:         make([]ViewEntry, len(seq)),
		Unseen:          len(seq.UnseenInbound(e.cfg.ViewerID)),
		BlockedByViewer: e.blockedByViewer,
		BlockedByOther:  e.blockedByOther,
		Sending:         e.sender.InFlight(),
		Err:             e.lastErr,
		Fatal:           e.fatal,
	}
	runs := make([]translate.RunItem, len(seq))
	for i, en := range seq {
		d := e.overlay.Display(en.Message)
		v.Entries[i] = ViewEntry{Entry: en, Display: d, Outbound: en.Message.SenderID == e.cfg.ViewerID}
		runs[i] = translate.RunItem{SenderID: en.Message.SenderID, At: en.At, Translated: d.Translated}
	}
	for i, mark := range translate.MarkRuns(runs) {
		v.Entries[i].Indicator = mark
	}
	return v
}

// do runs fn on the session goroutine and returns its error.
func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- func() { reply <- fn() }:
	case <-e.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// Send appends an optimistic entry and submits it. It is refused while a
// previous send is in flight or while either side blocks the other.
func (e *Engine) Send(content string) error {
	return e.do(func() error {
		err := e.send(content)
		if err != nil {
			e.lastErr = err
		}
		e.changed()
		return err
	})
}

func (e *Engine) send(content string) error {
	if e.fatal != nil {
		return e.fatal
	}
	if e.blockedByViewer || e.blockedByOther {
		return convo.NewError(convo.CodeBlocked, "sending is disabled while blocked", nil)
	}
	if e.sender.InFlight() != "" {
		return outbox.ErrInFlight
	}
	entry, err := e.sync.AppendOptimistic(content)
	if err != nil {
		return err
	}
	if err := e.sender.Submit(entry.Message.TempID, e.cfg.ConversationID, entry.Message.Content); err != nil {
		e.sync.Apply(Change{Op: OpFail, TempID: entry.Message.TempID, Err: err})
		return err
	}
	e.lastErr = nil
	return nil
}

// Retry resubmits a failed entry.
func (e *Engine) Retry(tempID string) error {
	return e.do(func() error {
		if e.sender.InFlight() != "" {
			return outbox.ErrInFlight
		}
		entry, ok := e.sync.Retry(tempID)
		if !ok {
			return convo.NewError(convo.CodeValidation, "no failed message "+tempID, nil)
		}
		if err := e.sender.Submit(tempID, e.cfg.ConversationID, entry.Message.Content); err != nil {
			e.sync.Apply(Change{Op: OpFail, TempID: tempID, Err: err})
			return err
		}
		e.changed()
		return nil
	})
}

// Discard removes a failed entry.
func (e *Engine) Discard(tempID string) error {
	return e.do(func() error {
		e.sync.Apply(Change{Op: OpDiscard, TempID: tempID})
		e.changed()
		return nil
	})
}

// ToggleOriginal flips a translated message between original and translated text.
func (e *Engine) ToggleOriginal(messageID string) error {
	return e.do(func() error {
		if e.overlay.Toggle(messageID) {
			e.changed()
		}
		return nil
	})
}

// MarkSeen marks inbound messages read on the server and locally.
func (e *Engine) MarkSeen(ctx context.Context) (convo.ReadResult, error) {
	var ids []string
	if err := e.do(func() error {
		ids = e.sync.UnseenInbound()
		return nil
	}); err != nil {
		return convo.ReadResult{}, err
	}
	if len(ids) == 0 {
		return convo.ReadResult{}, nil
	}

	res, err := e.backend.MarkSeen(ctx, e.cfg.ConversationID)
	if err != nil {
		_ = e.do(func() error {
			e.lastErr = err
			e.changed()
			return nil
		})
		return res, err
	}

	at := time.Now()
	err = e.do(func() error {
		changes := make([]Change, len(ids))
		for i, id := range ids {
			changes[i] = Change{Op: OpUpdate, Message: convo.Message{ID: id, ReadAt: &at}}
		}
		e.sync.Apply(changes...)
		e.changed()
		return nil
	})
	return res, err
}

// View returns the current render state.
func (e *Engine) View() (View, error) {
	var v View
	err := e.do(func() error {
		v = e.view()
		return nil
	})
	return v, err
}

// Close stops the session and unsubscribes from the push channel. Send and
// translation results arriving afterwards are dropped.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}
