package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"go.uber.org/zap"
)

// ErrInFlight is returned by Submit while a previous send has not completed.
var ErrInFlight = errors.New("outbox: a send is already in flight")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("outbox: closed")

// MessageSender delivers a message to the server.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, content string) (convo.Message, error)
}

// Result is the outcome of one submitted send.
type Result struct {
	TempID  string
	Message convo.Message
	Err     error
}

// Sender submits optimistic messages one at a time. Re-submission is refused
// while a send is in flight.
type Sender struct {
	sender  MessageSender
	logger  *zap.Logger
	timeout time.Duration
	results chan Result

	mu       sync.Mutex
	inFlight string
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSender creates a sender. timeout bounds each send; zero means 30s.
func NewSender(sender MessageSender, timeout time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		sender:  sender,
		logger:  logger,
		timeout: timeout,
		results: make(chan Result, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Results delivers one Result per accepted Submit.
func (s *Sender) Results() <-chan Result { return s.results }

// InFlight returns the temp id of the send in progress, or "".
func (s *Sender) InFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Submit starts sending content under tempID.
func (s *Sender) Submit(tempID, conversationID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.inFlight != "" {
		return ErrInFlight
	}
	s.inFlight = tempID
	s.wg.Add(1)
	go s.send(tempID, conversationID, content)
	return nil
}

func (s *Sender) send(tempID, conversationID, content string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	msg, err := s.sender.SendMessage(ctx, conversationID, content)
	cancel()

	if err != nil {
		s.logger.Warn("send failed", zap.String("temp_id", tempID), zap.String("conversation_id", conversationID), zap.Error(err))
	} else {
		s.logger.Debug("message sent", zap.String("temp_id", tempID), zap.String("message_id", msg.ID))
	}

	s.mu.Lock()
	s.inFlight = ""
	s.mu.Unlock()

	select {
	case s.results <- Result{TempID: tempID, Message: msg, Err: err}:
	case <-s.ctx.Done():
	}
}

// Close cancels the send in flight and waits for it to return. Results not
// yet consumed are dropped.
func (s *Sender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
