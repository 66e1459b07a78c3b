package api

import (
	"context"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/session"
	"github.com/bibswap/swapchat/internal/status"
	"github.com/bibswap/swapchat/internal/translate"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ConversationService implements ConversationServer over chat.Service.
type ConversationService struct {
	chat       *chat.Service
	translator *translate.Service
	bus        *bus.Bus
	machine    *status.Machine
	buffer     int
	logger     *zap.Logger
}

// NewConversationService creates the gRPC conversation service. buffer is the
// per-watcher event buffer.
func NewConversationService(c *chat.Service, tr *translate.Service, b *bus.Bus, m *status.Machine, buffer int, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &ConversationService{chat: c, translator: tr, bus: b, machine: m, buffer: buffer, logger: logger}
}

func viewer(ctx context.Context) (session.User, error) {
	u, ok := session.UserFrom(ctx)
	if !ok {
		return u, grpcstatus.Error(codes.Unauthenticated, "no session")
	}
	return u, nil
}

func (s *ConversationService) Inbox(ctx context.Context, req *InboxRequest) (*InboxResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.chat.Inbox(ctx, u.ID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InboxResponse{Entries: entries}, nil
}

func (s *ConversationService) Open(ctx context.Context, req *OpenRequest) (*convo.Snapshot, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	lang := req.Language
	if lang == "" {
		lang = u.Language
	}
	snap, err := s.chat.Open(ctx, req.ConversationID, u.ID, lang)
	if err != nil {
		return nil, toStatus(err)
	}
	return snap, nil
}

func (s *ConversationService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.chat.Send(ctx, req.ConversationID, u.ID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{Message: res.Message, Activated: res.Activated}, nil
}

func (s *ConversationService) MarkSeen(ctx context.Context, req *ConversationRequest) (*convo.ReadResult, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.chat.MarkSeen(ctx, req.ConversationID, u.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *ConversationService) Block(ctx context.Context, req *ConversationRequest) (*emptypb.Empty, error) {
	return s.action(ctx, req, s.chat.Block)
}

func (s *ConversationService) Unblock(ctx context.Context, req *ConversationRequest) (*emptypb.Empty, error) {
	return s.action(ctx, req, s.chat.Unblock)
}

func (s *ConversationService) Delete(ctx context.Context, req *ConversationRequest) (*emptypb.Empty, error) {
	return s.action(ctx, req, s.chat.Delete)
}

func (s *ConversationService) action(ctx context.Context, req *ConversationRequest, fn func(context.Context, string, string) error) (*emptypb.Empty, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, req.ConversationID, u.ID); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) Report(ctx context.Context, req *ReportRequest) (*ReportResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.chat.Report(ctx, req.ConversationID, u.ID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReportResponse{ReportID: r.ID, CreatedAt: r.CreatedAt}, nil
}

func (s *ConversationService) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	lang := req.Language
	if lang == "" {
		lang = u.Language
	}
	text, err := s.chat.Translate(ctx, req.MessageID, u.ID, lang)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TranslateResponse{Text: text}, nil
}

func (s *ConversationService) StartConversation(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	c, res, err := s.chat.StartConversation(ctx, u.ID, req.ListingID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StartResponse{Conversation: *c, Message: res.Message, Activated: res.Activated}, nil
}

func (s *ConversationService) RecordInterest(ctx context.Context, req *InterestRequest) (*InterestResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.chat.RecordInterest(ctx, req.ListingID, u.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InterestResponse{Message: *m}, nil
}

func (s *ConversationService) PutListing(ctx context.Context, req *PutListingRequest) (*emptypb.Empty, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.chat.PutListing(ctx, u.ID, req.Listing); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	u, err := viewer(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.chat.Resolve(ctx, req.PublicID, u.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{Conversation: *c}, nil
}

// Status reports daemon health. It needs no session.
func (s *ConversationService) Status(_ context.Context, _ *emptypb.Empty) (*StatusResponse, error) {
	state, since, reason := s.machine.Snapshot()
	return &StatusResponse{
		State:       string(state),
		Since:       since,
		Reason:      reason,
		Translation: s.translator.Enabled(),
		Subscribers: s.bus.Subscribers(),
	}, nil
}

// Watch streams the push channel of one conversation. The first event is
// KindReady; everything published after it is delivered. A watcher that falls
// behind its buffer is ended with Unavailable and has to reopen the conversation.
func (s *ConversationService) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	u, err := viewer(ctx)
	if err != nil {
		return err
	}
	if _, err := s.chat.Conversation(ctx, req.ConversationID, u.ID); err != nil {
		return toStatus(err)
	}

	sub := s.bus.Watch("", req.ConversationID, s.buffer)
	defer sub.Close()

	log := s.logger.With(zap.String("conversation_id", req.ConversationID), zap.String("viewer_id", u.ID))
	log.Debug("watch started")
	if err := stream.SendMsg(&WatchEvent{Kind: KindReady}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-sub.C:
			out, ok := ToWatchEvent(evt, u.ID)
			if !ok {
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-sub.Lost:
			log.Warn("watcher fell behind, ending stream", zap.Int("buffer", s.buffer))
			return toStatus(convo.NewError(convo.CodeTransientStore, "push events dropped; reopen the conversation", nil))
		case <-ctx.Done():
			log.Debug("watch ended")
			return nil
		}
	}
}

// ToWatchEvent maps a bus event to its wire form for viewerID. Another
// participant's soft delete is private and is not forwarded.
func ToWatchEvent(evt bus.Event, viewerID string) (*WatchEvent, bool) {
	out := &WatchEvent{Kind: evt.Kind, At: evt.Timestamp}
	switch p := evt.Payload.(type) {
	case convo.Message:
		out.Message = &p
	case convo.ReadReceipt:
		out.Receipt = &p
	case convo.ParticipantAction:
		if evt.Kind == bus.KindConversationDeleted && p.ActorID != viewerID {
			return nil, false
		}
		out.ActorID = p.ActorID
	case convo.StateChange:
	default:
		return nil, false
	}
	return out, true
}
