package api

import (
	"context"
	"fmt"

	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/convo"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client is the typed client of the conversation service. Errors carrying a
// taxonomy code come back as *convo.Error.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection dialed with ClientCodec and WithToken.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return FromStatus(c.cc.Invoke(ctx, fullMethod(method), in, out))
}

func (c *Client) Inbox(ctx context.Context, limit int) ([]chat.InboxEntry, error) {
	var out InboxResponse
	if err := c.invoke(ctx, "Inbox", &InboxRequest{Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) Open(ctx context.Context, conversationID, lang string) (*convo.Snapshot, error) {
	var out convo.Snapshot
	if err := c.invoke(ctx, "Open", &OpenRequest{ConversationID: conversationID, Language: lang}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Send(ctx context.Context, conversationID, content string) (*SendResponse, error) {
	var out SendResponse
	if err := c.invoke(ctx, "Send", &SendRequest{ConversationID: conversationID, Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkSeen(ctx context.Context, conversationID string) (convo.ReadResult, error) {
	var out convo.ReadResult
	err := c.invoke(ctx, "MarkSeen", &ConversationRequest{ConversationID: conversationID}, &out)
	return out, err
}

func (c *Client) Block(ctx context.Context, conversationID string) error {
	return c.invoke(ctx, "Block", &ConversationRequest{ConversationID: conversationID}, &emptypb.Empty{})
}

func (c *Client) Unblock(ctx context.Context, conversationID string) error {
	return c.invoke(ctx, "Unblock", &ConversationRequest{ConversationID: conversationID}, &emptypb.Empty{})
}

func (c *Client) Delete(ctx context.Context, conversationID string) error {
	return c.invoke(ctx, "Delete", &ConversationRequest{ConversationID: conversationID}, &emptypb.Empty{})
}

func (c *Client) Report(ctx context.Context, conversationID, reason string) (*ReportResponse, error) {
	var out ReportResponse
	if err := c.invoke(ctx, "Report", &ReportRequest{ConversationID: conversationID, Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Translate(ctx context.Context, messageID, lang string) (string, error) {
	var out TranslateResponse
	if err := c.invoke(ctx, "Translate", &TranslateRequest{MessageID: messageID, Language: lang}, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) StartConversation(ctx context.Context, listingID, content string) (*StartResponse, error) {
	var out StartResponse
	if err := c.invoke(ctx, "StartConversation", &StartRequest{ListingID: listingID, Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecordInterest(ctx context.Context, listingID string) (*convo.Message, error) {
	var out InterestResponse
	if err := c.invoke(ctx, "RecordInterest", &InterestRequest{ListingID: listingID}, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) PutListing(ctx context.Context, l convo.Listing) error {
	return c.invoke(ctx, "PutListing", &PutListingRequest{Listing: l}, &emptypb.Empty{})
}

func (c *Client) Resolve(ctx context.Context, publicID string) (*convo.Conversation, error) {
	var out ResolveResponse
	if err := c.invoke(ctx, "Resolve", &ResolveRequest{PublicID: publicID}, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.invoke(ctx, "Status", &emptypb.Empty{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchStream receives the events of one Watch call.
type WatchStream struct {
	stream grpc.ClientStream
}

// Watch opens the push channel of a conversation. It returns once the server
// has subscribed, so every event published afterwards reaches Recv.
func (c *Client) Watch(ctx context.Context, conversationID string) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return nil, FromStatus(err)
	}
	if err := stream.SendMsg(&WatchRequest{ConversationID: conversationID}); err != nil {
		return nil, FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, FromStatus(err)
	}
	var first WatchEvent
	if err := stream.RecvMsg(&first); err != nil {
		return nil, FromStatus(err)
	}
	if first.Kind != KindReady {
		return nil, fmt.Errorf("watch: unexpected first event %q", first.Kind)
	}
	return &WatchStream{stream: stream}, nil
}

// Recv blocks for the next event.
func (w *WatchStream) Recv() (*WatchEvent, error) {
	var ev WatchEvent
	if err := w.stream.RecvMsg(&ev); err != nil {
		return nil, FromStatus(err)
	}
	return &ev, nil
}
