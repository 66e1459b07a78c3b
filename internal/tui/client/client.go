package client

import (
	"context"
	"fmt"
	"time"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/convo"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon. It is the backend and push
// channel of a sync.Engine.
type Client struct {
	conn     *grpc.ClientConn
	API      *api.Client
	language string
	buffer   int
}

// New dials the daemon's Unix domain socket. token authenticates every call;
// language is the viewer's preferred language for opened threads.
func New(socketPath, token, language string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		api.ClientCodec(),
		api.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, API: api.NewClient(conn), language: language, buffer: 256}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Language is the preferred language sent with Open.
func (c *Client) Language() string { return c.language }

// Probe reports whether a daemon answers on socketPath.
func Probe(socketPath string, timeout time.Duration) bool {
	c, err := New(socketPath, "", "")
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err = c.API.Status(ctx)
	return err == nil
}

func (c *Client) Open(ctx context.Context, conversationID string) (*convo.Snapshot, error) {
	return c.API.Open(ctx, conversationID, c.language)
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (convo.Message, error) {
	res, err := c.API.Send(ctx, conversationID, content)
	if err != nil {
		return convo.Message{}, err
	}
	return res.Message, nil
}

func (c *Client) MarkSeen(ctx context.Context, conversationID string) (convo.ReadResult, error) {
	return c.API.MarkSeen(ctx, conversationID)
}

func (c *Client) Translate(ctx context.Context, messageID, target string) (string, error) {
	return c.API.Translate(ctx, messageID, target)
}

// Subscribe opens the conversation's Watch stream. It returns once the daemon
// has subscribed; the channel closes when the stream ends.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (<-chan intsync.PushEvent, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.API.Watch(ctx, conversationID)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	out := make(chan intsync.PushEvent, c.buffer)
	go func() {
		defer close(out)
		for {
			ev, err := stream.Recv()
			if err != nil {
				return
			}
			select {
			case out <- toPushEvent(ev):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func toPushEvent(ev *api.WatchEvent) intsync.PushEvent {
	pe := intsync.PushEvent{
		Kind:    ev.Kind,
		Receipt: ev.Receipt,
		ActorID: ev.ActorID,
		At:      ev.At,
	}
	if ev.Message != nil {
		pe.Message = *ev.Message
	}
	return pe
}
