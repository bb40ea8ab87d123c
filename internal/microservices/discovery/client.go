package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"opendavinci/internal/microservices/udp"
)

// DefaultRetryInterval is how long a client waits before re-sending DISCOVER.
const DefaultRetryInterval = 500 * time.Millisecond

// Client finds the supercomponent for a module.
type Client struct {
	Group string
	Port  int
	// ReplyPort is the local port answers are sent to; 0 picks a free one.
	ReplyPort     int
	RetryInterval time.Duration
	logger        *slog.Logger
}

// NewClient creates a client sending requests to group:port.
func NewClient(group string, port int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Group:         group,
		Port:          port,
		RetryInterval: DefaultRetryInterval,
		logger:        logger.With("component", "discovery-client"),
	}
}

// Discover requests the supercomponent for module and blocks until an answer
// arrives or ctx is done.
func (c *Client) Discover(ctx context.Context, module string) (*DiscoverMessage, error) {
	return c.DiscoverAs(ctx, module, "")
}

// DiscoverAs is Discover with a declared identifier.
func (c *Client) DiscoverAs(ctx context.Context, module, identifier string) (*DiscoverMessage, error) {
	replies, err := udp.NewReceiver("0.0.0.0", c.ReplyPort, c.logger)
	if err != nil {
		return nil, err
	}
	defer replies.Stop()

	answers := make(chan *DiscoverMessage, 1)
	replies.SetListener(udp.PacketListenerFunc(func(data []byte, from *net.UDPAddr) {
		msg, err := ParseDiscoverMessage(data)
		if err != nil || msg.Type != MessageResponse || msg.Module != module {
			return
		}
		if identifier != "" && msg.Identifier != identifier {
			return
		}
		select {
		case answers <- msg:
		default:
		}
	}))
	if err := replies.Start(); err != nil {
		return nil, err
	}

	sender, err := udp.NewSender(c.Group, c.Port)
	if err != nil {
		return nil, err
	}
	defer sender.Close()

	request := &DiscoverMessage{
		Type:       MessageDiscover,
		Module:     module,
		Identifier: identifier,
		ReplyPort:  replies.LocalAddr().Port,
	}
	payload, err := request.ToJSON()
	if err != nil {
		return nil, err
	}

	interval := c.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := sender.Send(payload); err != nil {
			c.logger.Warn("discover_send_failed", "module", module, "attempt", attempt, "error", err)
		}
		select {
		case msg := <-answers:
			c.logger.Info("supercomponent_discovered", "module", module,
				"identifier", msg.Identifier, "server", msg.Server.String())
			return msg, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("discover %s after %d attempts: %w", module, attempt, ctx.Err())
		case <-ticker.C:
		}
	}
}
