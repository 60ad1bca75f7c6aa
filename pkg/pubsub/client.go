package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
	ErrTopicNotSet       = errors.New("pubsub topic not configured")
)

// Client wraps the Pub/Sub v2 client. Publishers are cached per topic with
// message ordering on, so events that share an ordering key (the order id)
// reach subscribers in publish order.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{client: raw, projectID: projectID, cfg: cfg, publishers: map[string]*pubsub.Publisher{}}

	if cfg.VerifySubscriptionsOnBoot {
		if err := c.Ping(ctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}
	logg.Info(logg.WithField(ctx, "project", projectID), "pubsub client ready")
	return c, nil
}

// Ping checks that every configured subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	var missing []error
	for _, name := range subscriptionNames(c.cfg) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.resource("subscriptions", name),
		})
		if err != nil {
			missing = append(missing, describe("subscription", name, err))
		}
	}
	return errors.Join(missing...)
}

// PingTopic checks that the orders topic exists.
func (c *Client) PingTopic(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(c.cfg.OrdersTopic) == "" {
		return ErrTopicNotSet
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: c.resource("topics", c.cfg.OrdersTopic),
	})
	if err != nil {
		return describe("topic", c.cfg.OrdersTopic, err)
	}
	return nil
}

func describe(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("%s %q: %w", kind, name, err)
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.RealtimeSubscription, cfg.NotificationSubscription, cfg.AnalyticsSubscription} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Publish sends one message and waits for the server ack. A failed publish
// pauses its ordering key inside the client library; it is resumed here so
// the caller's retry can go through.
func (c *Client) Publish(ctx context.Context, topic, orderingKey string, data []byte, attrs map[string]string) error {
	p := c.publisher(topic)
	if p == nil {
		return ErrTopicNotSet
	}
	_, err := p.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: orderingKey}).Get(ctx)
	if err != nil && orderingKey != "" {
		p.ResumePublish(orderingKey)
	}
	return err
}

func (c *Client) publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil || strings.TrimSpace(topic) == "" {
		return nil
	}
	name := c.resource("topics", topic)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.client.Publisher(name)
	p.EnableMessageOrdering = true
	c.publishers[name] = p
	return p
}

// Subscriber returns a handle with flow control from config, or nil when
// name is blank.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	s := c.client.Subscriber(c.resource("subscriptions", name))
	if c.cfg.ReceiveMaxOutstanding > 0 {
		s.ReceiveSettings.MaxOutstandingMessages = c.cfg.ReceiveMaxOutstanding
	}
	return s
}

func (c *Client) RealtimeSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.RealtimeSubscription)
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.NotificationSubscription)
}

func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.AnalyticsSubscription)
}

// Close flushes cached publishers before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.publishers {
		p.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

// resource accepts a short id or a full "projects/.../<kind>/..." name.
func (c *Client) resource(kind, name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, name)
}
