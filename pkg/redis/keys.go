package redis

import "strings"

const (
	keyNamespace      = "of"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	lockPrefix        = "lock"
	throttlePrefix    = "throttle"
	channelPrefix     = "orders"
)

// IdempotencyKey namespaces request, webhook and consumer idempotency records.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

// RateLimitKey namespaces fixed-window counters.
func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

// LockKey namespaces leases such as the reconciliation cron lock.
func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

// ThrottleKey namespaces markers that collapse bursts of work, such as
// browser payment-status polls.
func (c *Client) ThrottleKey(scope, id string) string {
	return buildKey(throttlePrefix, scope, id)
}

// OrderChannel is the pub/sub channel carrying one order's status updates.
func (c *Client) OrderChannel(orderID string) string {
	return buildKey(channelPrefix, orderID)
}

// OrderChannelPattern matches every OrderChannel.
func (c *Client) OrderChannelPattern() string {
	return buildKey(channelPrefix, "*")
}

func buildKey(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}
