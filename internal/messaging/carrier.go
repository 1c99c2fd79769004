package messaging

import (
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = (*MessageCarrier)(nil)

// MessageCarrier exposes Kafka message headers to OpenTelemetry propagators.
// Header names match case-insensitively; producers in other stacks are not
// consistent about casing traceparent.
type MessageCarrier struct {
	msg *kafka.Message
}

func NewMessageCarrier(msg *kafka.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

func (c *MessageCarrier) index(key string) int {
	for i, h := range c.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return i
		}
	}
	return -1
}

func (c *MessageCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c.msg.Headers[i].Value)
	}
	return ""
}

// Set overwrites the first header named key or appends a new one.
func (c *MessageCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		c.msg.Headers[i].Value = []byte(value)
		return
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	seen := make(map[string]bool, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		k := strings.ToLower(h.Key)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, h.Key)
	}
	return keys
}

// ContentType returns the payload encoding announced by the producer.
func (c *MessageCarrier) ContentType() string {
	return c.Get(headerContentType)
}
