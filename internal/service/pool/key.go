package pool

import (
	"errors"
	"fmt"
	"strings"

	"kadmin/internal/session"
)

// DefaultComponent stands in for an omitted key component
const DefaultComponent = "default"

const keyDelimiter = "|"

// ErrInvalidKey is returned for keys that cannot be encoded unambiguously
var ErrInvalidKey = errors.New("invalid pool key")

// Key identifies one pooled session
type Key struct {
	Broker   string
	Registry string
	Topic    string
	Decoder  string
}

// NewKey creates a key, substituting DefaultComponent for empty components
func NewKey(broker, registry, topic, decoder string) Key {
	return Key{
		Broker:   orDefault(broker),
		Registry: orDefault(registry),
		Topic:    topic,
		Decoder:  orDefault(decoder),
	}
}

func orDefault(s string) string {
	if s == "" {
		return DefaultComponent
	}
	return s
}

// String encodes the key as broker|registry|topic|decoder
func (k Key) String() string {
	return strings.Join([]string{k.Broker, k.Registry, k.Topic, k.Decoder}, keyDelimiter)
}

// Validate rejects an empty topic and components containing the delimiter
func (k Key) Validate() error {
	if k.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidKey)
	}
	components := [...]struct{ name, value string }{
		{"broker", k.Broker},
		{"registry", k.Registry},
		{"topic", k.Topic},
		{"decoder", k.Decoder},
	}
	for _, c := range components {
		if strings.Contains(c.value, keyDelimiter) {
			return fmt.Errorf("%w: %s must not contain %q", ErrInvalidKey, c.name, keyDelimiter)
		}
	}
	return nil
}

// ParseKey decodes a key produced by Key.String
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keyDelimiter)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := NewKey(parts[0], parts[1], parts[2], parts[3])
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Matches reports whether the key belongs to topic on broker and registry, whatever its decoder
func (k Key) Matches(broker, registry, topic string) bool {
	return k.Broker == orDefault(broker) && k.Registry == orDefault(registry) && k.Topic == topic
}

// SessionConfig returns the session configuration for the key
func (k Key) SessionConfig() session.Config {
	return session.Config{
		Topic:       k.Topic,
		BrokerURL:   k.Broker,
		RegistryURL: k.Registry,
		KeyDecoder:  "string",
		DecoderID:   k.Decoder,
	}
}
