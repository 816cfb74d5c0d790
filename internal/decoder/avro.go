package decoder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hamba/avro/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Confluent wire format: magic byte 0, big endian schema id, avro binary body
const (
	avroMagicByte  = 0
	avroHeaderSize = 5
)

// ErrNoRegistry is returned when an avro payload is read without a schema registry
var ErrNoRegistry = errors.New("schema registry url is required for avro")

// SchemaCache fetches avro schemas by id from a confluent-compatible registry and keeps them in an LRU
type SchemaCache struct {
	client *http.Client
	cache  *lru.Cache[string, avro.Schema]
}

// NewSchemaCache creates a cache holding up to size parsed schemas
func NewSchemaCache(size int, timeout time.Duration) (*SchemaCache, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, avro.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &SchemaCache{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}, nil
}

// Len returns the number of cached schemas
func (c *SchemaCache) Len() int {
	return c.cache.Len()
}

// Get returns the schema registered under id, fetching it on a miss
func (c *SchemaCache) Get(ctx context.Context, registryURL string, id uint32) (avro.Schema, error) {
	base := strings.TrimRight(registryURL, "/")
	cacheKey := fmt.Sprintf("%s#%d", base, id)
	if schema, ok := c.cache.Get(cacheKey); ok {
		return schema, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/schemas/ids/%d", base, id), nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.schemaregistry.v1+json, application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schema %d: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read schema %d: %w", id, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schema %d: registry returned %d", id, resp.StatusCode)
	}

	var payload struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse registry response: %w", err)
	}
	schema, err := avro.Parse(payload.Schema)
	if err != nil {
		return nil, fmt.Errorf("parse schema %d: %w", id, err)
	}

	c.cache.Add(cacheKey, schema)
	log.Debug().
		Str("component", "decoder").
		Str("registry", base).
		Uint32("schema_id", id).
		Msg("Avro schema cached")
	return schema, nil
}

// AvroDecoder decodes confluent-framed avro payloads using schemas from the session's registry
func AvroDecoder(schemas *SchemaCache) *Decoder {
	return &Decoder{
		ID:   "avro",
		Name: "Avro (Schema Registry)",
		Decode: func(ctx context.Context, registryURL string, payload []byte) (interface{}, error) {
			if len(payload) == 0 {
				return nil, nil
			}
			if len(payload) < avroHeaderSize || payload[0] != avroMagicByte {
				return nil, errors.New("avro decode: payload is not in schema registry wire format")
			}
			if registryURL == "" || registryURL == "default" {
				return nil, ErrNoRegistry
			}

			id := binary.BigEndian.Uint32(payload[1:avroHeaderSize])
			schema, err := schemas.Get(ctx, registryURL, id)
			if err != nil {
				return nil, fmt.Errorf("avro decode: %w", err)
			}

			var v interface{}
			if err := avro.Unmarshal(schema, payload[avroHeaderSize:], &v); err != nil {
				return nil, fmt.Errorf("avro decode: %w", err)
			}
			return v, nil
		},
	}
}
