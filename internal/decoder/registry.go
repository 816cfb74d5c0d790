// Package decoder turns raw record payloads into values that can be rendered as JSON.
package decoder

import (
	"context"
	"errors"
	"sort"
	"sync"

	models "kadmin/internal/model"
)

// ErrDecoderNotFound is returned when a decoder id is not registered
var ErrDecoderNotFound = errors.New("decoder not found")

// DecodeFunc decodes one payload. registryURL is the schema registry the session was opened with.
type DecodeFunc func(ctx context.Context, registryURL string, payload []byte) (interface{}, error)

// Decoder is a named payload decoder
type Decoder struct {
	ID     string
	Name   string
	Decode DecodeFunc
}

// Registry holds the decoders available to read requests
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]*Decoder
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]*Decoder)}
}

// NewDefaultRegistry creates a registry with the built-in decoders registered
func NewDefaultRegistry(schemas *SchemaCache) *Registry {
	r := NewRegistry()
	r.Register(StringDecoder())
	r.Register(JSONDecoder())
	r.Register(Base64Decoder())
	r.Register(AvroDecoder(schemas))
	return r
}

// Register adds d, replacing a decoder with the same id
func (r *Registry) Register(d *Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[d.ID] = d
}

// FindByID returns the decoder registered under id
func (r *Registry) FindByID(id string) (*Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[id]
	return d, ok
}

// List returns every registered decoder ordered by id
func (r *Registry) List() []models.DecoderInfo {
	r.mu.RLock()
	out := make([]models.DecoderInfo, 0, len(r.decoders))
	for _, d := range r.decoders {
		out = append(out, models.DecoderInfo{ID: d.ID, Name: d.Name})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
