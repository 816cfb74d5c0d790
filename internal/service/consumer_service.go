package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kadmin/internal/decoder"
	models "kadmin/internal/model"
	"kadmin/internal/service/pool"
	"kadmin/internal/session"
	"kadmin/pkg/config"
)

// ReadRequest is a read against one topic. Nil fields are unset.
//
// Defaults: Broker and Registry fall back to the configured defaults, then to "default".
// Since wins over Window; with neither every buffered message is returned.
// Size is honored on creation only when 0 < Size < max_request_size, otherwise
// default_buffer_size applies.
type ReadRequest struct {
	Topic     string
	Broker    string
	Registry  string
	DecoderID string
	Since     *int64
	Window    *int64
	Size      *int
}

// TargetRequest names the consumers a clear or kill applies to.
// An empty DecoderID matches every decoder on the topic.
type TargetRequest struct {
	Topic     string
	Broker    string
	Registry  string
	DecoderID string
}

// readParams is a ReadRequest with every default resolved
type readParams struct {
	key      pool.Key
	decoder  *decoder.Decoder
	since    int64
	capacity int
}

// ConsumerService serves reads from pooled consumers and manages their lifecycle
type ConsumerService struct {
	pool     *pool.ConsumerPool
	decoders *decoder.Registry
	factory  session.Factory
	now      func() time.Time
	logger   zerolog.Logger

	mu  sync.RWMutex
	cfg config.ConsumerConfig
}

// NewConsumerService creates a service reading through p
func NewConsumerService(p *pool.ConsumerPool, decoders *decoder.Registry, factory session.Factory, cfg config.ConsumerConfig) *ConsumerService {
	return &ConsumerService{
		pool:     p,
		decoders: decoders,
		factory:  factory,
		now:      time.Now,
		logger:   GetLogger("consumer"),
		cfg:      cfg,
	}
}

// SetClock replaces the clock used for window resolution
func (s *ConsumerService) SetClock(now func() time.Time) {
	s.now = now
}

// UpdateConfig swaps the consumer settings used by later requests
func (s *ConsumerService) UpdateConfig(cfg config.ConsumerConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info().
		Str("default_broker", cfg.DefaultBroker).
		Int("default_buffer_size", cfg.DefaultBufferSize).
		Int("max_request_size", cfg.MaxRequestSize).
		Msg("Consumer settings updated")
}

func (s *ConsumerService) config() config.ConsumerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Read returns the buffered messages of the consumer for req, creating it on first use.
// The page total is the number of messages ingested since the last clear.
func (s *ConsumerService) Read(ctx context.Context, req ReadRequest) (*models.Page[models.MessageView], error) {
	params, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	entry, err := s.pool.GetOrCreate(ctx, params.key, params.capacity, s.sessionFactory(params.decoder))
	if err != nil {
		return nil, mapSessionError(err)
	}

	messages := entry.Handler.Query(params.since)
	views := make([]models.MessageView, 0, len(messages))
	for _, m := range messages {
		decoded, err := params.decoder.Decode(ctx, params.key.Registry, m.Payload)
		if err != nil {
			return nil, NewErrorWithErr(ErrDecodeFailed, fmt.Errorf("offset %d: %w", m.Offset, err))
		}
		views = append(views, toView(m, decoded))
	}

	return models.NewPage(views, entry.Handler.Total()), nil
}

// CountResult is the cheap form of a read: how many buffered messages match, without decoding
type CountResult struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
}

// Count resolves req like Read and counts the matching messages without decoding them.
// It creates the consumer on first use and counts as a use for idle tracking.
func (s *ConsumerService) Count(ctx context.Context, req ReadRequest) (CountResult, error) {
	params, err := s.resolve(req)
	if err != nil {
		return CountResult{}, err
	}

	entry, err := s.pool.GetOrCreate(ctx, params.key, params.capacity, s.sessionFactory(params.decoder))
	if err != nil {
		return CountResult{}, mapSessionError(err)
	}

	return CountResult{
		Count: entry.Handler.Count(params.since),
		Total: entry.Handler.Total(),
	}, nil
}

// resolve validates req and fills in every default; it never touches the pool
func (s *ConsumerService) resolve(req ReadRequest) (readParams, error) {
	if req.DecoderID == "" {
		return readParams{}, NewErrorWithDetail(ErrInvalidParam, "deserializerId is required")
	}
	dec, ok := s.decoders.FindByID(req.DecoderID)
	if !ok {
		return readParams{}, NewErrorWithErr(ErrDecoderNotFound, fmt.Errorf("%w: %q", decoder.ErrDecoderNotFound, req.DecoderID))
	}

	cfg := s.config()
	key := pool.NewKey(
		firstNonEmpty(req.Broker, cfg.DefaultBroker),
		firstNonEmpty(req.Registry, cfg.DefaultRegistry),
		req.Topic,
		dec.ID,
	)
	if err := key.Validate(); err != nil {
		return readParams{}, NewErrorWithErr(ErrInvalidKey, err)
	}

	return readParams{
		key:      key,
		decoder:  dec,
		since:    ResolveSince(req.Since, req.Window, s.now()),
		capacity: ResolveBufferSize(req.Size, cfg.DefaultBufferSize, cfg.MaxRequestSize),
	}, nil
}

// ResolveSince picks the lower bound of a read: since as given, else now minus window seconds, else -1
func ResolveSince(since, window *int64, now time.Time) int64 {
	switch {
	case since != nil:
		return *since
	case window != nil:
		nowMS := now.UnixMilli()
		if *window < 0 {
			return nowMS
		}
		// a window reaching past the epoch covers every buffered message
		if *window > nowMS/1000 {
			return -1
		}
		return nowMS - *window*1000
	default:
		return -1
	}
}

// ResolveBufferSize returns size when 0 < size < maxRequest, otherwise def
func ResolveBufferSize(size *int, def, maxRequest int) int {
	if def <= 0 {
		def = 50
	}
	if maxRequest <= 0 {
		maxRequest = 100
	}
	if size != nil && *size > 0 && *size < maxRequest {
		return *size
	}
	return def
}

// sessionFactory stamps the decoder name into the session config before creation
func (s *ConsumerService) sessionFactory(dec *decoder.Decoder) session.Factory {
	return session.FactoryFunc(func(ctx context.Context, cfg session.Config, deliver session.DeliverFunc) (session.Session, error) {
		cfg.DecoderName = dec.Name
		return s.factory.Create(ctx, cfg, deliver)
	})
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, pool.ErrInvalidKey):
		return NewErrorWithErr(ErrInvalidKey, err)
	case errors.Is(err, session.ErrUnsupportedScheme):
		return NewErrorWithErr(ErrUnsupportedScheme, err)
	case errors.Is(err, session.ErrBrokerUnavailable):
		return NewErrorWithErr(ErrBrokerUnavailable, err)
	case errors.Is(err, pool.ErrPoolClosed):
		return NewErrorWithErr(ErrPoolClosed, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewErrorWithErr(ErrTimeout, err)
	default:
		return NewErrorWithErr(ErrSessionCreate, err)
	}
}

func toView(m models.BufferedMessage, decoded interface{}) models.MessageView {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			headers[k] = string(v)
		}
	}
	return models.MessageView{
		Key:       m.Key,
		WriteTime: m.WriteTime,
		Offset:    m.Offset,
		Partition: m.Partition,
		Topic:     m.Topic,
		Headers:   headers,
		Message:   decoded,
	}
}

// Clear empties the buffers of the targeted consumers, leaving them running
func (s *ConsumerService) Clear(req TargetRequest) bool {
	cleared := false
	for _, key := range s.targets(req) {
		if s.pool.ClearBuffer(key) {
			cleared = true
		}
	}
	s.logger.Info().Str("topic", req.Topic).Bool("cleared", cleared).Msg("Consumer buffers cleared")
	return cleared
}

// Kill shuts the targeted consumers down and removes them from the pool
func (s *ConsumerService) Kill(req TargetRequest) bool {
	killed := false
	for _, key := range s.targets(req) {
		if s.pool.Kill(key) {
			killed = true
		}
	}
	s.logger.Info().Str("topic", req.Topic).Bool("killed", killed).Msg("Consumers killed")
	return killed
}

// KillKey kills the consumer named by a key as reported by ListConsumers
func (s *ConsumerService) KillKey(raw string) (bool, error) {
	key, err := pool.ParseKey(raw)
	if err != nil {
		return false, NewErrorWithErr(ErrInvalidKey, err)
	}
	killed := s.pool.Kill(key)
	s.logger.Info().Str("key", raw).Bool("killed", killed).Msg("Consumer killed by key")
	return killed, nil
}

func (s *ConsumerService) targets(req TargetRequest) []pool.Key {
	cfg := s.config()
	broker := firstNonEmpty(req.Broker, cfg.DefaultBroker)
	registry := firstNonEmpty(req.Registry, cfg.DefaultRegistry)

	if req.DecoderID != "" {
		return []pool.Key{pool.NewKey(broker, registry, req.Topic, req.DecoderID)}
	}

	var keys []pool.Key
	for _, k := range s.pool.Keys() {
		if k.Matches(broker, registry, req.Topic) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ListConsumers describes every pooled consumer without refreshing its idle time.
// LastMessageTime is the write time of the newest buffered message, -1 when the buffer is empty.
func (s *ConsumerService) ListConsumers() *models.Page[models.ConsumerInfo] {
	snaps := s.pool.ListAll()
	infos := make([]models.ConsumerInfo, 0, len(snaps))
	for _, snap := range snaps {
		cfg := snap.Entry.Session.Config()
		h := snap.Entry.Handler
		infos = append(infos, models.ConsumerInfo{
			Key:              snap.Key.String(),
			ConsumerGroupID:  snap.Entry.Session.GroupID(),
			DeserializerID:   snap.Key.Decoder,
			DeserializerName: cfg.DecoderName,
			Topic:            snap.Key.Topic,
			Broker:           snap.Key.Broker,
			Registry:         snap.Key.Registry,
			LastMessageTime:  h.NewestWriteTime(),
			LastUsedTime:     snap.LastAccessed,
			LastReadTime:     h.LastReadTime(),
			QueueSize:        h.Capacity(),
			Buffered:         h.Len(),
			Total:            h.Total(),
		})
	}
	return models.NewPage(infos, int64(len(infos)))
}

// Decoders lists the registered decoders
func (s *ConsumerService) Decoders() []models.DecoderInfo {
	return s.decoders.List()
}

// PoolSize returns the number of live consumers
func (s *ConsumerService) PoolSize() int {
	return s.pool.Len()
}

// Shutdown kills every pooled consumer
func (s *ConsumerService) Shutdown() {
	s.pool.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
