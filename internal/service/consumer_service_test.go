package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kadmin/internal/decoder"
	models "kadmin/internal/model"
	"kadmin/internal/service/pool"
	"kadmin/internal/session"
	"kadmin/pkg/config"
)

type stubSession struct {
	cfg     session.Config
	deliver session.DeliverFunc
	stopped atomic.Bool
}

func (s *stubSession) GroupID() string        { return "kadmin-" + s.cfg.Topic }
func (s *stubSession) Config() session.Config { return s.cfg }
func (s *stubSession) Shutdown() error {
	s.stopped.Store(true)
	return nil
}

type stubFactory struct {
	mu       sync.Mutex
	sessions map[string]*stubSession
	calls    atomic.Int32
	err      error
}

func newStubFactory() *stubFactory {
	return &stubFactory{sessions: make(map[string]*stubSession)}
}

func (f *stubFactory) Create(_ context.Context, cfg session.Config, deliver session.DeliverFunc) (session.Session, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	s := &stubSession{cfg: cfg, deliver: deliver}
	f.mu.Lock()
	f.sessions[cfg.Topic+"/"+cfg.DecoderID] = s
	f.mu.Unlock()
	return s, nil
}

func (f *stubFactory) get(topic, decoderID string) *stubSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[topic+"/"+decoderID]
}

type testClock struct {
	ms atomic.Int64
}

func (c *testClock) now() time.Time { return time.UnixMilli(c.ms.Load()) }

func newTestService(t *testing.T) (*ConsumerService, *stubFactory, *pool.ConsumerPool, *testClock) {
	t.Helper()
	clock := &testClock{}
	clock.ms.Store(1_000_000)

	schemas, err := decoder.NewSchemaCache(8, time.Second)
	require.NoError(t, err)
	p := pool.New(pool.WithClock(clock.now))
	f := newStubFactory()
	svc := NewConsumerService(p, decoder.NewDefaultRegistry(schemas), f, config.ConsumerConfig{
		DefaultBroker:     "localhost:9092",
		DefaultBufferSize: 50,
		MaxRequestSize:    100,
	})
	svc.SetClock(clock.now)
	return svc, f, p, clock
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestResolveSince(t *testing.T) {
	now := time.UnixMilli(100_000)
	assert.Equal(t, int64(42), ResolveSince(int64Ptr(42), int64Ptr(10), now))
	assert.Equal(t, int64(90_000), ResolveSince(nil, int64Ptr(10), now))
	assert.Equal(t, int64(-1), ResolveSince(nil, nil, now))
}

func TestResolveSince_ExtremeWindows(t *testing.T) {
	now := time.UnixMilli(100_000)
	assert.Equal(t, int64(0), ResolveSince(nil, int64Ptr(100), now))
	assert.Equal(t, int64(-1), ResolveSince(nil, int64Ptr(101), now))
	assert.Equal(t, int64(-1), ResolveSince(nil, int64Ptr(math.MaxInt64), now))
	assert.Equal(t, int64(100_000), ResolveSince(nil, int64Ptr(-5), now))
}

func TestResolveBufferSize(t *testing.T) {
	assert.Equal(t, 50, ResolveBufferSize(nil, 50, 100))
	assert.Equal(t, 20, ResolveBufferSize(intPtr(20), 50, 100))
	assert.Equal(t, 99, ResolveBufferSize(intPtr(99), 50, 100))
	assert.Equal(t, 50, ResolveBufferSize(intPtr(100), 50, 100))
	assert.Equal(t, 50, ResolveBufferSize(intPtr(0), 50, 100))
	assert.Equal(t, 50, ResolveBufferSize(intPtr(-3), 50, 100))
}

func TestRead_UnknownDecoderCreatesNothing(t *testing.T) {
	svc, f, p, _ := newTestService(t)

	_, err := svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "nonexistent"})
	require.Error(t, err)
	appErr := GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrDecoderNotFound, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus())
	assert.ErrorIs(t, err, decoder.ErrDecoderNotFound)

	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestRead_MissingDecoderIsBadRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Read(context.Background(), ReadRequest{Topic: "orders"})
	assert.Equal(t, ErrInvalidParam, GetAppError(err).Code)
}

func TestRead_InvalidKey(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Read(context.Background(), ReadRequest{Topic: "a|b", DecoderID: "string"})
	assert.Equal(t, ErrInvalidKey, GetAppError(err).Code)
}

func TestRead_CreatesOnceAndWindows(t *testing.T) {
	svc, f, p, clock := newTestService(t)
	ctx := context.Background()
	req := ReadRequest{Topic: "orders", DecoderID: "json", Size: intPtr(10)}

	page, err := svc.Read(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, page.Content)
	assert.Equal(t, int64(0), page.TotalElements)

	s := f.get("orders", "json")
	require.NotNil(t, s)
	assert.Equal(t, "localhost:9092", s.cfg.BrokerURL)
	assert.Equal(t, "JSON", s.cfg.DecoderName)

	for i := int64(1); i <= 15; i++ {
		clock.ms.Store(2_000_000 + i)
		s.deliver(models.Record{Key: "k", Value: []byte(`{"n":1}`), Topic: "orders", Offset: i})
	}

	page, err = svc.Read(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.Content, 10)
	assert.Equal(t, int64(15), page.TotalElements)
	assert.Equal(t, int64(6), page.Content[0].Offset)
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, page.Content[0].Message)

	req.Since = int64Ptr(2_000_012)
	page, err = svc.Read(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.Content, 3)

	// window of 1s back from the last delivery covers everything buffered
	req.Since = nil
	req.Window = int64Ptr(1)
	page, err = svc.Read(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.Content, 10)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, p.Len())
}

func TestRead_DecodeFailure(t *testing.T) {
	svc, f, _, _ := newTestService(t)
	ctx := context.Background()
	req := ReadRequest{Topic: "orders", DecoderID: "json"}

	_, err := svc.Read(ctx, req)
	require.NoError(t, err)
	f.get("orders", "json").deliver(models.Record{Value: []byte("not json")})

	_, err = svc.Read(ctx, req)
	assert.Equal(t, ErrDecodeFailed, GetAppError(err).Code)

	// the buffer is left as it was
	info := svc.ListConsumers().Content[0]
	assert.Equal(t, 1, info.Buffered)
	assert.Equal(t, int64(1), info.Total)
}

func TestRead_SessionErrors(t *testing.T) {
	svc, f, _, _ := newTestService(t)

	f.err = errors.New("dial tcp: refused")
	_, err := svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "string"})
	assert.Equal(t, ErrSessionCreate, GetAppError(err).Code)
	assert.Equal(t, 503, GetAppError(err).HTTPStatus())

	f.err = session.ErrBrokerUnavailable
	_, err = svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "string"})
	assert.Equal(t, ErrBrokerUnavailable, GetAppError(err).Code)

	f.err = session.ErrUnsupportedScheme
	_, err = svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "string"})
	assert.Equal(t, ErrUnsupportedScheme, GetAppError(err).Code)
}

func TestClearAndKill(t *testing.T) {
	svc, f, p, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"json", "string"} {
		_, err := svc.Read(ctx, ReadRequest{Topic: "orders", DecoderID: id})
		require.NoError(t, err)
	}
	_, err := svc.Read(ctx, ReadRequest{Topic: "payments", DecoderID: "json"})
	require.NoError(t, err)

	f.get("orders", "json").deliver(models.Record{Value: []byte("{}")})
	f.get("orders", "string").deliver(models.Record{Value: []byte("x")})

	assert.False(t, svc.Clear(TargetRequest{Topic: "missing"}))
	assert.True(t, svc.Clear(TargetRequest{Topic: "orders"}))
	for _, e := range p.ListAll() {
		assert.Equal(t, int64(0), e.Entry.Handler.Total())
	}

	assert.True(t, svc.Kill(TargetRequest{Topic: "orders", DecoderID: "json"}))
	assert.True(t, f.get("orders", "json").stopped.Load())
	assert.False(t, f.get("orders", "string").stopped.Load())
	assert.Equal(t, 2, p.Len())

	assert.True(t, svc.Kill(TargetRequest{Topic: "orders"}))
	assert.False(t, svc.Kill(TargetRequest{Topic: "orders"}))
	assert.Equal(t, 1, p.Len())
}

func TestListConsumers(t *testing.T) {
	svc, f, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Read(ctx, ReadRequest{Topic: "orders", DecoderID: "string", Size: intPtr(20)})
	require.NoError(t, err)

	page := svc.ListConsumers()
	require.Len(t, page.Content, 1)
	info := page.Content[0]
	assert.Equal(t, int64(-1), info.LastMessageTime)
	assert.Equal(t, 20, info.QueueSize)

	s := f.get("orders", "string")
	clock.ms.Store(3_000_001)
	s.deliver(models.Record{Value: []byte("a")})
	clock.ms.Store(3_000_002)
	s.deliver(models.Record{Value: []byte("b")})
	clock.ms.Store(4_000_000)

	info = svc.ListConsumers().Content[0]
	assert.Equal(t, "kadmin-orders", info.ConsumerGroupID)
	assert.Equal(t, "string", info.DeserializerID)
	assert.Equal(t, "String", info.DeserializerName)
	assert.Equal(t, "orders", info.Topic)
	assert.Equal(t, int64(3_000_002), info.LastMessageTime)
	assert.Equal(t, int64(1_000_000), info.LastUsedTime)
	assert.Equal(t, int64(2), info.Total)
	assert.Equal(t, 2, info.Buffered)
	assert.Equal(t, int64(1), page.TotalElements)
}

func TestShutdownKillsEverything(t *testing.T) {
	svc, f, _, _ := newTestService(t)
	_, err := svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "string"})
	require.NoError(t, err)

	svc.Shutdown()
	assert.True(t, f.get("orders", "string").stopped.Load())
	assert.Equal(t, 0, svc.PoolSize())
}

func TestCount_MatchesReadWithoutDecoding(t *testing.T) {
	svc, f, _, clock := newTestService(t)
	ctx := context.Background()
	req := ReadRequest{Topic: "orders", DecoderID: "json"}

	res, err := svc.Count(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CountResult{}, res)

	sess := f.get("orders", "json")
	sess.deliver(models.Record{Value: []byte("not json")})
	clock.ms.Add(1_000)
	sess.deliver(models.Record{Value: []byte("{}")})

	res, err = svc.Count(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CountResult{Count: 2, Total: 2}, res)

	req.Since = int64Ptr(1_000_000)
	res, err = svc.Count(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CountResult{Count: 1, Total: 2}, res)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestKillKey(t *testing.T) {
	svc, f, p, _ := newTestService(t)
	_, err := svc.Read(context.Background(), ReadRequest{Topic: "orders", DecoderID: "string"})
	require.NoError(t, err)

	key := svc.ListConsumers().Content[0].Key
	killed, err := svc.KillKey(key)
	require.NoError(t, err)
	assert.True(t, killed)
	assert.True(t, f.get("orders", "string").stopped.Load())
	assert.Equal(t, 0, p.Len())

	killed, err = svc.KillKey(key)
	require.NoError(t, err)
	assert.False(t, killed)

	_, err = svc.KillKey("orders")
	assert.Equal(t, ErrInvalidKey, GetAppError(err).Code)
}
