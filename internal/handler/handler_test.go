package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kadmin/internal/decoder"
	models "kadmin/internal/model"
	core "kadmin/internal/service"
	"kadmin/internal/service/pool"
	"kadmin/internal/session"
	"kadmin/pkg/config"
)

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type fakeSession struct {
	cfg session.Config
}

func (s *fakeSession) GroupID() string        { return "kadmin-test" }
func (s *fakeSession) Config() session.Config { return s.cfg }
func (s *fakeSession) Shutdown() error        { return nil }

type fakeFactory struct {
	mu       sync.Mutex
	delivers map[string]session.DeliverFunc
}

func (f *fakeFactory) Create(_ context.Context, cfg session.Config, deliver session.DeliverFunc) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivers[cfg.Topic] = deliver
	return &fakeSession{cfg: cfg}, nil
}

func (f *fakeFactory) deliver(topic string, value string) {
	f.mu.Lock()
	d := f.delivers[topic]
	f.mu.Unlock()
	d(models.Record{Topic: topic, Value: []byte(value), Offset: 1})
}

type fakeBreakers struct{}

func (fakeBreakers) BreakerState(string) string { return "closed" }

func setupTestRouter(t *testing.T, auth *core.Authenticator) (*gin.Engine, *fakeFactory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	schemas, err := decoder.NewSchemaCache(8, time.Second)
	require.NoError(t, err)

	p := pool.New()
	f := &fakeFactory{delivers: make(map[string]session.DeliverFunc)}
	svc := core.NewConsumerService(p, decoder.NewDefaultRegistry(schemas), f, config.ConsumerConfig{
		DefaultBroker:     "kafka://localhost:9092",
		DefaultBufferSize: 50,
		MaxRequestSize:    100,
	})
	sweeper := core.NewSweeper(p, time.Hour, 15*time.Minute)
	t.Cleanup(svc.Shutdown)

	if auth == nil {
		auth = core.NewAuthenticator("", "kadmin", "", time.Hour)
	}

	r := gin.New()
	SetupRouter(r, &Dependencies{
		Consumers: svc,
		Sweeper:   sweeper,
		Auth:      auth,
		Breakers:  fakeBreakers{},
	})
	return r, f
}

func doRequest(r http.Handler, method, target, body, token string) (*httptest.ResponseRecorder, apiResponse) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestDeserializers(t *testing.T) {
	r, _ := setupTestRouter(t, nil)

	w, resp := doRequest(r, http.MethodGet, "/api/deserializers", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []models.DecoderInfo
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	ids := make([]string, 0, len(list))
	for _, d := range list {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"avro", "base64", "json", "string"}, ids)
}

func TestRead_Validation(t *testing.T) {
	r, _ := setupTestRouter(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		code   core.ErrorCode
	}{
		{"missing deserializer", "/api/kafka/read/orders", http.StatusBadRequest, core.ErrInvalidParam},
		{"unknown deserializer", "/api/kafka/read/orders?deserializerId=protobuf", http.StatusNotFound, core.ErrDecoderNotFound},
		{"bad since", "/api/kafka/read/orders?deserializerId=string&since=yesterday", http.StatusBadRequest, core.ErrInvalidParam},
		{"bad size", "/api/kafka/read/orders?deserializerId=string&size=ten", http.StatusBadRequest, core.ErrInvalidParam},
		{"negative window", "/api/kafka/read/orders?deserializerId=string&window=-1", http.StatusBadRequest, core.ErrInvalidParam},
		{"delimiter in topic", "/api/kafka/read/a%7Cb?deserializerId=string", http.StatusBadRequest, core.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doRequest(r, http.MethodGet, tt.target, "", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, int(tt.code), resp.Code)
		})
	}
}

func TestRead_ReturnsBufferedMessages(t *testing.T) {
	r, f := setupTestRouter(t, nil)

	w, resp := doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page models.Page[models.MessageView]
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Empty(t, page.Content)
	assert.Equal(t, int64(0), page.TotalElements)

	f.deliver("orders", "hello")
	f.deliver("orders", "world")

	w, resp = doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Content, 2)
	assert.Equal(t, "hello", page.Content[0].Message)
	assert.Equal(t, "world", page.Content[1].Message)
	assert.Equal(t, int64(2), page.TotalElements)

	future := time.Now().Add(time.Hour).UnixMilli()
	w, resp = doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string&since="+strconv.FormatInt(future, 10), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Empty(t, page.Content)
	assert.Equal(t, int64(2), page.TotalElements)
}

func TestClearAndKill(t *testing.T) {
	r, f := setupTestRouter(t, nil)

	doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")
	f.deliver("orders", "hello")

	w, resp := doRequest(r, http.MethodDelete, "/api/kafka/read/orders", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cleared":true}`, string(resp.Data))

	w, resp = doRequest(r, http.MethodDelete, "/api/avro/read/orders/kill?deserializerId=string", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":true}`, string(resp.Data))

	w, resp = doRequest(r, http.MethodDelete, "/api/kafka/read/orders/kill", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":false}`, string(resp.Data))
}

func TestManagerEndpoints(t *testing.T) {
	r, _ := setupTestRouter(t, nil)
	doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=json", "", "")

	w, resp := doRequest(r, http.MethodGet, "/api/manager/consumers", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page models.Page[models.ConsumerInfo]
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, "orders", page.Content[0].Topic)
	assert.Equal(t, "json", page.Content[0].DeserializerID)
	assert.Equal(t, "JSON", page.Content[0].DeserializerName)
	assert.Equal(t, "kafka://localhost:9092", page.Content[0].Broker)

	w, resp = doRequest(r, http.MethodGet, "/api/manager/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		PoolSize int               `json:"pool_size"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.PoolSize)
	assert.Equal(t, "closed", stats.Breakers["kafka://localhost:9092"])

	w, resp = doRequest(r, http.MethodPost, "/api/manager/sweep", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report core.SweepReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.True(t, report.Manual)
	assert.Empty(t, report.Evicted)
}

func TestHealth(t *testing.T) {
	r, _ := setupTestRouter(t, nil)

	w, resp := doRequest(r, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Contains(t, string(resp.Data), `"status"`)
}

func TestAuth_ProtectsMutations(t *testing.T) {
	hash, err := core.HashPassword("hunter2")
	require.NoError(t, err)
	r, _ := setupTestRouter(t, core.NewAuthenticator("secret", "kadmin", hash, time.Hour))

	w, resp := doRequest(r, http.MethodDelete, "/api/kafka/read/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int(core.ErrUnauthorized), resp.Code)

	w, _ = doRequest(r, http.MethodDelete, "/api/kafka/read/orders", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doRequest(r, http.MethodPost, "/api/auth/login", `{"username":"ops","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = doRequest(r, http.MethodPost, "/api/auth/login", `{"username":"ops","password":"hunter2"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	require.NotEmpty(t, login.AccessToken)

	w, _ = doRequest(r, http.MethodDelete, "/api/kafka/read/orders", "", login.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	// reads stay open
	w, _ = doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_NotConfigured(t *testing.T) {
	r, _ := setupTestRouter(t, nil)

	w, _ := doRequest(r, http.MethodPost, "/api/auth/login", `{"username":"ops","password":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTail_StreamsNewMessages(t *testing.T) {
	r, f := setupTestRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/kafka/tail/orders?deserializerId=string&interval=200ms"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frameBody struct {
		Type   string               `json:"type"`
		Data   []models.MessageView `json:"data"`
		Cursor int64                `json:"cursor"`
	}
	var frame frameBody
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "messages", frame.Type)
	assert.Empty(t, frame.Data)

	f.deliver("orders", "hello")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame = frameBody{}
		require.NoError(t, conn.ReadJSON(&frame))
		if len(frame.Data) > 0 {
			break
		}
	}
	require.Len(t, frame.Data, 1)
	assert.Equal(t, "hello", frame.Data[0].Message)
	assert.Equal(t, frame.Data[0].WriteTime, frame.Cursor)

	// later frames only carry messages past the cursor
	cursor := frame.Cursor
	frame = frameBody{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Empty(t, frame.Data)
	assert.Equal(t, cursor, frame.Cursor)
}

func TestParseInterval(t *testing.T) {
	d, err := parseInterval("")
	require.NoError(t, err)
	assert.Equal(t, defaultTailInterval, d)

	d, err = parseInterval("1500")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseInterval("10ms")
	require.NoError(t, err)
	assert.Equal(t, minTailInterval, d)

	_, err = parseInterval("soon")
	assert.Error(t, err)
}

func TestRead_HugeWindowReturnsEverything(t *testing.T) {
	r, f := setupTestRouter(t, nil)
	doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")
	f.deliver("orders", "hello")

	w, resp := doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string&window=9223372036854775807", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))

	var page models.Page[models.MessageView]
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, "hello", page.Content[0].Message)
}

func TestCountEndpoint(t *testing.T) {
	r, f := setupTestRouter(t, nil)
	doRequest(r, http.MethodGet, "/api/kafka/count/orders?deserializerId=string", "", "")
	f.deliver("orders", "a")
	f.deliver("orders", "b")

	w, resp := doRequest(r, http.MethodGet, "/api/kafka/count/orders?deserializerId=string", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2,"total":2}`, string(resp.Data))

	w, _ = doRequest(r, http.MethodGet, "/api/kafka/count/orders", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKillConsumerByKey(t *testing.T) {
	r, _ := setupTestRouter(t, nil)
	doRequest(r, http.MethodGet, "/api/kafka/read/orders?deserializerId=string", "", "")

	_, resp := doRequest(r, http.MethodGet, "/api/manager/consumers", "", "")
	var page models.Page[models.ConsumerInfo]
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Content, 1)

	target := "/api/manager/consumers?key=" + url.QueryEscape(page.Content[0].Key)
	w, resp := doRequest(r, http.MethodDelete, target, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":true}`, string(resp.Data))

	w, resp = doRequest(r, http.MethodDelete, target, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":false}`, string(resp.Data))

	w, resp = doRequest(r, http.MethodDelete, "/api/manager/consumers?key=orders", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int(core.ErrInvalidKey), resp.Code)

	w, _ = doRequest(r, http.MethodDelete, "/api/manager/consumers", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
