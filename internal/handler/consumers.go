package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	core "kadmin/internal/service"
)

const (
	defaultTailInterval = time.Second
	minTailInterval     = 200 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConsumerHandler serves the topic read, clear, kill and tail endpoints
type ConsumerHandler struct {
	svc *core.ConsumerService
}

// NewConsumerHandler creates a ConsumerHandler
func NewConsumerHandler(svc *core.ConsumerService) *ConsumerHandler {
	return &ConsumerHandler{svc: svc}
}

// Read GET /api/kafka/read/:topic
func (h *ConsumerHandler) Read(c *gin.Context) {
	req, err := bindReadRequest(c)
	if err != nil {
		core.HandleError(c, err)
		return
	}

	page, err := h.svc.Read(c.Request.Context(), req)
	if err != nil {
		logger := core.WithRequestID(c)
		logger.Warn().Err(err).Str("topic", req.Topic).Msg("Read failed")
		core.HandleError(c, err)
		return
	}

	core.SuccessPage(c, page)
}

// Count GET /api/kafka/count/:topic
func (h *ConsumerHandler) Count(c *gin.Context) {
	req, err := bindReadRequest(c)
	if err != nil {
		core.HandleError(c, err)
		return
	}

	result, err := h.svc.Count(c.Request.Context(), req)
	if err != nil {
		core.HandleError(c, err)
		return
	}

	core.Success(c, result)
}

// Clear DELETE /api/kafka/read/:topic
func (h *ConsumerHandler) Clear(c *gin.Context) {
	cleared := h.svc.Clear(bindTargetRequest(c))
	core.Success(c, gin.H{"cleared": cleared})
}

// Kill DELETE /api/kafka/read/:topic/kill
func (h *ConsumerHandler) Kill(c *gin.Context) {
	killed := h.svc.Kill(bindTargetRequest(c))
	core.Success(c, gin.H{"killed": killed})
}

// Decoders GET /api/deserializers
func (h *ConsumerHandler) Decoders(c *gin.Context) {
	core.Success(c, h.svc.Decoders())
}

// tailFrame is one websocket push
type tailFrame struct {
	Type     string      `json:"type"`
	Data     interface{} `json:"data,omitempty"`
	Total    int64       `json:"total,omitempty"`
	Message  string      `json:"message,omitempty"`
	Code     int         `json:"code,omitempty"`
	Cursor   int64       `json:"cursor"`
	PolledAt int64       `json:"polled_at"`
}

// Tail GET /api/kafka/tail/:topic
// Upgrades to a websocket and pushes messages newer than the last one sent.
// Each poll is a normal read, so it keeps the consumer alive while the socket is open.
func (h *ConsumerHandler) Tail(c *gin.Context) {
	req, err := bindReadRequest(c)
	if err != nil {
		core.HandleError(c, err)
		return
	}
	interval, err := parseInterval(c.Query("interval"))
	if err != nil {
		core.HandleError(c, err)
		return
	}

	logger := core.WithRequestID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// reader goroutine detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cursor := core.ResolveSince(req.Since, req.Window, time.Now())
	req.Window = nil

	logger.Info().Str("topic", req.Topic).Dur("interval", interval).Msg("Tail started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req.Since = &cursor
		frame := tailFrame{Type: "messages", PolledAt: time.Now().UnixMilli()}

		page, err := h.svc.Read(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			frame.Type = "error"
			frame.Message = err.Error()
			if appErr := core.GetAppError(err); appErr != nil {
				frame.Code = int(appErr.Code)
			}
		} else {
			for _, m := range page.Content {
				if m.WriteTime > cursor {
					cursor = m.WriteTime
				}
			}
			frame.Data = page.Content
			frame.Total = page.TotalElements
		}
		frame.Cursor = cursor

		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("Tail write failed")
			return
		}

		select {
		case <-ctx.Done():
			logger.Info().Str("topic", req.Topic).Msg("Tail closed")
			return
		case <-ticker.C:
		}
	}
}

// bindReadRequest builds a read from the path and query; malformed numbers are rejected
func bindReadRequest(c *gin.Context) (core.ReadRequest, error) {
	req := core.ReadRequest{
		Topic:     c.Param("topic"),
		Broker:    c.Query("kafkaUrl"),
		Registry:  c.Query("schemaUrl"),
		DecoderID: c.Query("deserializerId"),
	}

	var err error
	if req.Since, err = optionalInt64(c, "since"); err != nil {
		return req, err
	}
	if req.Window, err = optionalInt64(c, "window"); err != nil {
		return req, err
	}
	if req.Window != nil && *req.Window < 0 {
		return req, core.NewErrorWithDetail(core.ErrInvalidParam, "window must not be negative")
	}
	size, err := optionalInt64(c, "size")
	if err != nil {
		return req, err
	}
	if size != nil {
		n := int(*size)
		req.Size = &n
	}
	return req, nil
}

func bindTargetRequest(c *gin.Context) core.TargetRequest {
	return core.TargetRequest{
		Topic:     c.Param("topic"),
		Broker:    c.Query("kafkaUrl"),
		Registry:  c.Query("schemaUrl"),
		DecoderID: c.Query("deserializerId"),
	}
}

func optionalInt64(c *gin.Context, name string) (*int64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, core.NewErrorWithDetail(core.ErrInvalidParam, name+" must be an integer")
	}
	return &v, nil
}

func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultTailInterval, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		ms, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			return 0, core.NewErrorWithDetail(core.ErrInvalidParam, "interval must be a duration or milliseconds")
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < minTailInterval {
		d = minTailInterval
	}
	return d, nil
}
