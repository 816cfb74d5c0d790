// Package models holds the data types shared by the buffer, pool and HTTP layers
package models

// Record is one record delivered by a consumer session, before it is buffered
type Record struct {
	Key       string
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
	Headers   map[string][]byte
}

// BufferedMessage is an immutable record held by a message buffer.
// WriteTime is the wall-clock arrival time in milliseconds.
type BufferedMessage struct {
	WriteTime int64             `json:"writeTime"`
	Key       string            `json:"key"`
	Payload   []byte            `json:"-"`
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Headers   map[string][]byte `json:"headers,omitempty"`
}

// MessageView is the decoded form of a buffered message returned by read endpoints
type MessageView struct {
	Key       string            `json:"key"`
	WriteTime int64             `json:"writeTime"`
	Offset    int64             `json:"offset"`
	Partition int32             `json:"partition"`
	Topic     string            `json:"topic"`
	Headers   map[string]string `json:"headers,omitempty"`
	Message   interface{}       `json:"message"`
}

// ConsumerInfo describes one live pool entry for the manager listing
type ConsumerInfo struct {
	Key              string `json:"key"`
	ConsumerGroupID  string `json:"consumerGroupId"`
	DeserializerID   string `json:"deserializerId"`
	DeserializerName string `json:"deserializerName"`
	Topic            string `json:"topic"`
	Broker           string `json:"kafkaUrl"`
	Registry         string `json:"schemaUrl"`
	LastMessageTime  int64  `json:"lastMessageTime"`
	LastUsedTime     int64  `json:"lastUsedTime"`
	LastReadTime     int64  `json:"lastReadTime"`
	QueueSize        int    `json:"queueSize"`
	Buffered         int    `json:"buffered"`
	Total            int64  `json:"total"`
}

// DecoderInfo is the public description of a registered decoder
type DecoderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is the paging envelope used by read and listing endpoints
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
}

// NewPage builds a single page holding every item
func NewPage[T any](content []T, total int64) *Page[T] {
	if content == nil {
		content = []T{}
	}
	return &Page[T]{
		Content:       content,
		Page:          0,
		Size:          len(content),
		TotalElements: total,
	}
}
