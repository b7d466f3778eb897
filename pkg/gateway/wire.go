package gateway

import (
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/loghub"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// Client frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
)

// Server frame types.
const (
	framePong        = "pong"
	frameSubSuccess  = "subscription:success"
	frameSubError    = "subscription:error"
	frameLog         = "log"
	frameLogDropped  = "log:dropped"
	frameStatus      = "status"
	frameError       = "error"
	frameBudgetAlert = "budget:alert"
)

// Error codes carried on subscription:error and error frames.
const (
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeNotFound          = "NOT_FOUND"
	CodeSubscriptionLimit = "SUBSCRIPTION_LIMIT_EXCEEDED"
	CodeConnectionLimit   = "CONNECTION_LIMIT_EXCEEDED"
	CodeInvalidMessage    = "INVALID_MESSAGE"
)

// clientFrame is any message a client may send.
type clientFrame struct {
	Type         string            `json:"type"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	Options      *SubscribeOptions `json:"options,omitempty"`
}

// SubscribeOptions shape the initial_logs returned on subscribe.
type SubscribeOptions struct {
	Tail      int       `json:"tail,omitempty"`
	Level     []string  `json:"level,omitempty"`
	Source    []string  `json:"source,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Search    string    `json:"search,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

func (o *SubscribeOptions) filter() loghub.Filter {
	f := loghub.Filter{Tail: 50}
	if o == nil {
		return f
	}
	if o.Tail > 0 {
		f.Tail = o.Tail
	}
	for _, l := range o.Level {
		f.Levels = append(f.Levels, types.LogLevel(l))
	}
	for _, s := range o.Source {
		f.Sources = append(f.Sources, types.LogSource(s))
	}
	f.StartTime = o.StartTime
	f.EndTime = o.EndTime
	f.Search = o.Search
	f.Tags = o.Tags
	return f
}

// serverFrame is any message the gateway sends. Unused fields are
// omitted from the wire.
type serverFrame struct {
	Type         string         `json:"type"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	Payload      any            `json:"payload,omitempty"`
	InitialLogs  []wireLogEntry `json:"initial_logs,omitempty"`
	Code         string         `json:"code,omitempty"`
	Error        string         `json:"error,omitempty"`
	Message      string         `json:"message,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
}

type wireLogEntry struct {
	ID           string            `json:"id"`
	DeploymentID string            `json:"deployment_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Level        string            `json:"level"`
	Source       string            `json:"source"`
	Message      string            `json:"message"`
	Data         map[string]string `json:"data,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Sequence     int64             `json:"sequence"`
}

func toWireLog(e types.LogEntry) wireLogEntry {
	return wireLogEntry{
		ID:           e.ID,
		DeploymentID: e.DeploymentID,
		Timestamp:    e.Timestamp,
		Level:        string(e.Level),
		Source:       string(e.Source),
		Message:      e.Message,
		Data:         e.Data,
		Tags:         e.Tags,
		Sequence:     e.Sequence,
	}
}

// statusPayload is the payload of a status frame.
type statusPayload struct {
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	Timestamp      time.Time `json:"timestamp"`
}
