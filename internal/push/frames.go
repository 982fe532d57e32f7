// Package push carries comment events from the store to connected clients.
//
// RedisTransport subscribes to per-project Pub/Sub rooms directly and is used
// in-process and by the Gateway. The Gateway exposes those rooms over a
// websocket, and WSTransport is the client end of that websocket. Both
// transports satisfy commentsync.Transport.
//
// Wire frames are JSON objects with a "type" field:
//
//	client → server  {"type":"join","project":"proj-1"}
//	                 {"type":"leave","project":"proj-1"}
//	server → client  {"type":"joined","project":"proj-1"}
//	                 {"type":"left","project":"proj-1"}
//	                 {"type":"event","project":"proj-1","event":{...}}
//	                 {"type":"error","project":"proj-1","error":"..."}
package push

import (
	"encoding/json"
	"fmt"

	"github.com/baduk1/threadsync/pkg/thread"
)

// FrameType identifies a websocket frame.
type FrameType string

const (
	FrameJoin   FrameType = "join"
	FrameLeave  FrameType = "leave"
	FrameJoined FrameType = "joined"
	FrameLeft   FrameType = "left"
	FrameEvent  FrameType = "event"
	FrameError  FrameType = "error"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    FrameType     `json:"type"`
	Project string        `json:"project,omitempty"`
	Event   *thread.Event `json:"event,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Validate checks that the frame type is known and carries what it needs.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameJoin, FrameLeave, FrameJoined, FrameLeft:
		if f.Project == "" {
			return fmt.Errorf("%s frame requires a project", f.Type)
		}
	case FrameEvent:
		if f.Event == nil {
			return fmt.Errorf("event frame requires an event")
		}
	case FrameError:
	default:
		return fmt.Errorf("unknown frame type: %q", f.Type)
	}
	return nil
}

// DecodeFrame parses and validates one frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
