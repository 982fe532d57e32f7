package push

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/pkg/thread"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    FrameType
		wantErr string
	}{
		{"join", `{"type":"join","project":"proj-1"}`, FrameJoin, ""},
		{"left", `{"type":"left","project":"proj-1"}`, FrameLeft, ""},
		{"bare error", `{"type":"error","error":"boom"}`, FrameError, ""},
		{"join without project", `{"type":"join"}`, "", "requires a project"},
		{"event without payload", `{"type":"event","project":"proj-1"}`, "", "requires an event"},
		{"unknown type", `{"type":"subscribe","project":"proj-1"}`, "", "unknown frame type"},
		{"not json", `join proj-1`, "", "failed to parse frame"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, frame.Type)
		})
	}
}

func TestFrame_EventPayload(t *testing.T) {
	event := thread.Event{
		Kind:      thread.EventCreated,
		ProjectID: "proj-1",
		Comment: thread.Comment{
			ID:        thread.ConfirmedID(7),
			ProjectID: "proj-1",
			Context:   thread.Context{Type: thread.ContextTask, ID: "t-42"},
			Body:      "hello",
		},
	}

	data, err := json.Marshal(Frame{Type: FrameEvent, Project: "proj-1", Event: &event})
	require.NoError(t, err)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)
	require.NotNil(t, frame.Event)
	assert.Equal(t, thread.NewKey("proj-1", thread.ContextTask, "t-42"), frame.Event.Key())
	assert.Equal(t, thread.ConfirmedID(7), frame.Event.Comment.ID)
	assert.Empty(t, frame.Error)
}
