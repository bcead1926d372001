package natsconn

import (
	"testing"

	"github.com/fakeyudi/lokseva/internal/logging"
	"github.com/fakeyudi/lokseva/internal/transport"
)

func TestSubject(t *testing.T) {
	cases := map[transport.Kind]string{
		transport.KindChat:          "lokseva.kiosk.chat_message",
		transport.KindTranscription: "lokseva.kiosk.transcription",
		transport.KindAgentState:    "lokseva.kiosk.agent_state",
		transport.KindSend:          "lokseva.kiosk.send",
	}
	for k, want := range cases {
		if got := Subject("lokseva", "kiosk", k); got != want {
			t.Errorf("Subject(%s) = %q, want %q", k, got, want)
		}
	}
}

func TestHandleUsesSubjectKind(t *testing.T) {
	c := &Conn{agentSender: "agent", logger: logging.Discard()}
	var got []transport.Event
	c.Subscribe(transport.KindTranscription, func(ev transport.Event) { got = append(got, ev) })

	c.handle(transport.KindTranscription, []byte(`{"id":"u1","sender_id":"agent","text":"hel"}`))
	c.handle(transport.KindTranscription, []byte(`{"type":"transcription","id":"u1","text":"hello","final":true}`))
	c.handle(transport.KindTranscription, []byte(`garbage`))

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != transport.KindTranscription || !got[0].SenderIsAgent {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if !got[1].Final || got[1].Text != "hello" {
		t.Errorf("unexpected second event %+v", got[1])
	}
}
