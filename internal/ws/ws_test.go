package ws

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agent-console/backend/internal/model"
)

func TestEnvelopeRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("input envelopes preserve data integrity", prop.ForAll(
		func(sessionID, data string) bool {
			env := Envelope{
				Type:      MessageTypeInput,
				SessionID: sessionID,
				Data:      data,
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return false
			}
			var parsed Envelope
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Type == MessageTypeInput &&
				parsed.SessionID == sessionID &&
				parsed.Data == data
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("resize envelopes preserve dimensions", prop.ForAll(
		func(cols, rows uint16) bool {
			env := Envelope{
				Type:      MessageTypeResize,
				SessionID: "s1",
				Cols:      cols,
				Rows:      rows,
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return false
			}
			var parsed Envelope
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Cols == cols && parsed.Rows == rows
		},
		gen.UInt16(),
		gen.UInt16(),
	))

	properties.Property("exit envelopes preserve every exit code including zero", prop.ForAll(
		func(code int) bool {
			env := Envelope{
				Type: MessageTypeExit,
				Code: &code,
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return false
			}
			var parsed Envelope
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Code != nil && *parsed.Code == code
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestClient_SendQueuesFrames(t *testing.T) {
	client := NewClient(nil)

	if err := client.Send([]byte("frame")); err != nil {
		t.Fatalf("failed to queue frame: %v", err)
	}
	select {
	case data := <-client.send:
		if string(data) != "frame" {
			t.Errorf("expected queued frame, got %q", data)
		}
	default:
		t.Error("expected a queued frame")
	}
}

func TestClient_OverflowClosesClient(t *testing.T) {
	client := NewClient(nil)

	for i := 0; i < sendBufferSize; i++ {
		if err := client.Send([]byte("x")); err != nil {
			t.Fatalf("queue filled early at %d: %v", i, err)
		}
	}

	if err := client.Send([]byte("overflow")); err == nil {
		t.Fatal("expected overflow error")
	}
	if !client.IsClosed() {
		t.Error("overflow must close the client")
	}
	if err := client.Send([]byte("after close")); err == nil {
		t.Error("send after close must fail")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client := NewClient(nil)
	client.Close()
	client.Close()

	if !client.IsClosed() {
		t.Error("expected client closed")
	}
	if err := client.Send([]byte("x")); err == nil {
		t.Error("send on closed client must fail")
	}
}

func TestClient_SubscriberEnvelopes(t *testing.T) {
	client := NewClient(nil)

	if err := client.SendData([]byte("output")); err != nil {
		t.Fatalf("failed to send data: %v", err)
	}
	if err := client.SendMessage(model.Message{ID: "m1", Role: model.RoleAssistant, Content: "hi"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	if err := client.SendExit(0); err != nil {
		t.Fatalf("failed to send exit: %v", err)
	}

	var envelopes []Envelope
	for i := 0; i < 3; i++ {
		raw := <-client.send
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("frame %d is not a valid envelope: %v", i, err)
		}
		envelopes = append(envelopes, env)
	}

	if envelopes[0].Type != MessageTypeData || envelopes[0].Data != "output" {
		t.Errorf("unexpected data envelope: %+v", envelopes[0])
	}

	if envelopes[1].Type != MessageTypeMessage {
		t.Errorf("unexpected message envelope: %+v", envelopes[1])
	}
	var msg model.Message
	if err := json.Unmarshal(envelopes[1].Payload, &msg); err != nil {
		t.Fatalf("message payload is not a valid message: %v", err)
	}
	if msg.ID != "m1" || msg.Role != model.RoleAssistant || msg.Content != "hi" {
		t.Errorf("message payload mangled: %+v", msg)
	}

	if envelopes[2].Type != MessageTypeExit || envelopes[2].Code == nil || *envelopes[2].Code != 0 {
		t.Errorf("exit code zero must survive serialization: %+v", envelopes[2])
	}
}
