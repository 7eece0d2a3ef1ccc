package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatSystemPayload(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "SIGTERM"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "SHUTDOWN" || parsed.System.Reason != "SIGTERM" {
		t.Errorf("unexpected payload: %+v", parsed.System)
	}
	if parsed.System.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp: got %q", parsed.System.Timestamp)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	data, err := FormatSystemPayload(SystemEvent{RawPayload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(raw) {
		t.Errorf("raw payload not passed through: %s", data)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	data, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"})

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	system := raw["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action":"set_state","channel":5,"on":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Action != ActionSetState || cmd.Channel != 5 {
		t.Errorf("unexpected command: %+v", cmd)
	}
	if cmd.On == nil || !*cmd.On {
		t.Error("expected on=true")
	}

	cmd, err = ParseCommand([]byte(`{"action":"set_amp_threshold","value":0.4}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Value == nil || *cmd.Value != 0.4 {
		t.Errorf("value lost: %+v", cmd)
	}

	cmd, err = ParseCommand([]byte(`{"action":"routine_start","id":"frost"}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.ID != "frost" {
		t.Errorf("id lost: %+v", cmd)
	}
	if cmd.Reverse {
		t.Error("reverse should default to false")
	}

	cmd, err = ParseCommand([]byte(`{"action":"routine_start","id":"frost","reverse":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.Reverse {
		t.Errorf("reverse lost: %+v", cmd)
	}
}

func TestParseCommandWithRoutine(t *testing.T) {
	payload := []byte(`{
		"action": "routine_add",
		"routine": {
			"id": "water",
			"name": "Morning Watering",
			"enabled": true,
			"trigger": {"type": "schedule", "hour": 6, "minute": 30},
			"steps": [{"action": "ON", "mode": "parallel", "device_ids": ["pump"]}]
		}
	}`)
	cmd, err := ParseCommand(payload)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Routine == nil || cmd.Routine.ID != "water" {
		t.Fatalf("routine lost: %+v", cmd)
	}
	if len(cmd.Routine.Steps) != 1 || cmd.Routine.Steps[0].DeviceIDs[0] != "pump" {
		t.Errorf("steps mangled: %+v", cmd.Routine.Steps)
	}
}

func TestParseCommandRejectsGarbage(t *testing.T) {
	if _, err := ParseCommand([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseCommand([]byte(`{"channel":5}`)); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestFakePublisherRecords(t *testing.T) {
	f := NewFakePublisher()

	if err := f.PublishTelemetry([]byte("t1")); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishAlert([]byte("a1")); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if len(f.Telemetry) != 1 || len(f.Alerts) != 1 || len(f.SystemEvents) != 1 {
		t.Errorf("records: telemetry=%d alerts=%d system=%d", len(f.Telemetry), len(f.Alerts), len(f.SystemEvents))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")

	if err := f.PublishAlert([]byte("a")); err == nil {
		t.Error("expected error")
	}
	if len(f.Alerts) != 0 {
		t.Error("failed publish must not record")
	}
}

func TestFakePublisherCommandInjection(t *testing.T) {
	f := NewFakePublisher()

	var got []Command
	if err := f.SubscribeCommands(func(cmd Command) { got = append(got, cmd) }); err != nil {
		t.Fatal(err)
	}
	f.InjectCommand(Command{Action: ActionToggle, Channel: 3})

	if len(got) != 1 || got[0].Channel != 3 {
		t.Errorf("handler not invoked: %+v", got)
	}
}
