package webhooks

import "testing"

func TestShapePassesThroughForNoPreset(t *testing.T) {
	payload := map[string]interface{}{"task_id": "t1"}
	got := Shape(PresetNone, "task.completed", payload)
	if got["task_id"] != "t1" {
		t.Fatalf("expected unmodified payload, got %v", got)
	}
}

func TestShapeSlackWrapsAttachment(t *testing.T) {
	got := Shape(PresetSlack, "agent.failed", map[string]interface{}{"agent_id": "a1"})
	attachments, ok := got["attachments"].([]map[string]interface{})
	if !ok || len(attachments) != 1 {
		t.Fatalf("expected one slack attachment, got %v", got)
	}
	if attachments[0]["color"] != "danger" {
		t.Fatalf("expected danger color for agent.failed, got %v", attachments[0]["color"])
	}
}

func TestShapeDiscordWrapsEmbed(t *testing.T) {
	got := Shape(PresetDiscord, "task.completed", map[string]interface{}{"task_id": "t1"})
	embeds, ok := got["embeds"].([]map[string]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one discord embed, got %v", got)
	}
	if embeds[0]["title"] != "task.completed" {
		t.Fatalf("expected title set to event type, got %v", embeds[0]["title"])
	}
}
