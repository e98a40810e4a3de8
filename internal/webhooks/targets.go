package webhooks

// Preset reshapes a generic delivery payload into the body shape a
// well-known chat destination expects, so a webhook pointed at Slack
// or Discord renders nicely instead of showing raw JSON. These are
// pure payload shapers; dispatcher.go's generic signed-webhook fan-out
// performs the actual send for every target, preset or not.
type Preset string

const (
	// PresetNone sends the delivery's payload unmodified.
	PresetNone Preset = ""
	// PresetSlack wraps the payload as a Slack incoming-webhook
	// attachment.
	PresetSlack Preset = "slack"
	// PresetDiscord wraps the payload as a Discord webhook embed.
	PresetDiscord Preset = "discord"
)

// Shape reshapes eventType/payload for preset, returning the body to
// send as-is when preset is PresetNone or unrecognized.
func Shape(preset Preset, eventType string, payload map[string]interface{}) map[string]interface{} {
	switch preset {
	case PresetSlack:
		return shapeSlack(eventType, payload)
	case PresetDiscord:
		return shapeDiscord(eventType, payload)
	default:
		return payload
	}
}

func shapeSlack(eventType string, payload map[string]interface{}) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, len(payload))
	for k, v := range payload {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}
	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  slackColor(eventType),
				"title":  eventType,
				"fields": fields,
			},
		},
	}
}

func slackColor(eventType string) string {
	switch eventType {
	case "agent.failed", "task.failed", "system.alert":
		return "danger"
	case "agent.stopped", "task.cancelled":
		return "warning"
	default:
		return "good"
	}
}

func shapeDiscord(eventType string, payload map[string]interface{}) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, len(payload))
	for k, v := range payload {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  v,
			"inline": true,
		})
	}
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":  eventType,
				"fields": fields,
			},
		},
	}
}
