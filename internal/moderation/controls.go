package moderation

import "relaybot/internal/transport"

// Callback data carried by the moderation controls.
const (
	ActionApprove = "accept"
	ActionDeny    = "deny"
	ActionBan     = "ban"
	ActionUnban   = "unban"
)

// Divider is the body of the control message that follows a forwarded media group.
const Divider = "———————————————————"

// ReviewControls are attached to every fresh submission in the moderation group.
func ReviewControls() []transport.Button {
	return []transport.Button{
		{Text: "✅", Data: ActionApprove},
		{Text: "❌", Data: ActionDeny},
	}
}

// BanControls offers the action that flips the submitter's current ban state.
func BanControls(banned bool) []transport.Button {
	if banned {
		return []transport.Button{{Text: "🔓 Разбан", Data: ActionUnban}}
	}
	return []transport.Button{{Text: "⛔ Бан", Data: ActionBan}}
}
