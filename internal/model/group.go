package model

// Group is a destination group known locally.
type Group struct {
	JID  string
	Name string
	Size int
}

// BotGroup is the association between a bot and a group, with the broadcast
// flag marking membership in the bot's fan-out set.
type BotGroup struct {
	BotID     string
	GroupJID  string
	Broadcast bool
}

// Member is one participant record of a group.
type Member struct {
	GroupJID  string
	MemberJID string
	Admin     bool
}

// GroupStats is the observer payload published after reconciliation or
// broadcast-set changes.
type GroupStats struct {
	BotID           string
	BroadcastGroups int
	BroadcastMember int
}
