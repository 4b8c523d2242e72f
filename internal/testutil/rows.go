package testutil

import "fmt"

// Proposal returns a /api/visions/ row.
func Proposal(id int, createdAt string) map[string]any {
	return map[string]any{
		"id":         id,
		"created_at": createdAt,
		"title":      fmt.Sprintf("Proposal %d", id),
	}
}

// Reply returns a /api/replies/ row linked to a proposal through its
// "vision" foreign key.
func Reply(id, vision int, createdAt string) map[string]any {
	return map[string]any{
		"id":         id,
		"vision":     vision,
		"created_at": createdAt,
		"text":       fmt.Sprintf("Reply %d", id),
	}
}

// User returns a /api/users/ row.
func User(id int, username string) map[string]any {
	return map[string]any{
		"id":         id,
		"username":   username,
		"created_at": "2013-05-01T00:00:00Z",
	}
}

// Activity returns an /api/stream/ row.
func Activity(id int, createdAt, summary string) map[string]any {
	return map[string]any{
		"id":         id,
		"created_at": createdAt,
		"summary":    summary,
	}
}
