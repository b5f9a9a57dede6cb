package main

import (
	"fmt"
	"time"

	"nexchat/internal/attachment"
	"nexchat/internal/model"
)

// renderer turns successive snapshots into the lines not yet shown.
type renderer struct {
	now func() time.Time

	seen   map[string]bool
	count  int
	conn   model.ConnectionState
	typing bool
}

func newRenderer(now func() time.Time) *renderer {
	return &renderer{now: now, seen: make(map[string]bool)}
}

func (r *renderer) lines(snap model.Snapshot) []string {
	var out []string

	if snap.Connection != r.conn {
		r.conn = snap.Connection
		if label := snap.Connection.Label(); label != "" {
			out = append(out, "* "+label)
		} else {
			out = append(out, "* Connected")
		}
	}

	// a shorter log means the history was cleared
	if len(snap.Messages) < r.count {
		r.seen = make(map[string]bool)
		out = append(out, "--- conversation cleared ---")
	}
	r.count = len(snap.Messages)

	now := r.now()
	for _, msg := range snap.Messages {
		if msg.IsTemporary || r.seen[msg.ID] {
			continue
		}
		r.seen[msg.ID] = true
		out = append(out, formatMessage(msg, now)...)
	}

	if snap.IsTyping && !r.typing {
		out = append(out, "  assistant is typing...")
	}
	r.typing = snap.IsTyping
	return out
}

func formatMessage(msg model.Message, now time.Time) []string {
	who := "Assistant"
	if msg.Role == model.RoleUser {
		who = "You"
	}
	text, fileURL := attachment.Parse(msg.Content)

	prefix := ""
	if stamp := model.FormatTime(msg.Timestamp, now); stamp != "" {
		prefix = "[" + stamp + "] "
	}
	var out []string
	if text != "" || fileURL == "" {
		out = append(out, fmt.Sprintf("%s%s: %s", prefix, who, text))
	} else {
		out = append(out, fmt.Sprintf("%s%s:", prefix, who))
	}
	if fileURL != "" {
		out = append(out, fmt.Sprintf("    (%s) %s", attachment.KindOf(fileURL), fileURL))
	}
	return out
}
