package handler

import (
	"context"
	"fmt"
	"path"
	"strings"

	"nexchat/internal/api"
	"nexchat/internal/attachment"
)

// Responder produces the assistant answer for a user message.
type Responder interface {
	Reply(ctx context.Context, message string, history []api.HistoryEntry) (string, error)
}

// EchoResponder answers by echoing the message back. It stands in for the
// workflow engine during local development.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, message string, history []api.HistoryEntry) (string, error) {
	text, fileURL := attachment.Parse(message)
	if fileURL != "" {
		name := path.Base(strings.SplitN(fileURL, "?", 2)[0])
		if text == "" {
			return fmt.Sprintf("Received your %s file %s.", attachment.KindOf(fileURL), name), nil
		}
		return fmt.Sprintf("Received your %s file %s. You said: %s", attachment.KindOf(fileURL), name, text), nil
	}
	return fmt.Sprintf("You said: %s (%d earlier messages)", text, len(history)), nil
}
