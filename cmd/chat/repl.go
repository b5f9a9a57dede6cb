package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"

	"nexchat/internal/api"
	"nexchat/internal/hub"
	"nexchat/internal/kvstore"
	"nexchat/internal/model"
	"nexchat/internal/session"
	"nexchat/internal/settings"
)

const helpText = `Commands:
  /attach <path> [caption]  upload a file (10MB max) and send it
  /history                  show the server-side history of this conversation
  /settings [key value]     show or change a setting
  /status                   show connection and identifiers
  /reconnect                reopen the realtime connection
  /clear                    start a new conversation
  /forget                   start a new conversation and delete the old one on the server
  /quit                     leave`

type repl struct {
	m      *session.Manager
	client *api.Client
	store  kvstore.Store

	outMu sync.Mutex
	out   io.Writer

	line        *liner.State
	historyFile string

	sub  *hub.Subscription[model.Snapshot]
	done chan struct{}
}

func newREPL(m *session.Manager, client *api.Client, store kvstore.Store, out io.Writer, historyFile string) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{
		m:           m,
		client:      client,
		store:       store,
		out:         out,
		line:        line,
		historyFile: historyFile,
		done:        make(chan struct{}),
	}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *repl) println(lines ...string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(r.out, l)
	}
}

// Close saves the input history and restores the terminal.
func (r *repl) Close() {
	if r.sub != nil {
		r.sub.Stop()
		<-r.done
	}
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	_ = r.line.Close()
}

func (r *repl) Run(ctx context.Context) error {
	sub := r.m.Subscribe()
	r.sub = sub
	go func() {
		defer close(r.done)
		rend := newRenderer(time.Now)
		for snap := range sub.C() {
			if lines := rend.lines(snap); len(lines) > 0 {
				r.println(lines...)
			}
		}
	}()

	r.println("Type a message, or /help for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := r.line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if !strings.HasPrefix(input, "/") {
			if !r.m.Send(input) {
				r.println("! Wait for the current answer before sending another message.")
			}
			continue
		}

		keepGoing, err := r.command(ctx, input)
		if err != nil {
			r.println("! " + err.Error())
		}
		if !keepGoing {
			return nil
		}
	}
}

func (r *repl) command(ctx context.Context, input string) (bool, error) {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit", "/exit":
		return false, nil
	case "/help":
		r.println(helpText)
	case "/clear":
		if !r.m.ClearHistory() {
			return true, errors.New("could not clear the saved conversation")
		}
	case "/forget":
		return true, r.forget(ctx)
	case "/reconnect":
		r.m.Reconnect()
	case "/status":
		snap := r.m.Snapshot()
		label := snap.Connection.Label()
		if label == "" {
			label = "Connected"
		}
		r.println(
			"connection:   "+label,
			"client:       "+snap.ClientID,
			"conversation: "+orNone(snap.ConversationID),
		)
	case "/attach":
		return true, r.attach(ctx, rest)
	case "/history":
		return true, r.history(ctx)
	case "/settings":
		return true, r.settings(ctx, rest)
	default:
		return true, fmt.Errorf("unknown command %s, try /help", name)
	}
	return true, nil
}

func (r *repl) attach(ctx context.Context, args string) error {
	path, caption := splitAttachArgs(args)
	if path == "" {
		return errors.New("usage: /attach <path> [caption]")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > api.MaxUploadSize {
		return api.ErrFileTooLarge
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ok, err := r.m.SendFile(ctx, caption, api.File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Body:        f,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("wait for the current answer before sending another message")
	}
	return nil
}

// splitAttachArgs separates the path from the caption. A path containing
// spaces can be quoted.
func splitAttachArgs(args string) (path, caption string) {
	args = strings.TrimSpace(args)
	if strings.HasPrefix(args, `"`) {
		if end := strings.Index(args[1:], `"`); end >= 0 {
			return args[1 : end+1], strings.TrimSpace(args[end+2:])
		}
	}
	path, caption, _ = strings.Cut(args, " ")
	return path, strings.TrimSpace(caption)
}

// forget clears the local conversation first so nothing new lands in the
// conversation being deleted.
func (r *repl) forget(ctx context.Context) error {
	id := r.m.Snapshot().ConversationID
	if !r.m.ClearHistory() {
		return errors.New("could not clear the saved conversation")
	}
	if id == "" {
		return nil
	}
	if err := r.client.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("conversation cleared locally, server copy kept: %w", err)
	}
	r.println("Conversation " + id + " deleted on the server.")
	return nil
}

func (r *repl) history(ctx context.Context) error {
	snap := r.m.Snapshot()
	if snap.ConversationID == "" {
		return errors.New("no conversation on the server yet")
	}
	resp, err := r.client.Messages(ctx, snap.ConversationID)
	if err != nil {
		return err
	}
	now := time.Now()
	r.println(fmt.Sprintf("--- %d messages on the server ---", len(resp.Messages)))
	for _, msg := range resp.Messages {
		r.println(formatMessage(model.Message{Role: msg.Role, Content: msg.Content, Timestamp: msg.Timestamp}, now)...)
	}
	return nil
}

func (r *repl) settings(ctx context.Context, args string) error {
	if args == "" {
		current, err := settings.Load(ctx, r.store)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(current))
		for k := range current {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.println(fmt.Sprintf("%s = %v", k, current[k]))
		}
		return nil
	}

	key, raw, ok := strings.Cut(args, " ")
	if !ok {
		return errors.New("usage: /settings <key> <value>")
	}
	if err := settings.Set(ctx, r.store, key, parseSettingValue(raw)); err != nil {
		return err
	}
	if key == settings.SaveChat {
		r.println("Restart the client for this to take effect.")
	}
	return nil
}

func parseSettingValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
