// Package relay is the event router at the center of the chat server. It
// validates each inbound event against the presence registry, applies it to
// the message stores and fans the results out to one, two or all joined
// connections.
//
// All state changes and all fan-out run under one mutex, so every client
// observes broadcast messages in the order they were appended. Fan-out only
// queues frames (see Outbox) and never waits on a recipient.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/metrics"
	"github.com/chatwave/relay/internal/presence"
	"github.com/chatwave/relay/internal/protocol"
)

// Outbox queues an encoded frame for a connection. It must not block; it
// reports false when the frame was dropped.
type Outbox interface {
	Send(connID string, data []byte) bool
}

// Archiver receives broadcast messages for external retention. Calls happen
// under the router lock and must not block.
type Archiver interface {
	ArchiveMessage(m chat.Message)
	ArchiveReaction(m chat.Message)
}

// Limiter throttles chat messages per connection.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
	RetryAfter() time.Duration
	Forget(identifier string)
}

// Options holds the optional collaborators of a Router.
type Options struct {
	Archive Archiver         // nil disables archival
	Limiter Limiter          // nil disables rate limiting
	Now     func() time.Time // nil means time.Now
	Debug   bool             // log every dropped event
}

// Router owns the per-connection state machine: Anonymous until join,
// Joined until disconnect.
type Router struct {
	mu       sync.Mutex
	users    *presence.Registry
	messages *chat.Store
	private  *chat.PrivateStore
	out      Outbox
	archive  Archiver
	limiter  Limiter
	now      func() time.Time
	debug    bool
}

// NewRouter wires a Router to its stores and outbox.
func NewRouter(users *presence.Registry, messages *chat.Store, private *chat.PrivateStore, out Outbox, opts Options) *Router {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		users:    users,
		messages: messages,
		private:  private,
		out:      out,
		archive:  opts.Archive,
		limiter:  opts.Limiter,
		now:      now,
		debug:    opts.Debug,
	}
}

// DefaultAvatar is the generated placeholder for users who join without one.
func DefaultAvatar(username string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(username) + "&background=random"
}

// Join registers the connection, announces it to everyone, refreshes the
// presence list and sends the joiner the full broadcast history.
func (r *Router) Join(connID string, m protocol.JoinMsg) error {
	username := strings.TrimSpace(m.Username)
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidPayload)
	}
	avatar := m.Avatar
	if avatar == "" {
		avatar = DefaultAvatar(username)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users.Lookup(connID); ok {
		return ErrAlreadyJoined
	}
	conn, err := r.users.Register(connID, presence.Profile{Username: username, Avatar: avatar})
	if err != nil {
		return fmt.Errorf("relay: join %s: %w", connID, err)
	}
	metrics.JoinedUsers.Inc()

	notice := r.messages.Append(chat.KindSystem, author(conn), chat.Content{Text: chat.JoinedNotice(username)})
	r.appended(notice)
	r.broadcast(protocol.TypeMessage, notice, "")
	r.broadcastPresence()
	r.send(connID, protocol.TypeMessageHistory, r.messages.History())
	return nil
}

// SendMessage appends a text, image or file message and broadcasts it.
func (r *Router) SendMessage(connID string, m protocol.SendMessageMsg) error {
	if _, ok := r.users.Lookup(connID); !ok {
		return ErrUnknownSender
	}

	kind, ok := chat.ParseKind(m.Type)
	if !ok {
		return fmt.Errorf("%w: message type %q", ErrInvalidPayload, m.Type)
	}
	content := chat.Content{Text: m.Content}
	if kind == chat.KindText {
		if err := chat.ValidateMessage(m.Content); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else {
		if err := chat.ValidateCaption(m.Content); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		fileType, err := chat.Attachment(kind, m.FileType, m.FileData)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		content.FileName = m.FileName
		content.FileType = fileType
		content.FileData = m.FileData
	}

	if err := r.limit(connID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.users.Lookup(connID)
	if !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	msg := r.messages.Append(kind, author(sender), content)
	r.appended(msg)
	r.broadcast(protocol.TypeMessage, msg, "")
	return nil
}

// React toggles the sender's reaction and broadcasts the updated message.
func (r *Router) React(connID string, m protocol.ReactMessageMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.users.Lookup(connID)
	if !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	updated, ok := r.messages.ToggleReaction(m.MessageID, m.Emoji, sender.Username)
	if !ok {
		return ErrUnknownMessage
	}
	if r.archive != nil {
		r.archive.ArchiveReaction(updated)
	}
	r.broadcast(protocol.TypeMessage, updated, "")
	return nil
}

// Typing relays a typing indicator to every other joined connection.
func (r *Router) Typing(connID string, started bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.users.Lookup(connID)
	if !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	msgType := protocol.TypeUserStopTyping
	if started {
		msgType = protocol.TypeUserTyping
	}
	r.broadcast(msgType, sender, connID)
	return nil
}

// PrivateMessage stores a direct message under the pair key and delivers it
// to both parties. A message to an unknown connection is dropped without
// telling the sender.
func (r *Router) PrivateMessage(connID string, m protocol.PrivateMessageMsg) error {
	if _, ok := r.users.Lookup(connID); !ok {
		return ErrUnknownSender
	}
	if err := chat.ValidateMessage(m.Content); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := r.limit(connID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.users.Lookup(connID)
	if !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	target, ok := r.users.Lookup(m.To)
	if !ok {
		return ErrUnknownTarget
	}

	msg := chat.PrivateMessage{
		ID:        uuid.New().String(),
		Type:      "private",
		Content:   m.Content,
		Timestamp: r.now().UTC(),
		From:      author(sender),
		To:        author(target),
	}
	r.private.Append(chat.PairKey(sender.ID, target.ID), msg)
	metrics.MessagesTotal.WithLabelValues("private").Inc()

	r.send(sender.ID, protocol.TypePrivateMessage, msg)
	if target.ID != sender.ID {
		r.send(target.ID, protocol.TypePrivateMessage, msg)
	}
	return nil
}

// PrivateHistory sends the requester the log shared with m.WithID. The
// history is empty, never missing, when the pair has no messages.
func (r *Router) PrivateHistory(connID string, m protocol.PrivateHistoryRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users.Lookup(connID); !ok {
		return ErrUnknownSender
	}

	r.send(connID, protocol.TypePrivateHistory, protocol.PrivateHistoryMsg{
		WithID:  m.WithID,
		History: r.private.History(chat.PairKey(connID, m.WithID)),
	})
	return nil
}

// Signal relays an opaque negotiation payload. To "all" reaches every other
// joined connection; any other value reaches exactly that connection. The
// from field is always the sender's connection id.
func (r *Router) Signal(connID string, m protocol.SignalMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users.Lookup(connID); !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	frame := protocol.SignalRelayMsg{From: connID, Data: m.Data}
	if m.To == protocol.SignalBroadcast {
		r.broadcast(protocol.TypeSignal, frame, connID)
		return nil
	}
	if _, ok := r.users.Lookup(m.To); !ok {
		return ErrUnknownTarget
	}
	r.send(m.To, protocol.TypeSignal, frame)
	return nil
}

// AnnounceScreenShare tells every other joined connection that the sender
// is about to share a screen. Nothing is stored.
func (r *Router) AnnounceScreenShare(connID string, _ protocol.ScreenShareMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.users.Lookup(connID)
	if !ok {
		return ErrUnknownSender
	}
	r.users.Touch(connID)

	r.broadcast(protocol.TypeScreenShare, protocol.ScreenShareNoticeMsg{Username: sender.Username}, connID)
	return nil
}

// Leave handles a disconnect. A joined connection is removed from the
// registry, announced as gone and dropped from the presence list. Leaving
// an anonymous or already removed connection does nothing.
func (r *Router) Leave(connID string) error {
	r.leave(connID)
	if r.limiter != nil {
		r.limiter.Forget(connID)
	}
	return nil
}

func (r *Router) leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.users.Remove(connID)
	if !ok {
		return
	}
	metrics.JoinedUsers.Dec()

	notice := r.messages.Append(chat.KindSystem, author(conn), chat.Content{Text: chat.LeftNotice(conn.Username)})
	r.appended(notice)
	r.broadcast(protocol.TypeMessage, notice, "")
	r.broadcastPresence()
}

// Sweep runs one activity sweep and broadcasts the presence list if any
// status changed. It reports whether anything changed.
func (r *Router) Sweep(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := r.users.Sweep(now, timeout)
	metrics.PresenceSweeps.WithLabelValues(fmt.Sprint(changed)).Inc()
	if changed {
		r.broadcastPresence()
	}
	return changed
}

// Users returns a snapshot of the joined connections.
func (r *Router) Users() []presence.Connection {
	return r.users.List()
}

// Messages returns a snapshot of the broadcast log.
func (r *Router) Messages() []chat.Message {
	return r.messages.History()
}

// Observe accounts for the outcome of an event handler. Dropped events are
// counted and, in debug mode, logged; a duplicate registration is always
// logged since it means connection ids are not unique.
func (r *Router) Observe(event, connID string, err error) {
	if err == nil {
		return
	}
	metrics.DroppedEventsTotal.WithLabelValues(reason(err)).Inc()

	if errors.Is(err, presence.ErrDuplicateConnection) {
		log.Printf("[relay] invariant violation event=%s session=%s: %v", event, connID, err)
		return
	}
	if r.debug {
		log.Printf("[relay] dropped event=%s session=%s: %v", event, connID, err)
	}
}

// limit applies the rate limiter and tells a throttled client when to retry.
// It runs outside the router lock since the limiter may do network I/O.
func (r *Router) limit(connID string) error {
	if r.limiter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Errors fail open inside the limiter; allowed is already true then.
	allowed, _ := r.limiter.Allow(ctx, connID)
	if allowed {
		return nil
	}

	metrics.RateLimitedTotal.Inc()
	retry := int(math.Ceil(r.limiter.RetryAfter().Seconds()))
	r.send(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: retry})
	return ErrRateLimited
}

// appended records a new broadcast message for metrics and archival.
func (r *Router) appended(m chat.Message) {
	metrics.MessagesTotal.WithLabelValues(string(m.Kind)).Inc()
	if r.archive != nil {
		r.archive.ArchiveMessage(m)
	}
}

// broadcast encodes once and queues the frame for every joined connection
// except the one named by except.
func (r *Router) broadcast(msgType string, payload interface{}, except string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[relay] failed to build %s: %v", msgType, err)
		return
	}
	for _, id := range r.users.IDs() {
		if id == except {
			continue
		}
		r.out.Send(id, data)
	}
}

func (r *Router) broadcastPresence() {
	r.broadcast(protocol.TypePresenceList, r.users.List(), "")
}

func (r *Router) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[relay] failed to build %s for session=%s: %v", msgType, connID, err)
		return
	}
	r.out.Send(connID, data)
}

func author(c presence.Connection) chat.Author {
	return chat.Author{ID: c.ID, Username: c.Username, Avatar: c.Avatar}
}
