package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/altobase/altobase-go/internal/watch"
)

// ChannelStatus is the per-topic subscription state.
type ChannelStatus int

const (
	ChannelClosed ChannelStatus = iota
	ChannelJoining
	ChannelJoined
	ChannelLeaving
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelJoining:
		return "joining"
	case ChannelJoined:
		return "joined"
	case ChannelLeaving:
		return "leaving"
	default:
		return "closed"
	}
}

// PostgresChangeEvent selects which database events a binding listens for.
type PostgresChangeEvent string

const (
	PostgresInsert PostgresChangeEvent = "INSERT"
	PostgresUpdate PostgresChangeEvent = "UPDATE"
	PostgresDelete PostgresChangeEvent = "DELETE"
	PostgresAll    PostgresChangeEvent = "*"
)

// PostgresChange is a database change delivered to a binding.
type PostgresChange struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	EventType       string          `json:"eventType"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
}

// PresenceAction carries presence joins and leaves keyed by presence key.
type PresenceAction struct {
	Joins  map[string]json.RawMessage
	Leaves map[string]json.RawMessage
}

// Channel is a named realtime subscription topic multiplexed over the shared
// websocket connection. A channel holds a back-reference to the client for
// sending frames but never owns the socket. Listeners registered on a
// channel survive disconnects and rejoins.
type Channel struct {
	client *Client
	topic  string
	status *watch.Value[ChannelStatus]

	mu                sync.Mutex
	joinRef           string
	leaveRef          string
	broadcastSelf     bool
	broadcastAck      bool
	presenceKey       string
	broadcastHandlers map[string][]func(json.RawMessage)
	presenceHandlers  []func(PresenceAction)
	postgresBindings  []*postgresBinding
}

type postgresBinding struct {
	event   PostgresChangeEvent
	schema  string
	table   string
	filter  string
	id      int64
	handler func(PostgresChange)
}

// ChannelOption customizes a channel at creation time.
type ChannelOption func(*Channel)

// WithPresenceKey overrides the randomly generated presence key.
func WithPresenceKey(key string) ChannelOption {
	return func(ch *Channel) { ch.presenceKey = key }
}

// WithBroadcastSelf makes the channel receive its own broadcasts.
func WithBroadcastSelf() ChannelOption {
	return func(ch *Channel) { ch.broadcastSelf = true }
}

// WithBroadcastAck makes the server acknowledge broadcasts.
func WithBroadcastAck() ChannelOption {
	return func(ch *Channel) { ch.broadcastAck = true }
}

func newChannel(client *Client, topic string, opts ...ChannelOption) *Channel {
	ch := &Channel{
		client:            client,
		topic:             topic,
		status:            watch.New(ChannelClosed),
		presenceKey:       uuid.NewString(),
		broadcastHandlers: make(map[string][]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Topic returns the fully qualified topic.
func (ch *Channel) Topic() string { return ch.topic }

// Status returns the current channel status.
func (ch *Channel) Status() ChannelStatus { return ch.status.Get() }

// WatchStatus subscribes to channel status transitions.
func (ch *Channel) WatchStatus() (<-chan ChannelStatus, func()) { return ch.status.Subscribe() }

type broadcastJoinConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type presenceJoinConfig struct {
	Key string `json:"key"`
}

type postgresJoinConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table,omitempty"`
	Filter string `json:"filter,omitempty"`
	ID     int64  `json:"id,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastJoinConfig  `json:"broadcast"`
	Presence        presenceJoinConfig   `json:"presence"`
	PostgresChanges []postgresJoinConfig `json:"postgres_changes,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// Join subscribes to the topic. The transition to joined happens when the
// server's reply is dispatched by the connection manager.
func (ch *Channel) Join(ctx context.Context) error {
	ch.mu.Lock()
	payload := joinPayload{
		Config: joinConfig{
			Broadcast: broadcastJoinConfig{Self: ch.broadcastSelf, Ack: ch.broadcastAck},
			Presence:  presenceJoinConfig{Key: ch.presenceKey},
		},
		AccessToken: ch.client.accessToken(),
	}
	for _, b := range ch.postgresBindings {
		payload.Config.PostgresChanges = append(payload.Config.PostgresChanges, postgresJoinConfig{
			Event:  string(b.event),
			Schema: b.schema,
			Table:  b.table,
			Filter: b.filter,
		})
	}
	ch.mu.Unlock()

	ref := ch.client.makeRef()
	ch.mu.Lock()
	ch.joinRef = ref
	ch.mu.Unlock()
	ch.status.Set(ChannelJoining)
	if err := ch.client.send(Message{Topic: ch.topic, Event: EventJoin, Payload: mustJSON(payload), Ref: ref}); err != nil {
		return fmt.Errorf("failed to join %s: %w", ch.topic, err)
	}
	return nil
}

// Leave unsubscribes from the topic. After the server acknowledges, the
// channel transitions to closed and removes itself from the client's
// registry.
func (ch *Channel) Leave(ctx context.Context) error {
	ref := ch.client.makeRef()
	ch.mu.Lock()
	ch.leaveRef = ref
	ch.mu.Unlock()
	ch.status.Set(ChannelLeaving)
	if err := ch.client.send(Message{Topic: ch.topic, Event: EventLeave, Payload: json.RawMessage("{}"), Ref: ref}); err != nil {
		return fmt.Errorf("failed to leave %s: %w", ch.topic, err)
	}
	return nil
}

// OnBroadcast registers a listener for broadcast messages with the given
// event name.
func (ch *Channel) OnBroadcast(event string, handler func(payload json.RawMessage)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.broadcastHandlers[event] = append(ch.broadcastHandlers[event], handler)
}

// OnPresence registers a listener for presence joins and leaves.
func (ch *Channel) OnPresence(handler func(PresenceAction)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.presenceHandlers = append(ch.presenceHandlers, handler)
}

// OnPostgresChange registers a listener for database changes. Must be called
// before Join so the binding is part of the join request; the server assigns
// binding ids in its reply.
func (ch *Channel) OnPostgresChange(event PostgresChangeEvent, schema, table, filter string, handler func(PostgresChange)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.postgresBindings = append(ch.postgresBindings, &postgresBinding{
		event:   event,
		schema:  schema,
		table:   table,
		filter:  filter,
		handler: handler,
	})
}

// Broadcast sends a broadcast message to the topic.
func (ch *Channel) Broadcast(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast payload: %w", err)
	}
	body := map[string]any{"type": "broadcast", "event": event, "payload": json.RawMessage(raw)}
	return ch.client.send(Message{Topic: ch.topic, Event: EventBroadcast, Payload: mustJSON(body), Ref: ch.client.makeRef()})
}

// Track publishes this client's presence state on the topic.
func (ch *Channel) Track(ctx context.Context, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode presence state: %w", err)
	}
	body := map[string]any{"type": "presence", "event": "track", "payload": json.RawMessage(raw)}
	return ch.client.send(Message{Topic: ch.topic, Event: EventPresence, Payload: mustJSON(body), Ref: ch.client.makeRef()})
}

// Untrack removes this client's presence state from the topic.
func (ch *Channel) Untrack(ctx context.Context) error {
	body := map[string]any{"type": "presence", "event": "untrack"}
	return ch.client.send(Message{Topic: ch.topic, Event: EventPresence, Payload: mustJSON(body), Ref: ch.client.makeRef()})
}

// updateAuth pushes a new access token to the joined channel without
// disturbing the subscription.
func (ch *Channel) updateAuth(token string) error {
	body := map[string]string{"access_token": token}
	return ch.client.send(Message{Topic: ch.topic, Event: EventAccessToken, Payload: mustJSON(body), Ref: ch.client.makeRef()})
}

type joinReplyResponse struct {
	PostgresChanges []postgresJoinConfig `json:"postgres_changes"`
}

// onMessage handles a frame dispatched to this channel by the connection
// manager's inbound pump.
func (ch *Channel) onMessage(msg Message) {
	switch msg.Event {
	case EventReply:
		ch.onReply(msg)
	case EventClose:
		ch.status.Set(ChannelClosed)
		ch.client.removeChannel(ch.topic)
	case EventError:
		ch.client.logger.Error("channel errored", "topic", ch.topic)
	case EventBroadcast:
		ch.onBroadcast(msg.Payload)
	case EventPresenceState:
		ch.onPresenceState(msg.Payload)
	case EventPresenceDiff:
		ch.onPresenceDiff(msg.Payload)
	case EventPostgresChanges:
		ch.onPostgresChanges(msg.Payload)
	}
}

func (ch *Channel) onReply(msg Message) {
	var reply replyPayload
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		ch.client.logger.Warn("malformed reply payload", "topic", ch.topic, "error", err)
		return
	}
	ch.mu.Lock()
	joinRef, leaveRef := ch.joinRef, ch.leaveRef
	ch.mu.Unlock()
	switch msg.Ref {
	case joinRef:
		if reply.Status != "ok" {
			ch.client.logger.Error("failed to join channel", "topic", ch.topic, "response", string(reply.Response))
			ch.status.Set(ChannelClosed)
			return
		}
		ch.assignPostgresIDs(reply.Response)
		ch.status.Set(ChannelJoined)
	case leaveRef:
		ch.status.Set(ChannelClosed)
		ch.client.removeChannel(ch.topic)
	}
}

// assignPostgresIDs maps the server-assigned binding ids from the join reply
// onto the local bindings. The server echoes the bindings in request order.
func (ch *Channel) assignPostgresIDs(response json.RawMessage) {
	var parsed joinReplyResponse
	if err := json.Unmarshal(response, &parsed); err != nil {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(parsed.PostgresChanges) != len(ch.postgresBindings) {
		return
	}
	for i, assigned := range parsed.PostgresChanges {
		ch.postgresBindings[i].id = assigned.ID
	}
}

type broadcastPayload struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (ch *Channel) onBroadcast(payload json.RawMessage) {
	var parsed broadcastPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		ch.client.logger.Warn("malformed broadcast payload", "topic", ch.topic, "error", err)
		return
	}
	ch.mu.Lock()
	handlers := append([]func(json.RawMessage){}, ch.broadcastHandlers[parsed.Event]...)
	ch.mu.Unlock()
	for _, handler := range handlers {
		handler(parsed.Payload)
	}
}

func (ch *Channel) onPresenceState(payload json.RawMessage) {
	var state map[string]json.RawMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		return
	}
	ch.notifyPresence(PresenceAction{Joins: state, Leaves: map[string]json.RawMessage{}})
}

func (ch *Channel) onPresenceDiff(payload json.RawMessage) {
	var diff struct {
		Joins  map[string]json.RawMessage `json:"joins"`
		Leaves map[string]json.RawMessage `json:"leaves"`
	}
	if err := json.Unmarshal(payload, &diff); err != nil {
		return
	}
	ch.notifyPresence(PresenceAction{Joins: diff.Joins, Leaves: diff.Leaves})
}

func (ch *Channel) notifyPresence(action PresenceAction) {
	ch.mu.Lock()
	handlers := append([]func(PresenceAction){}, ch.presenceHandlers...)
	ch.mu.Unlock()
	for _, handler := range handlers {
		handler(action)
	}
}

type postgresChangesPayload struct {
	IDs  []int64        `json:"ids"`
	Data PostgresChange `json:"data"`
}

func (ch *Channel) onPostgresChanges(payload json.RawMessage) {
	var parsed postgresChangesPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		ch.client.logger.Warn("malformed postgres_changes payload", "topic", ch.topic, "error", err)
		return
	}
	ids := make(map[int64]bool, len(parsed.IDs))
	for _, id := range parsed.IDs {
		ids[id] = true
	}
	ch.mu.Lock()
	var handlers []func(PostgresChange)
	for _, b := range ch.postgresBindings {
		if b.id != 0 && ids[b.id] {
			handlers = append(handlers, b.handler)
		}
	}
	ch.mu.Unlock()
	for _, handler := range handlers {
		handler(parsed.Data)
	}
}
