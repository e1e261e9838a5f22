package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"voteboard/internal/app/identity"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/metrics"
)

const (
	// capacity of the hub event queue shared by every connection.
	eventChannelBuffer = 1024

	// capacity of each client's outbound queue; a full queue disconnects the client.
	clientSendBuffer = 256
)

// ErrHubStopped is returned when an operation reaches a hub that has shut down.
var ErrHubStopped = errors.New("presence hub stopped")

// IdentityResolver is the identity store as seen by the presence layer.
type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, token, payoutAddress string) (identity.Identity, bool)
	UpdatePayoutAddress(ctx context.Context, token, address string) error
}

// VoteRecorder is the vote ledger as seen by the presence layer.
type VoteRecorder interface {
	RecordVote(ctx context.Context, candidateID, voter string) (int64, error)
	Totals(ctx context.Context) (map[string]int64, error)
	VotesCast(ctx context.Context, voter string) (int64, error)
	VotesPerUser() int
	Candidates() []string
}

// Stats is a point-in-time count of live sessions.
type Stats struct {
	Sessions   int `json:"sessions"`
	Identified int `json:"identified"`
}

// event is the closed set of inputs processed by the hub loop.
type event interface {
	isEvent()
}

type registerEvent struct{ client *Client }

type unregisterEvent struct{ client *Client }

type identifiedEvent struct {
	client    *Client
	identity  identity.Identity
	votesCast int64
	totals    map[string]int64
}

type cursorEvent struct {
	client *Client
	x, y   float64
}

type typingEvent struct {
	client   *Client
	text     string
	isTyping bool
}

type voteEvent struct {
	client      *Client
	candidateID string
	voterName   string
	total       int64
	err         *errs.CustomError
}

type payoutEvent struct {
	client *Client
	err    *errs.CustomError
}

type errorEvent struct {
	client *Client
	err    *errs.CustomError
}

type broadcastEvent struct{ msg Message }

type statsEvent struct{ reply chan Stats }

type snapshotEvent struct{ reply chan []Peer }

func (registerEvent) isEvent()   {}
func (unregisterEvent) isEvent() {}
func (identifiedEvent) isEvent() {}
func (cursorEvent) isEvent()     {}
func (typingEvent) isEvent()     {}
func (voteEvent) isEvent()       {}
func (payoutEvent) isEvent()     {}
func (errorEvent) isEvent()      {}
func (broadcastEvent) isEvent()  {}
func (statsEvent) isEvent()      {}
func (snapshotEvent) isEvent()   {}

// Hub is the presence and broadcast engine.
// A single goroutine (Run) owns the session registry and every client's send queue;
// everything else talks to it through the event channel.
type Hub struct {
	registry *Registry

	// live clients keyed by connection id; owned by Run.
	clients map[string]*Client

	// highest total announced per candidate since the last reset; owned by Run.
	announced map[string]int64

	identities IdentityResolver
	votes      VoteRecorder

	events chan event

	// ctx bounds the durable round trips made by client read goroutines.
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger zerolog.Logger
}

// NewHub constructs a Hub. Call Run to start processing.
func NewHub(identities IdentityResolver, votes VoteRecorder, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:   NewRegistry(),
		clients:    make(map[string]*Client),
		announced:  make(map[string]int64),
		identities: identities,
		votes:      votes,
		events:     make(chan event, eventChannelBuffer),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "PresenceHub").Logger(),
	}
}

// Run processes events until Shutdown is called.
func (h *Hub) Run() {
	defer func() {
		h.closeAll()
		close(h.done)
		h.logger.Info().Msg("Hub Run loop finished.")
	}()

	h.logger.Info().Msg("Hub Run loop started.")

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case <-h.stop:
			return
		}
	}
}

// Shutdown stops the Run loop, closes every client queue and waits for the loop to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() {
		h.cancel()
		close(h.stop)
	})

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a client to the hub. It reports false when the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	return h.post(registerEvent{client: c})
}

// Broadcast queues msgType with payload for every connected client.
func (h *Hub) Broadcast(msgType MessageType, payload any) error {
	if !h.post(broadcastEvent{msg: NewMessage(msgType, payload)}) {
		return ErrHubStopped
	}
	return nil
}

// Stats returns the current session counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !h.post(statsEvent{reply: reply}) {
		return Stats{}, ErrHubStopped
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Snapshot returns the public view of every identified session.
func (h *Hub) Snapshot(ctx context.Context) ([]Peer, error) {
	reply := make(chan []Peer, 1)
	if !h.post(snapshotEvent{reply: reply}) {
		return nil, ErrHubStopped
	}

	select {
	case peers := <-reply:
		return peers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post hands ev to the Run loop, blocking while the queue is full.
func (h *Hub) post(ev event) bool {
	select {
	case <-h.stop:
		return false
	default:
	}

	select {
	case h.events <- ev:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) handle(ev event) {
	switch e := ev.(type) {
	case registerEvent:
		h.register(e.client)

	case unregisterEvent:
		h.disconnect(e.client, nil)

	case identifiedEvent:
		h.identify(e)

	case cursorEvent:
		s, ok := h.registry.UpdateCursor(e.client.id, e.x, e.y)
		if !ok {
			return
		}
		h.fanout(NewMessage(TypeCursorUpdate, CursorUpdatePayload{
			ConnectionID: s.ConnectionID,
			X:            s.Cursor.X,
			Y:            s.Cursor.Y,
			DisplayName:  s.Identity.DisplayName,
			DisplayColor: s.Identity.DisplayColor,
			Text:         s.TypingText,
			IsTyping:     s.IsTyping,
		}), s.ConnectionID)

	case typingEvent:
		s, ok := h.registry.UpdateTyping(e.client.id, e.text, e.isTyping)
		if !ok {
			return
		}
		h.fanout(NewMessage(TypeTypingUpdate, TypingUpdatePayload{
			ConnectionID: s.ConnectionID,
			Text:         s.TypingText,
			IsTyping:     s.IsTyping,
		}), s.ConnectionID)

	case voteEvent:
		h.vote(e)

	case payoutEvent:
		ack := PayoutAddressUpdatedPayload{Success: e.err == nil}
		if e.err != nil {
			ack.Code = e.err.Code
			ack.Message = e.err.Message
		}
		h.sendTo(e.client, NewMessage(TypePayoutAddressUpdated, ack))

	case errorEvent:
		h.sendTo(e.client, NewMessage(TypeError, ErrorPayload{Code: e.err.Code, Message: e.err.Message}))

	case broadcastEvent:
		if e.msg.Type == TypeVotesReset || e.msg.Type == TypeFullReset {
			h.announced = make(map[string]int64)
		}
		h.logger.Info().Str("msg_type", string(e.msg.Type)).Int("clients", len(h.clients)).Msg("Broadcasting notice.")
		h.fanout(e.msg, "")

	case statsEvent:
		e.reply <- Stats{Sessions: h.registry.Len(), Identified: h.registry.IdentifiedLen()}

	case snapshotEvent:
		e.reply <- h.peers()
	}
}

func (h *Hub) register(c *Client) {
	if _, exists := h.clients[c.id]; exists {
		h.logger.Warn().Str("connection_id", c.id).Msg("Duplicate connection id rejected.")
		close(c.send)
		return
	}

	h.clients[c.id] = c
	h.registry.Open(c.id)
	metrics.SessionsActive.WithLabelValues("connected").Inc()

	h.logger.Debug().
		Str("connection_id", c.id).
		Int("total_sessions", h.registry.Len()).
		Msg("Client connected.")
}

func (h *Hub) identify(e identifiedEvent) {
	c := e.client
	if !h.current(c) {
		return
	}

	s, ok := h.registry.Identify(c.id, e.identity)
	if !ok {
		return
	}
	metrics.SessionsActive.WithLabelValues("connected").Dec()
	metrics.SessionsActive.WithLabelValues("identified").Inc()

	h.sendTo(c, NewMessage(TypeIdentity, IdentityPayload{
		ConnectionID:  c.id,
		Token:         e.identity.Token,
		DisplayName:   e.identity.DisplayName,
		DisplayColor:  e.identity.DisplayColor,
		PayoutAddress: e.identity.PayoutAddress,
		VotesCast:     e.votesCast,
		VotesPerUser:  h.votes.VotesPerUser(),
	}))

	totals := e.totals
	if totals == nil {
		totals = map[string]int64{}
	}
	h.sendTo(c, NewMessage(TypeInitData, InitDataPayload{
		Peers:        h.peers(),
		Votes:        totals,
		VotesPerUser: h.votes.VotesPerUser(),
		Candidates:   h.votes.Candidates(),
	}))

	// a full queue above already disconnected c and announced its departure
	if !h.current(c) {
		return
	}

	h.fanout(NewMessage(TypeUserJoined, UserJoinedPayload{
		ConnectionID: s.ConnectionID,
		DisplayName:  s.Identity.DisplayName,
		DisplayColor: s.Identity.DisplayColor,
		Cursor:       s.Cursor,
	}), s.ConnectionID)

	h.logger.Info().
		Str("connection_id", c.id).
		Str("display_name", s.Identity.DisplayName).
		Int("identified_sessions", h.registry.IdentifiedLen()).
		Msg("Client identified.")
}

// vote announces a recorded vote. Totals are computed on the voters' read goroutines, so two
// votes on one candidate can arrive here out of order; the announced total never goes down.
func (h *Hub) vote(e voteEvent) {
	if e.err != nil {
		h.sendTo(e.client, NewMessage(TypeVoteError, VoteErrorPayload{
			CandidateID: e.candidateID,
			Code:        e.err.Code,
			Message:     e.err.Message,
		}))
		return
	}

	total := e.total
	if last := h.announced[e.candidateID]; last > total {
		total = last
	}
	h.announced[e.candidateID] = total

	h.fanout(NewMessage(TypeVoteUpdate, VoteUpdatePayload{
		CandidateID:      e.candidateID,
		NewTotal:         total,
		VoterDisplayName: e.voterName,
	}), "")

	h.sendTo(e.client, NewMessage(TypeVoteSuccess, VoteSuccessPayload{
		CandidateID: e.candidateID,
		NewTotal:    total,
	}))
}

// current reports whether c is still the registered client for its connection id.
func (h *Hub) current(c *Client) bool {
	registered, ok := h.clients[c.id]
	return ok && registered == c
}

func (h *Hub) peers() []Peer {
	sessions := h.registry.Snapshot()
	peers := make([]Peer, 0, len(sessions))
	for _, s := range sessions {
		peers = append(peers, s.Peer())
	}
	return peers
}

// sendTo queues msg for c alone. A full queue disconnects c.
func (h *Hub) sendTo(c *Client, msg Message) {
	if !h.current(c) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("msg_type", string(msg.Type)).Msg("Error marshaling message.")
		return
	}

	if !enqueue(c, data) {
		metrics.BroadcastDropsTotal.WithLabelValues(string(msg.Type)).Inc()
		h.disconnect(c, errs.NewError(errs.ErrSessionDropped))
	}
}

// fanout queues msg for every client except exceptID. Clients with a full queue are disconnected
// after the loop, which in turn announces their departure.
func (h *Hub) fanout(msg Message, exceptID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("msg_type", string(msg.Type)).Msg("Error marshaling message for broadcast.")
		return
	}

	var slow []*Client
	for id, c := range h.clients {
		if id == exceptID {
			continue
		}
		if !enqueue(c, data) {
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		metrics.BroadcastDropsTotal.WithLabelValues(string(msg.Type)).Inc()
		h.disconnect(c, errs.NewError(errs.ErrSessionDropped))
	}
}

func enqueue(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// disconnect removes c, closes its queue and announces the departure exactly once.
// A non-nil cause is sent to c as the close reason.
func (h *Hub) disconnect(c *Client, cause *errs.CustomError) {
	if !h.current(c) {
		return
	}

	reason := "connection closed"
	if cause != nil {
		reason = cause.Message
	}

	delete(h.clients, c.id)
	c.closeErr = cause
	close(c.send)

	s, ok := h.registry.Close(c.id)
	if !ok {
		return
	}

	if s.Identified {
		metrics.SessionsActive.WithLabelValues("identified").Dec()
	} else {
		metrics.SessionsActive.WithLabelValues("connected").Dec()
	}

	h.logger.Info().
		Str("connection_id", c.id).
		Str("reason", reason).
		Int("total_sessions", h.registry.Len()).
		Msg("Client left.")

	h.fanout(NewMessage(TypeUserLeft, UserLeftPayload{ConnectionID: c.id}), "")
}

func (h *Hub) closeAll() {
	// registrations that raced the stop signal still own an open queue
drain:
	for {
		select {
		case ev := <-h.events:
			if r, ok := ev.(registerEvent); ok {
				close(r.client.send)
			}
		default:
			break drain
		}
	}

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)

		if s, ok := h.registry.Close(id); ok {
			if s.Identified {
				metrics.SessionsActive.WithLabelValues("identified").Dec()
			} else {
				metrics.SessionsActive.WithLabelValues("connected").Dec()
			}
		}
	}
}
