package presence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"voteboard/internal/app/identity"
	"voteboard/internal/app/ledger"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/metrics"
	"voteboard/internal/pkg/randx"
	"voteboard/internal/pkg/req"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// sustained cursor moves per second accepted from one connection, and the burst on top.
	cursorRate  = 40
	cursorBurst = 10

	// longest payout address kept from an IDENTIFY claim.
	maxPayoutAddressLength = 255
)

// Client is one websocket connection and its position in the handshake.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// id is the connection id; never reused.
	id string

	// outbound frames; written by the hub only, closed by the hub only.
	send chan []byte

	// closeErr is set by the hub before it closes send and becomes the close frame reason.
	closeErr *errs.CustomError

	// read goroutine state.
	identity   identity.Identity
	identified bool

	cursorLimiter *rate.Limiter

	logger zerolog.Logger
}

// NewClient constructs a Client for wsConn with a fresh connection id.
func NewClient(hub *Hub, wsConn *websocket.Conn) *Client {
	id := randx.ConnectionID()

	return &Client{
		hub:           hub,
		conn:          wsConn,
		id:            id,
		send:          make(chan []byte, clientSendBuffer),
		cursorLimiter: rate.NewLimiter(cursorRate, cursorBurst),
		logger:        hub.logger.With().Str("connection_id", id).Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// ReadPump reads frames until the connection fails, then unregisters the client.
// Each frame is fully handled, including any durable round trip, before the next is read,
// so one connection's events reach the hub in the order they were sent.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.hub.post(unregisterEvent{client: c})

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInboundMessage(messageBytes []byte) {
	var inbound inboundMessage
	if err := json.Unmarshal(messageBytes, &inbound); err != nil {
		metrics.InboundEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.logger.Debug().Err(err).Msg("Client sent invalid JSON")
		return
	}

	switch inbound.Type {
	case TypeIdentify:
		c.handleIdentify(inbound.Payload)

	case TypeCursorMove, TypeTyping, TypeVote, TypeUpdatePayoutAddress:
		if !c.identified {
			c.count(inbound.Type, "dropped")
			return
		}
		c.dispatchIdentified(inbound.Type, inbound.Payload)

	default:
		metrics.InboundEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.logger.Warn().Str("msg_type", string(inbound.Type)).Msg("Client sent unsupported message type")
		c.hub.post(errorEvent{client: c, err: errs.NewError(errs.ErrInvalidParams)})
	}
}

func (c *Client) dispatchIdentified(msgType MessageType, payload json.RawMessage) {
	switch msgType {
	case TypeCursorMove:
		c.handleCursorMove(payload)
	case TypeTyping:
		c.handleTyping(payload)
	case TypeVote:
		c.handleVote(payload)
	case TypeUpdatePayoutAddress:
		c.handleUpdatePayoutAddress(payload)
	}
}

// handleIdentify resolves the claimed identity and binds it to this session.
// A second IDENTIFY on an identified connection is ignored. A claim that cannot be decoded,
// or whose token is not shaped like a server-issued one, is resolved as an anonymous claim.
func (c *Client) handleIdentify(raw json.RawMessage) {
	if c.identified {
		c.count(TypeIdentify, "dropped")
		c.logger.Debug().Msg("Ignoring repeated IDENTIFY")
		return
	}

	var p IdentifyPayload
	if err := decodePayload(raw, &p); err != nil {
		c.logger.Debug().Err(err).Msg("Unreadable IDENTIFY payload, treating as anonymous.")
		p = IdentifyPayload{}
	}

	token := p.Token
	if token != "" && !randx.IsValidUserToken(token) {
		c.logger.Debug().Int("token_length", len(token)).Msg("Claimed token is not a user token, minting a new one.")
		token = ""
	}

	payoutAddress := p.PayoutAddress
	if len(payoutAddress) > maxPayoutAddressLength {
		c.logger.Debug().Int("address_length", len(payoutAddress)).Msg("Dropping oversized payout address from IDENTIFY.")
		payoutAddress = ""
	}

	ctx := c.hub.ctx
	id, created := c.hub.identities.ResolveOrCreate(ctx, token, payoutAddress)

	votesCast, err := c.hub.votes.VotesCast(ctx, id.Token)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read votes cast; reporting 0.")
	}

	totals, err := c.hub.votes.Totals(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read vote totals for initial sync.")
	}

	c.identity = id
	c.identified = true
	c.count(TypeIdentify, "accepted")

	c.logger.Debug().Bool("created", created).Msg("Identity resolved.")

	c.hub.post(identifiedEvent{
		client:    c,
		identity:  id,
		votesCast: votesCast,
		totals:    totals,
	})
}

// handleCursorMove drops moves that are malformed or over the per-connection rate.
func (c *Client) handleCursorMove(raw json.RawMessage) {
	var p CursorMovePayload
	if err := decodePayload(raw, &p); err != nil || p.X == nil || p.Y == nil {
		c.count(TypeCursorMove, "invalid")
		return
	}

	if !c.cursorLimiter.Allow() {
		c.count(TypeCursorMove, "dropped")
		return
	}

	c.count(TypeCursorMove, "accepted")
	c.hub.post(cursorEvent{client: c, x: *p.X, y: *p.Y})
}

func (c *Client) handleTyping(raw json.RawMessage) {
	var p TypingPayload
	if err := decodePayload(raw, &p); err != nil {
		c.count(TypeTyping, "invalid")
		return
	}

	c.count(TypeTyping, "accepted")
	c.hub.post(typingEvent{client: c, text: p.Text, isTyping: p.IsTyping})
}

// handleVote records the vote durably, then hands the outcome to the hub.
func (c *Client) handleVote(raw json.RawMessage) {
	var p VotePayload
	if err := decodePayload(raw, &p); err != nil {
		c.count(TypeVote, "invalid")
		return
	}

	total, err := c.hub.votes.RecordVote(c.hub.ctx, p.CandidateID, c.identity.Token)

	ev := voteEvent{
		client:      c,
		candidateID: p.CandidateID,
		voterName:   c.identity.DisplayName,
		total:       total,
	}
	if err != nil {
		ev.err = c.voteError(err)
		c.count(TypeVote, "rejected")
		c.logger.Info().Err(err).Int("code", errs.CodeOf(ev.err)).Str("candidate_id", p.CandidateID).Msg("Vote not recorded.")
	} else {
		c.count(TypeVote, "accepted")
	}

	c.hub.post(ev)
}

func (c *Client) voteError(err error) *errs.CustomError {
	switch {
	case errors.Is(err, ledger.ErrUnknownCandidate), errors.Is(err, ledger.ErrInvalidCandidate):
		return errs.Wrap(errs.ErrUnknownCandidate, err)
	case errors.Is(err, ledger.ErrVoteLimitReached):
		return errs.Wrap(errs.ErrVoteLimitReached, err, c.hub.votes.VotesPerUser())
	default:
		return errs.Wrap(errs.ErrVoteFailed, err)
	}
}

func (c *Client) handleUpdatePayoutAddress(raw json.RawMessage) {
	var p UpdatePayoutAddressPayload
	if err := decodePayload(raw, &p); err != nil {
		c.count(TypeUpdatePayoutAddress, "invalid")
		return
	}

	ev := payoutEvent{client: c}

	err := c.hub.identities.UpdatePayoutAddress(c.hub.ctx, c.identity.Token, p.Address)
	switch {
	case err == nil:
		c.identity.PayoutAddress = p.Address
		c.count(TypeUpdatePayoutAddress, "accepted")
	case errors.Is(err, identity.ErrNotFound):
		ev.err = errs.Wrap(errs.ErrIdentityNotFound, err)
	default:
		ev.err = errs.Wrap(errs.ErrPayoutAddressUpdateFailed, err)
	}

	if ev.err != nil {
		c.count(TypeUpdatePayoutAddress, "rejected")
		c.logger.Info().Err(err).Int("code", errs.CodeOf(ev.err)).Msg("Payout address not updated.")
	}

	c.hub.post(ev)
}

func (c *Client) count(msgType MessageType, result string) {
	metrics.InboundEventsTotal.WithLabelValues(string(msgType), result).Inc()
}

// decodePayload decodes raw into dst and validates its struct tags.
// An absent or null payload decodes as an empty object.
func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
	}
	return req.Validator().Struct(dst)
}

// WritePump writes queued frames and periodic pings until the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage returns false when the WritePump loop should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage()); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// closeMessage is the close frame payload: empty for an ordinary close, the hub's reason otherwise.
func (c *Client) closeMessage() []byte {
	if c.closeErr == nil {
		return []byte{}
	}
	return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, fmt.Sprintf("%d: %s", c.closeErr.Code, c.closeErr.Message))
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// Serve registers c with its hub and starts both pumps. It returns false, closing the
// connection, when the hub has stopped.
func (c *Client) Serve() bool {
	if !c.hub.Register(c) {
		_ = c.conn.Close()
		return false
	}

	go c.WritePump()
	go c.ReadPump()
	return true
}
