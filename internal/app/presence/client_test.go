package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voteboard/internal/app/identity"
	"voteboard/internal/app/ledger"
	"voteboard/internal/app/store/memory"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/randx"
)

// ---------------------------------------------------------------------------
// Test environment
// ---------------------------------------------------------------------------

// flakyRepo fails vote appends while fail is set and payout writes while failPayout is set.
type flakyRepo struct {
	*memory.Store
	fail       atomic.Bool
	failPayout atomic.Bool
}

func (r *flakyRepo) AppendVote(ctx context.Context, v ledger.Vote, limit int) (int64, error) {
	if r.fail.Load() {
		return 0, errors.New("write failed")
	}
	return r.Store.AppendVote(ctx, v, limit)
}

func (r *flakyRepo) UpdatePayoutAddress(ctx context.Context, token, address string) error {
	if r.failPayout.Load() {
		return errors.New("write failed")
	}
	return r.Store.UpdatePayoutAddress(ctx, token, address)
}

type testEnv struct {
	hub        *Hub
	server     *httptest.Server
	repo       *flakyRepo
	identities *identity.Store
	votes      *ledger.Ledger
}

func newTestEnv(t *testing.T, opts ledger.Options) *testEnv {
	t.Helper()

	repo := &flakyRepo{Store: memory.New()}
	ids := identity.NewStore(repo, zerolog.Nop())
	votes := ledger.New(repo, opts, zerolog.Nop())
	hub := NewHub(ids, votes, zerolog.Nop())
	go hub.Run()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn).Serve()
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})

	return &testEnv{hub: hub, server: server, repo: repo, identities: ids, votes: votes}
}

// rawDial opens a websocket. Events the client sends afterwards are ordered after its registration.
func (e *testEnv) rawDial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dial opens a websocket and waits until the hub has registered it, so that later events
// from other connections are fanned out to it. No other connection may be closing meanwhile.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	before, err := e.hub.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	conn := e.rawDial(t)
	waitStats(t, e.hub, before.Sessions+1)
	return conn
}

// join dials and identifies with token, returning the IDENTITY payload.
func (e *testEnv) join(t *testing.T, token string) (*websocket.Conn, IdentityPayload) {
	t.Helper()

	conn := e.rawDial(t)
	send(t, conn, TypeIdentify, IdentifyPayload{Token: token})

	var id IdentityPayload
	decode(t, readUntil(t, conn, TypeIdentity), &id)
	readUntil(t, conn, TypeInitData)
	return conn, id
}

type frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
	raw     []byte
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, payload any) {
	t.Helper()

	data, err := json.Marshal(map[string]any{"type": msgType, "payload": payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of type want arrives, returning it and failing the test
// if any frame of a type listed in forbid is seen first.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType, forbid ...MessageType) frame {
	t.Helper()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
			t.Fatalf("deadline: %v", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		f.raw = data

		if f.Type == want {
			return f
		}
		for _, bad := range forbid {
			if f.Type == bad {
				t.Fatalf("got %s before %s: %s", f.Type, want, data)
			}
		}
	}
}

func decode(t *testing.T, f frame, dst any) {
	t.Helper()

	if err := json.Unmarshal(f.Payload, dst); err != nil {
		t.Fatalf("decode %s payload: %v", f.Type, err)
	}
}

var colorPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestIdentifyAndJoinedBroadcast(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10, EnforceLimit: true})

	a := env.dial(t)
	b := env.dial(t)

	sendRaw(t, a, `{"type":"IDENTIFY","payload":{"token":null}}`)

	var id IdentityPayload
	decode(t, readUntil(t, a, TypeIdentity), &id)
	if !randx.IsValidUserToken(id.Token) {
		t.Errorf("token %q", id.Token)
	}
	if len(strings.Fields(id.DisplayName)) != 2 {
		t.Errorf("display name %q", id.DisplayName)
	}
	if !colorPattern.MatchString(id.DisplayColor) {
		t.Errorf("display color %q", id.DisplayColor)
	}
	if id.VotesPerUser != 10 || id.VotesCast != 0 {
		t.Errorf("vote allowance = %d/%d", id.VotesCast, id.VotesPerUser)
	}

	joined := readUntil(t, b, TypeUserJoined)
	var p UserJoinedPayload
	decode(t, joined, &p)
	if p.DisplayName != id.DisplayName || p.DisplayColor != id.DisplayColor || p.ConnectionID != id.ConnectionID {
		t.Errorf("joined = %+v, identity = %+v", p, id)
	}
	if strings.Contains(string(joined.raw), id.Token) {
		t.Error("token leaked to another client")
	}
}

func TestKnownTokenKeepsIdentity(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, first := env.join(t, "")
	_ = a.Close()

	_, again := env.join(t, first.Token)
	if again.Token != first.Token || again.DisplayName != first.DisplayName || again.DisplayColor != first.DisplayColor {
		t.Fatalf("reconnect identity = %+v, want %+v", again, first)
	}
	if again.ConnectionID == first.ConnectionID {
		t.Error("connection id reused across connections")
	}
}

func TestSameTokenTwoSessions(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	_, first := env.join(t, "")
	_, second := env.join(t, first.Token)

	peers, err := env.hub.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(peers) != 2 || second.Token != first.Token {
		t.Fatalf("peers = %+v", peers)
	}
}

func TestVoteBroadcastToAll(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10, EnforceLimit: true})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := env.votes.RecordVote(ctx, "candidate-1", fmt.Sprintf("user_seed%d", i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	a, idA := env.join(t, "")
	b, _ := env.join(t, "")

	send(t, a, TypeVote, VotePayload{CandidateID: "candidate-1"})

	for _, conn := range []*websocket.Conn{a, b} {
		var upd VoteUpdatePayload
		decode(t, readUntil(t, conn, TypeVoteUpdate), &upd)
		if upd.CandidateID != "candidate-1" || upd.NewTotal != 5 || upd.VoterDisplayName != idA.DisplayName {
			t.Errorf("update = %+v", upd)
		}
	}

	var ack VoteSuccessPayload
	decode(t, readUntil(t, a, TypeVoteSuccess), &ack)
	if ack.NewTotal != 5 {
		t.Errorf("ack = %+v", ack)
	}

	// the acknowledgment is private to the voter
	send(t, a, TypeTyping, TypingPayload{Text: "hello", IsTyping: true})
	readUntil(t, b, TypeTypingUpdate, TypeVoteSuccess)
}

func TestVoteStoreFailure(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := env.votes.RecordVote(ctx, "candidate-1", "user_seed"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	a, _ := env.join(t, "")
	b, _ := env.join(t, "")

	env.repo.fail.Store(true)
	send(t, a, TypeVote, VotePayload{CandidateID: "candidate-1"})

	var verr VoteErrorPayload
	decode(t, readUntil(t, a, TypeVoteError, TypeVoteSuccess, TypeVoteUpdate), &verr)
	if verr.Code != errs.ErrVoteFailed || verr.CandidateID != "candidate-1" {
		t.Errorf("vote error = %+v", verr)
	}

	// a later event from A reaches B; a vote broadcast would have arrived first
	send(t, a, TypeTyping, TypingPayload{Text: "after", IsTyping: true})
	readUntil(t, b, TypeTypingUpdate, TypeVoteUpdate)

	if n, _ := env.votes.Count(ctx, "candidate-1"); n != 4 {
		t.Errorf("count = %d after failed vote, want 4", n)
	}
}

func TestVoteLimitEnforced(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 2, EnforceLimit: true})

	a, _ := env.join(t, "")
	for i := 0; i < 2; i++ {
		send(t, a, TypeVote, VotePayload{CandidateID: "candidate-1"})
		readUntil(t, a, TypeVoteSuccess, TypeVoteError)
	}

	send(t, a, TypeVote, VotePayload{CandidateID: "candidate-2"})
	var verr VoteErrorPayload
	decode(t, readUntil(t, a, TypeVoteError, TypeVoteSuccess), &verr)
	if verr.Code != errs.ErrVoteLimitReached {
		t.Errorf("code = %d, want %d", verr.Code, errs.ErrVoteLimitReached)
	}
	if !strings.Contains(verr.Message, "2") {
		t.Errorf("message %q does not name the allowance", verr.Message)
	}

	_ = a.Close()
	_, again := env.join(t, "")
	if again.VotesCast != 0 {
		t.Errorf("new identity votesCast = %d", again.VotesCast)
	}
}

func TestVotesCastSurvivesReconnect(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10, EnforceLimit: true})

	a, id := env.join(t, "")
	send(t, a, TypeVote, VotePayload{CandidateID: "candidate-1"})
	readUntil(t, a, TypeVoteSuccess)
	_ = a.Close()

	_, again := env.join(t, id.Token)
	if again.VotesCast != 1 {
		t.Errorf("votesCast = %d, want 1", again.VotesCast)
	}
}

func TestUnidentifiedSessionIsInvisible(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")
	c := env.dial(t)

	send(t, c, TypeCursorMove, map[string]any{"x": 10, "y": 10})
	send(t, c, TypeTyping, TypingPayload{Text: "ghost", IsTyping: true})
	send(t, c, TypeVote, VotePayload{CandidateID: "candidate-1"})

	peers, _ := env.hub.Snapshot(context.Background())
	if len(peers) != 1 {
		t.Fatalf("snapshot has %d peers, want 1", len(peers))
	}

	send(t, c, TypeIdentify, IdentifyPayload{})
	readUntil(t, a, TypeUserJoined, TypeCursorUpdate, TypeTypingUpdate, TypeVoteUpdate)

	if n, _ := env.votes.Count(context.Background(), "candidate-1"); n != 0 {
		t.Errorf("unidentified vote counted: %d", n)
	}
}

func TestCursorClampedAndMergedWithTyping(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, idA := env.join(t, "")
	b, _ := env.join(t, "")

	send(t, a, TypeTyping, TypingPayload{Text: "hi", IsTyping: true})
	var typing TypingUpdatePayload
	decode(t, readUntil(t, b, TypeTypingUpdate), &typing)
	if typing.ConnectionID != idA.ConnectionID || typing.Text != "hi" || !typing.IsTyping {
		t.Errorf("typing = %+v", typing)
	}

	send(t, a, TypeCursorMove, map[string]any{"x": -5, "y": 500})
	var cur CursorUpdatePayload
	decode(t, readUntil(t, b, TypeCursorUpdate), &cur)
	if cur.X != 0 || cur.Y != 100 {
		t.Errorf("cursor = (%v, %v), want (0, 100)", cur.X, cur.Y)
	}
	if cur.Text != "hi" || !cur.IsTyping || cur.DisplayName != idA.DisplayName {
		t.Errorf("cursor update not merged with typing: %+v", cur)
	}
}

func TestMalformedCursorIgnored(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")
	b, _ := env.join(t, "")

	sendRaw(t, a, `{"type":"CURSOR_MOVE","payload":{"x":"left","y":3}}`)
	sendRaw(t, a, `{"type":"CURSOR_MOVE","payload":{"x":3}}`)
	sendRaw(t, a, `not json`)
	send(t, a, TypeTyping, TypingPayload{Text: "still here"})

	readUntil(t, b, TypeTypingUpdate, TypeCursorUpdate)
}

func TestDepartureBroadcastOnce(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")
	b, idB := env.join(t, "")

	_ = b.Close()

	var left UserLeftPayload
	decode(t, readUntil(t, a, TypeUserLeft), &left)
	if left.ConnectionID != idB.ConnectionID {
		t.Errorf("departure for %q, want %q", left.ConnectionID, idB.ConnectionID)
	}

	waitStats(t, env.hub, 1)
	peers, _ := env.hub.Snapshot(context.Background())
	for _, p := range peers {
		if p.ConnectionID == idB.ConnectionID {
			t.Fatal("closed session still in snapshot")
		}
	}

	env.join(t, "")
	readUntil(t, a, TypeUserJoined, TypeUserLeft)
}

func TestPayoutAddressUpdateIsPrivate(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, idA := env.join(t, "")
	b, _ := env.join(t, "")

	send(t, a, TypeUpdatePayoutAddress, UpdatePayoutAddressPayload{Address: "So1anaAddr"})

	var ack PayoutAddressUpdatedPayload
	decode(t, readUntil(t, a, TypePayoutAddressUpdated), &ack)
	if !ack.Success {
		t.Fatal("payout update failed")
	}
	if got, _ := env.identities.Lookup(idA.Token); got.PayoutAddress != "So1anaAddr" {
		t.Errorf("stored payout = %q", got.PayoutAddress)
	}

	send(t, a, TypeTyping, TypingPayload{Text: "hello"})
	f := readUntil(t, b, TypeTypingUpdate, TypePayoutAddressUpdated)
	if strings.Contains(string(f.raw), "So1anaAddr") {
		t.Error("payout address leaked")
	}
}

func TestPayoutAddressUpdateFailureCodes(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")

	env.repo.failPayout.Store(true)
	send(t, a, TypeUpdatePayoutAddress, UpdatePayoutAddressPayload{Address: "Addr1"})

	var ack PayoutAddressUpdatedPayload
	decode(t, readUntil(t, a, TypePayoutAddressUpdated), &ack)
	if ack.Success || ack.Code != errs.ErrPayoutAddressUpdateFailed || ack.Message == "" {
		t.Errorf("durable failure ack = %+v", ack)
	}

	env.repo.failPayout.Store(false)
	if err := env.identities.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	send(t, a, TypeUpdatePayoutAddress, UpdatePayoutAddressPayload{Address: "Addr2"})

	decode(t, readUntil(t, a, TypePayoutAddressUpdated), &ack)
	if ack.Success || ack.Code != errs.ErrIdentityNotFound {
		t.Errorf("unknown identity ack = %+v", ack)
	}
}

func TestIdentifyOutOfShapeClaimStillIdentifies(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	claims := []struct {
		name string
		raw  string
	}{
		{"long foreign token", `{"type":"IDENTIFY","payload":{"token":"client_` + strings.Repeat("x", 70) + `"}}`},
		{"short user token", `{"type":"IDENTIFY","payload":{"token":"user_short"}}`},
		{"oversized payout address", `{"type":"IDENTIFY","payload":{"payoutAddress":"` + strings.Repeat("A", 300) + `"}}`},
		{"wrongly typed token", `{"type":"IDENTIFY","payload":{"token":42}}`},
	}

	for _, claim := range claims {
		t.Run(claim.name, func(t *testing.T) {
			conn := env.rawDial(t)
			sendRaw(t, conn, claim.raw)

			var id IdentityPayload
			decode(t, readUntil(t, conn, TypeIdentity, TypeError), &id)
			if !randx.IsValidUserToken(id.Token) {
				t.Errorf("token %q is not a user token", id.Token)
			}
			if id.PayoutAddress != "" {
				t.Errorf("payout address kept: %d bytes", len(id.PayoutAddress))
			}
			readUntil(t, conn, TypeInitData, TypeError)
		})
	}
}

func TestDroppedClientReceivesCloseReason(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Client{
			conn:     conn,
			send:     make(chan []byte),
			closeErr: errs.NewError(errs.ErrSessionDropped),
			logger:   zerolog.Nop(),
		}
		close(c.send)
		c.WritePump()
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read err = %v, want a close frame", err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater || !strings.HasPrefix(closeErr.Text, fmt.Sprint(errs.ErrSessionDropped)) {
		t.Errorf("close = %d %q", closeErr.Code, closeErr.Text)
	}
}

func TestRepeatedIdentifyIgnored(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")
	b, _ := env.join(t, "")

	send(t, a, TypeIdentify, IdentifyPayload{})
	send(t, a, TypeVote, VotePayload{CandidateID: "candidate-1"})

	readUntil(t, a, TypeVoteSuccess, TypeIdentity, TypeInitData)
	readUntil(t, b, TypeVoteUpdate, TypeUserJoined)

	if s, _ := env.hub.Stats(context.Background()); s.Identified != 2 {
		t.Errorf("identified = %d", s.Identified)
	}
}

func TestAdminBroadcastReachesAll(t *testing.T) {
	env := newTestEnv(t, ledger.Options{VotesPerUser: 10})

	a, _ := env.join(t, "")
	b := env.dial(t)

	if err := env.hub.Broadcast(TypeVotesReset, ResetPayload{Message: "Votes have been reset"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	readUntil(t, a, TypeVotesReset)
	readUntil(t, b, TypeVotesReset)
}
