package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"
	"team-collab-backend/pkg/workspaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	userID string
	out    chan Event

	mu     sync.Mutex
	closed bool
}

func newFakeConn(id, userID string, buffer int) *fakeConn {
	return &fakeConn{id: id, userID: userID, out: make(chan Event, buffer)}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Deliver(ev Event) bool {
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) drain() []Event {
	var evs []Event
	for {
		select {
		case ev := <-c.out:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

type chatFixture struct {
	db      *database.LocalDatabase
	members *workspaces.Service
	service *Service
	ws      *models.Workspace
	alice   *models.User
	bob     *models.User
	eve     *models.User
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.NewLocalDatabase("")
	require.NoError(t, err)

	f := &chatFixture{
		db:    db,
		alice: &models.User{Email: "alice@example.com", Name: "Alice"},
		bob:   &models.User{Email: "bob@example.com", Name: "Bob"},
		eve:   &models.User{Email: "eve@example.com", Name: "Eve"},
	}
	for _, u := range []*models.User{f.alice, f.bob, f.eve} {
		require.NoError(t, db.CreateUser(ctx, u))
	}
	f.ws = &models.Workspace{Name: "ws1", AdminID: f.alice.ID, MemberIDs: []string{f.bob.ID}}
	require.NoError(t, db.CreateWorkspace(ctx, f.ws))

	// all sends share one instant so ordering relies on the room
	clk := clock.NewFake(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	f.members = workspaces.NewService(db, logger)
	f.service = NewService(db, f.members, NewRegistry(), clk, logger)
	f.members.OnMemberRemoved(f.service.EvictMember)
	return f
}

func TestSend_BroadcastToAllJoined(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	c1 := newFakeConn("c1", f.alice.ID, 8)
	c2 := newFakeConn("c2", f.bob.ID, 8)

	require.NoError(t, f.service.Join(ctx, c1, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, c2, f.ws.ID))

	view, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{f.alice.ID}, view.ReadBy)
	assert.Equal(t, "Alice", view.Sender.Name)

	for _, c := range []*fakeConn{c1, c2} {
		evs := c.drain()
		require.Len(t, evs, 1, c.id)
		assert.Equal(t, EventMessage, evs[0].Type)
		assert.Equal(t, "hello", evs[0].Message.Message)
		assert.Equal(t, []string{f.alice.ID}, evs[0].Message.ReadBy)
	}
}

func TestJoin_RequiresMembership(t *testing.T) {
	f := newChatFixture(t)
	intruder := newFakeConn("x", f.eve.ID, 8)

	err := f.service.Join(context.Background(), intruder, f.ws.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeNotWorkspaceMember, apperr.CodeOf(err))
	assert.Empty(t, f.service.Registry().Members(f.ws.ID))

	_, err = f.service.Send(context.Background(), f.ws.ID, f.eve.ID, "let me in")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestJoin_Idempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	c := newFakeConn("c1", f.alice.ID, 8)

	require.NoError(t, f.service.Join(ctx, c, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, c, f.ws.ID))
	assert.Len(t, f.service.Registry().Members(f.ws.ID), 1)

	_, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "once")
	require.NoError(t, err)
	assert.Len(t, c.drain(), 1)
}

func TestJoinAfterSend_SeesOnlyLaterMessages(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	early := newFakeConn("early", f.alice.ID, 8)
	late := newFakeConn("late", f.bob.ID, 8)

	require.NoError(t, f.service.Join(ctx, early, f.ws.ID))
	_, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "before")
	require.NoError(t, err)

	require.NoError(t, f.service.Join(ctx, late, f.ws.ID))
	_, err = f.service.Send(ctx, f.ws.ID, f.alice.ID, "after")
	require.NoError(t, err)

	assert.Len(t, early.drain(), 2)
	lateEvents := late.drain()
	require.Len(t, lateEvents, 1)
	assert.Equal(t, "after", lateEvents[0].Message.Message)

	// history still has both
	history, err := f.service.ListHistory(ctx, f.bob.ID, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "before", history[0].Message)
}

func TestConcurrentSends_SameOrderEverywhere(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	const n = 40
	c1 := newFakeConn("c1", f.alice.ID, n)
	c2 := newFakeConn("c2", f.bob.ID, n)
	require.NoError(t, f.service.Join(ctx, c1, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, c2, f.ws.ID))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := f.alice.ID
			if i%2 == 1 {
				sender = f.bob.ID
			}
			_, err := f.service.Send(ctx, f.ws.ID, sender, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	texts := func(evs []Event) []string {
		out := make([]string, 0, len(evs))
		for _, ev := range evs {
			out = append(out, ev.Message.Message)
		}
		return out
	}
	got1, got2 := texts(c1.drain()), texts(c2.drain())
	require.Len(t, got1, n)
	assert.Equal(t, got1, got2)

	history, err := f.service.ListHistory(ctx, f.alice.ID, f.ws.ID)
	require.NoError(t, err)
	historyTexts := make([]string, 0, len(history))
	for i, h := range history {
		historyTexts = append(historyTexts, h.Message)
		if i > 0 {
			assert.True(t, h.CreatedAt.After(history[i-1].CreatedAt))
		}
	}
	assert.Equal(t, got1, historyTexts)
}

func TestMarkRead_IdempotentWithSingleReceipt(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	c := newFakeConn("c1", f.alice.ID, 8)
	require.NoError(t, f.service.Join(ctx, c, f.ws.ID))

	view, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "read me")
	require.NoError(t, err)
	c.drain()

	first, err := f.service.MarkRead(ctx, view.ID, f.bob.ID)
	require.NoError(t, err)
	second, err := f.service.MarkRead(ctx, view.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.alice.ID, f.bob.ID}, first.ReadBy)
	assert.Equal(t, first.ReadBy, second.ReadBy)

	evs := c.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, EventReadReceipt, evs[0].Type)
	assert.Equal(t, f.bob.ID, evs[0].Receipt.UserID)

	_, err = f.service.MarkRead(ctx, "missing", f.bob.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeChatNotFound, apperr.CodeOf(err))
}

func TestDisconnect_RemovesFromAllRooms(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	other := &models.Workspace{Name: "ws2", AdminID: f.alice.ID, MemberIDs: []string{}}
	require.NoError(t, f.db.CreateWorkspace(ctx, other))

	c := newFakeConn("c1", f.alice.ID, 8)
	require.NoError(t, f.service.Join(ctx, c, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, c, other.ID))

	f.service.Disconnect(c)
	assert.Empty(t, f.service.Registry().Members(f.ws.ID))
	assert.Empty(t, f.service.Registry().Members(other.ID))

	// broadcasting to a departed member is a no-op
	_, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "anyone?")
	require.NoError(t, err)
	assert.Empty(t, c.drain())
}

func TestSlowConsumerIsDropped(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	slow := newFakeConn("slow", f.bob.ID, 1)
	fast := newFakeConn("fast", f.alice.ID, 8)
	require.NoError(t, f.service.Join(ctx, slow, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, fast, f.ws.ID))

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, text)
		require.NoError(t, err)
	}

	assert.True(t, slow.isClosed())
	assert.False(t, f.service.Registry().IsMember(slow, f.ws.ID))
	assert.Len(t, fast.drain(), 3)
}

func TestHandle_Frames(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	c := newFakeConn("c1", f.bob.ID, 8)
	outsider := newFakeConn("c2", f.eve.ID, 8)

	f.service.Handle(ctx, c, Command{Type: CommandJoin, WorkspaceID: f.ws.ID, RequestID: "r1"})
	f.service.Handle(ctx, c, Command{Type: CommandSend, WorkspaceID: f.ws.ID, Message: "hi", RequestID: "r2"})
	evs := c.drain()
	require.Len(t, evs, 2)
	assert.Equal(t, EventJoined, evs[0].Type)
	assert.Equal(t, "r1", evs[0].RequestID)
	assert.Equal(t, EventMessage, evs[1].Type)

	f.service.Handle(ctx, outsider, Command{Type: CommandJoin, WorkspaceID: f.ws.ID, RequestID: "r3"})
	errs := outsider.drain()
	require.Len(t, errs, 1)
	assert.Equal(t, EventError, errs[0].Type)
	assert.Equal(t, apperr.CodeNotWorkspaceMember, errs[0].Error.Code)
	assert.Equal(t, "r3", errs[0].RequestID)
	assert.Empty(t, c.drain(), "errors go only to the requester")

	f.service.Handle(ctx, c, Command{Type: "dance"})
	unknown := c.drain()
	require.Len(t, unknown, 1)
	assert.Equal(t, apperr.CodeValidation, unknown[0].Error.Code)

	f.service.Handle(ctx, c, Command{Type: CommandLeave, WorkspaceID: f.ws.ID})
	left := c.drain()
	require.Len(t, left, 1)
	assert.Equal(t, EventLeft, left[0].Type)
	assert.False(t, f.service.Registry().IsMember(c, f.ws.ID))
}

func TestRegistry_SerializeMonotonic(t *testing.T) {
	r := NewRegistry()
	at := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Serialize("w", at, func(createdAt time.Time) error {
			stamps = append(stamps, createdAt)
			return nil
		}))
	}
	assert.Equal(t, at.Truncate(time.Millisecond), stamps[0])
	assert.Equal(t, stamps[0].Add(time.Millisecond), stamps[1])
	assert.Equal(t, stamps[1].Add(time.Millisecond), stamps[2])

	// a failed attempt does not consume a timestamp
	_ = r.Serialize("w", at, func(time.Time) error { return assert.AnError })
	require.NoError(t, r.Serialize("w", at, func(createdAt time.Time) error {
		assert.Equal(t, stamps[2].Add(time.Millisecond), createdAt)
		return nil
	}))
}

func TestRemovedMemberIsEvicted(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := newFakeConn("a", f.alice.ID, 8)
	bob1 := newFakeConn("b1", f.bob.ID, 8)
	bob2 := newFakeConn("b2", f.bob.ID, 8)
	for _, c := range []*fakeConn{alice, bob1, bob2} {
		require.NoError(t, f.service.Join(ctx, c, f.ws.ID))
	}

	_, err := f.members.RemoveMember(ctx, f.alice.ID, f.ws.ID, f.bob.ID)
	require.NoError(t, err)

	for _, c := range []*fakeConn{bob1, bob2} {
		evs := c.drain()
		require.Len(t, evs, 1)
		assert.Equal(t, EventLeft, evs[0].Type)
		assert.Equal(t, f.ws.ID, evs[0].WorkspaceID)
		assert.False(t, f.service.Registry().IsMember(c, f.ws.ID))
	}

	_, err = f.service.Send(ctx, f.ws.ID, f.alice.ID, "after removal")
	require.NoError(t, err)
	assert.Empty(t, bob1.drain())
	assert.Empty(t, bob2.drain())
	assert.Len(t, alice.drain(), 1)

	err = f.service.Join(ctx, bob1, f.ws.ID)
	assert.Equal(t, apperr.CodeNotWorkspaceMember, apperr.CodeOf(err))
}

func TestMarkRead_DoesNotConsumeTimestamps(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "one")
	require.NoError(t, err)
	_, err = f.service.MarkRead(ctx, first.ID, f.bob.ID)
	require.NoError(t, err)
	second, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "two")
	require.NoError(t, err)

	// the clock is frozen, so the only gap is the room's 1ms step
	assert.Equal(t, first.CreatedAt.Add(time.Millisecond), second.CreatedAt)
}

func TestRegistry_EmptyRoomsArePruned(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	reg := f.service.Registry()
	a := newFakeConn("a", f.alice.ID, 8)
	b := newFakeConn("b", f.bob.ID, 8)
	require.NoError(t, f.service.Join(ctx, a, f.ws.ID))
	require.NoError(t, f.service.Join(ctx, b, f.ws.ID))

	first, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "one")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Rooms())

	f.service.Leave(a, f.ws.ID)
	assert.Equal(t, 1, reg.Rooms())
	f.service.Disconnect(b)
	assert.Equal(t, 0, reg.Rooms())

	// sending into an empty room leaves nothing behind and stays ordered
	second, err := f.service.Send(ctx, f.ws.ID, f.alice.ID, "two")
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Rooms())
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	require.NoError(t, f.service.Join(ctx, b, f.ws.ID))
	_, err = f.members.RemoveMember(ctx, f.alice.ID, f.ws.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Rooms())
}

func TestRegistry_HeldRoomSurvivesLastLeave(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c", "u", 8)
	r.Join(c, "w")

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var last time.Time
	require.NoError(t, r.Serialize("w", at, func(createdAt time.Time) error {
		r.DisconnectAll(c)
		assert.Equal(t, 1, r.Rooms())
		last = createdAt
		return nil
	}))
	assert.Equal(t, 0, r.Rooms())

	require.NoError(t, r.Serialize("w", at, func(createdAt time.Time) error {
		assert.Equal(t, last.Add(time.Millisecond), createdAt)
		return nil
	}))
}
