package invite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/store"
	"github.com/4xmen/gapchat/internal/testutil"
)

type fixture struct {
	store   *store.Store
	manager *Manager
	events  *testutil.Recorder[events.Event]
	clock   *testutil.Clock
	admin   int64
	member  int64
	chatID  int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := testutil.NewStore(t)
	rec := &testutil.Recorder[events.Event]{}
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	admin := testutil.CreateUser(t, s, "admin")
	member := testutil.CreateUser(t, s, "member")
	other := testutil.CreateUser(t, s, "other")
	chat := testutil.CreateGroupChat(t, s, admin, member, other)

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		store:   s,
		manager: New(s, rec, opts...),
		events:  rec,
		clock:   clock,
		admin:   admin,
		member:  member,
		chatID:  chat.ID,
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.manager.Generate(ctx, f.member, f.chatID, time.Hour, lo.ToPtr(3))
	require.NoError(t, err)
	assert.NotZero(t, link.ID)
	assert.Len(t, link.Code, 2*codeBytes)
	assert.True(t, link.IsActive)
	assert.Zero(t, link.UsedCount)
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(link.ExpiresAt))

	stored, err := f.store.GetInviteByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, link.ID, stored.ID)
	require.NotNil(t, stored.MaxUses)
	assert.Equal(t, 3, *stored.MaxUses)

	defaulted, err := f.manager.Generate(ctx, f.admin, f.chatID, 0, nil)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(DefaultTTL).Equal(defaulted.ExpiresAt))
	assert.Nil(t, defaulted.MaxUses)
	assert.NotEqual(t, link.Code, defaulted.Code)
}

func TestGenerateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outsider := testutil.CreateUser(t, f.store, "outsider")
	direct := testutil.CreateDirectChat(t, f.store, f.admin, outsider)

	tests := []struct {
		name      string
		requester int64
		chatID    int64
		maxUses   *int
		kind      apperr.Kind
	}{
		{"unknown chat", f.admin, 9999, nil, apperr.KindNotFound},
		{"direct chat", f.admin, direct.ID, nil, apperr.KindValidation},
		{"non participant", outsider, f.chatID, nil, apperr.KindForbidden},
		{"zero max uses", f.admin, f.chatID, lo.ToPtr(0), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Generate(ctx, tt.requester, tt.chatID, time.Hour, tt.maxUses)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	links, err := f.store.ListInviteLinks(ctx, direct.ID, false)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestGenerateRetriesCollisions(t *testing.T) {
	codes := []string{"taken", "taken", "fresh"}
	var mu sync.Mutex
	src := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c, nil
	}

	f := newFixture(t, WithCodeSource(src))
	ctx := context.Background()

	first, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "taken", first.Code)

	second, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.Code)
}

func TestGenerateConflictAfterAttempts(t *testing.T) {
	calls := 0
	src := func() (string, error) {
		calls++
		return "same", nil
	}

	f := newFixture(t, WithCodeSource(src), WithAttempts(3))
	ctx := context.Background()

	_, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)
	calls = 0

	_, err = f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 3, calls)
}

func TestRedeemMaxUsesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	joiner := testutil.CreateUser(t, f.store, "joiner")
	late := testutil.CreateUser(t, f.store, "late")

	link, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, lo.ToPtr(1))
	require.NoError(t, err)

	chat, err := f.manager.Redeem(ctx, joiner, link.Code)
	require.NoError(t, err)
	assert.Contains(t, chat.Participants, joiner)

	joined := lo.Filter(f.events.Events(), func(e events.Event, _ int) bool { return e.Type == events.MemberJoined })
	require.Len(t, joined, 1)
	assert.Contains(t, joined[0].Recipients, joiner)

	_, err = f.manager.Redeem(ctx, late, link.Code)
	require.Error(t, err)
	assert.Equal(t, apperr.KindLimitReached, apperr.KindOf(err))

	stored, err := f.store.GetInviteByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestRedeemRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	joiner := testutil.CreateUser(t, f.store, "joiner")

	link, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)

	_, err = f.manager.Redeem(ctx, joiner, "no-such-code")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.manager.Redeem(ctx, joiner, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.manager.Redeem(ctx, f.member, link.Code)
	assert.Equal(t, apperr.KindAlreadyMember, apperr.KindOf(err))

	require.NoError(t, f.manager.Revoke(ctx, f.admin, link.ID))
	_, err = f.manager.Redeem(ctx, joiner, link.Code)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stored, err := f.store.GetInviteByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.Zero(t, stored.UsedCount)
}

func TestRedeemExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	joiner := testutil.CreateUser(t, f.store, "joiner")

	link, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.manager.Redeem(ctx, joiner, link.Code)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	stored, err := f.store.GetInviteByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	_, err = f.manager.Redeem(ctx, joiner, link.Code)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRedeemConcurrent(t *testing.T) {
	const limit = 3
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, lo.ToPtr(limit))
	require.NoError(t, err)

	users := make([]int64, 2*limit)
	for i := range users {
		users[i] = testutil.CreateUser(t, f.store, fmt.Sprintf("user%d", i))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined []int64
		kinds  []apperr.Kind
	)
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Redeem(ctx, u, link.Code)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				joined = append(joined, u)
				return
			}
			kinds = append(kinds, apperr.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Len(t, joined, limit)
	require.Len(t, kinds, limit)
	for _, k := range kinds {
		assert.Equal(t, apperr.KindLimitReached, k)
	}

	stored, err := f.store.GetInviteByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, limit, stored.UsedCount)

	participants, err := f.store.ParticipantIDs(ctx, f.chatID)
	require.NoError(t, err)
	for _, u := range joined {
		assert.Contains(t, participants, u)
	}
	assert.Len(t, participants, 3+limit)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byMember, err := f.manager.Generate(ctx, f.member, f.chatID, time.Hour, nil)
	require.NoError(t, err)
	byAdmin, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)

	err = f.manager.Revoke(ctx, f.member, byAdmin.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.manager.Revoke(ctx, f.member, byMember.ID))
	require.NoError(t, f.manager.Revoke(ctx, f.admin, byAdmin.ID))
	require.NoError(t, f.manager.Revoke(ctx, f.admin, byAdmin.ID))

	err = f.manager.Revoke(ctx, f.admin, 9999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	all, err := f.store.ListInviteLinks(ctx, f.chatID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, l := range all {
		assert.False(t, l.IsActive)
	}
}

func TestListSweepsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outsider := testutil.CreateUser(t, f.store, "outsider")

	short, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Minute, nil)
	require.NoError(t, err)
	long, err := f.manager.Generate(ctx, f.admin, f.chatID, time.Hour, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	links, err := f.manager.List(ctx, f.member, f.chatID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, long.ID, links[0].ID)

	stored, err := f.store.GetInviteByID(ctx, short.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	_, err = f.manager.List(ctx, outsider, f.chatID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ttl := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		_, err := f.manager.Generate(ctx, f.admin, f.chatID, ttl, nil)
		require.NoError(t, err)
	}

	f.clock.Advance(5 * time.Minute)
	n, err := f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
