package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
)

func TestFindOrCreateDirectCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, created, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, c1.IsGroup)
	assert.Equal(t, int64(0), c1.UnreadFor(alice.ID))
	assert.Equal(t, int64(0), c1.UnreadFor(bob.ID))

	c2, created, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	c3, created, err := f.resolver.FindOrCreateDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c3.ID)

	assert.Equal(t, 1, f.convs.Count())
	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notifier.ChannelConversations, calls[0].Channel)
	assert.Equal(t, notifier.EventConversationCreated, calls[0].Event)
	payload := calls[0].Payload.(notifier.ConversationCreated)
	assert.Equal(t, c1.ID, payload.ConversationID)
	assert.Equal(t, alice.ID, payload.CreatedBy)
}

func TestFindOrCreateDirectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		peer string
		want error
	}{
		{"self", alice.ID, ErrSelfReference},
		{"empty", "", ErrInvalidMember},
		{"unknown", "nobody", ErrInvalidMember},
		{"inactive", dave.ID, ErrInvalidMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, tc.peer)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 0, f.convs.Count())
	assert.Empty(t, f.rec.Calls())
}

func TestFindOrCreateDirectConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 32
	ids := make([]string, callers)
	created := make([]bool, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			c, ok, err := f.resolver.FindOrCreateDirect(ctx, a, b)
			errs[i] = err
			created[i] = ok
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.convs.Count())
	assert.Len(t, f.rec.Calls(), 1)
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID, carol.ID, bob.ID, alice.ID}, "  Weekend plans ")
	require.NoError(t, err)
	assert.True(t, c.IsGroup)
	assert.Equal(t, "Weekend plans", c.GroupName)
	assert.Equal(t, []string{alice.ID}, c.GroupAdmins)
	assert.Equal(t, []string{alice.ID, bob.ID, carol.ID}, c.IDs())
	assert.Empty(t, c.PairKey)

	// same members, new group
	c2, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID, carol.ID}, "Weekend plans")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, c2.ID)
	assert.Equal(t, 2, f.convs.Count())

	assert.Equal(t, []string{notifier.EventConversationCreated, notifier.EventConversationCreated}, f.rec.Events())
	payload := f.rec.Calls()[0].Payload.(notifier.ConversationCreated)
	assert.True(t, payload.IsGroup)
	assert.Equal(t, "Weekend plans", payload.GroupName)
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		members []string
		group   string
		want    error
	}{
		{"empty name", []string{alice.ID, bob.ID, carol.ID}, "", ErrInvalidGroupName},
		{"blank name", []string{bob.ID}, "   ", ErrInvalidGroupName},
		{"long name", []string{bob.ID}, strings.Repeat("é", 51), ErrInvalidGroupName},
		{"requester only", []string{alice.ID}, "solo", ErrGroupTooSmall},
		{"no members", nil, "solo", ErrGroupTooSmall},
		{"empty id", []string{bob.ID, ""}, "team", ErrInvalidMember},
		{"inactive member", []string{bob.ID, dave.ID}, "team", ErrInvalidMember},
		{"unknown member", []string{"ghost"}, "team", ErrInvalidMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.resolver.CreateGroup(ctx, alice.ID, tc.members, tc.group)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 0, f.convs.Count())
	assert.Empty(t, f.rec.Calls())

	_, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID}, strings.Repeat("é", 50))
	assert.NoError(t, err)
}

func TestAddMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID}, "team")
	require.NoError(t, err)
	f.rec.Reset()

	_, err = f.resolver.AddMembers(ctx, bob.ID, g.ID, []string{carol.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.resolver.AddMembers(ctx, carol.ID, g.ID, []string{carol.ID})
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = f.resolver.AddMembers(ctx, alice.ID, g.ID, []string{dave.ID})
	assert.ErrorIs(t, err, ErrInvalidMember)

	updated, err := f.resolver.AddMembers(ctx, alice.ID, g.ID, []string{carol.ID, bob.ID, carol.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID, bob.ID, carol.ID}, updated.IDs())
	assert.Equal(t, []string{notifier.EventConversationTouched}, f.rec.Events())

	d := f.direct(t, alice.ID, bob.ID)
	_, err = f.resolver.AddMembers(ctx, alice.ID, d.ID, []string{carol.ID})
	assert.ErrorIs(t, err, ErrNotGroup)

	_, err = f.resolver.AddMembers(ctx, alice.ID, "missing", []string{carol.ID})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
