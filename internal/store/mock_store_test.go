// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps the mock's semantics aligned with the SQL and DynamoDB stores

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ConversationLifecycle(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateConversation(ctx, testConversation("c1", "u1", created)))
	assert.ErrorIs(t, m.CreateConversation(ctx, testConversation("c1", "u1", created)), ErrDuplicateConversation)

	require.NoError(t, m.UpdateConversation(ctx, "c1", "resp-2", created.Add(time.Minute)))
	assert.ErrorIs(t, m.UpdateConversation(ctx, "nope", "resp", created), ErrNotFound)

	got, err := m.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "resp-2", got.LatestResponseID)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, 2, m.Writes())
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv := testConversation("c1", "u1", time.Now())
	require.NoError(t, m.CreateConversation(ctx, conv))
	conv.Title = "mutated"

	got, err := m.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "title c1", got.Title)
}

func TestMockStore_ListOrdering(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateConversation(ctx, testConversation("a", "u1", base)))
	require.NoError(t, m.CreateConversation(ctx, testConversation("b", "u1", base.Add(time.Second))))
	require.NoError(t, m.CreateConversation(ctx, testConversation("c", "u2", base)))

	convs, err := m.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "b", convs[0].ConversationID)
	assert.Equal(t, "a", convs[1].ConversationID)
}

func TestMockStore_InjectedError(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("throttled")
	m.SetErr(boom)

	_, err := m.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.CreateConversation(ctx, testConversation("c1", "u1", time.Now())), boom)
	_, err = m.ListConversations(ctx, "u1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)
	assert.Equal(t, 0, m.Writes())
}
