package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-ai/conduit/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleChat(owner string) *types.Chat {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Chat{
		ID:        "chat-1",
		OwnerID:   owner,
		Title:     types.DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestChatRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	chat := sampleChat("owner-1")
	require.NoError(t, store.UpsertChat(ctx, chat))

	usage := types.EstimatedUsage(10, 5)
	messages := []types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "hello", CreatedAt: chat.CreatedAt},
		{ID: "m2", Role: types.RoleAssistant, Content: "hi there", Model: "llama3.1:8b", Usage: &usage, CreatedAt: chat.CreatedAt},
	}
	require.NoError(t, store.SaveMessages(ctx, chat.ID, messages))

	loaded, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.OwnerID, loaded.OwnerID)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "hello", loaded.Messages[0].Content)
	require.NotNil(t, loaded.Messages[1].Usage)
	assert.Equal(t, 15, loaded.Messages[1].Usage.TotalTokens)
	assert.Nil(t, loaded.Messages[0].Usage)
}

func TestSaveMessagesSkipsLoading(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	chat := sampleChat("owner-1")
	require.NoError(t, store.UpsertChat(ctx, chat))
	require.NoError(t, store.SaveMessages(ctx, chat.ID, []types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "q", CreatedAt: chat.CreatedAt},
		{ID: "m2", Role: types.RoleAssistant, Loading: true, CreatedAt: chat.CreatedAt},
	}))

	loaded, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "m1", loaded.Messages[0].ID)
}

func TestUpsertChatUpdatesTitle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	chat := sampleChat("owner-1")
	require.NoError(t, store.UpsertChat(ctx, chat))

	chat.Title = "maps vs slices"
	chat.UpdatedAt = chat.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.UpsertChat(ctx, chat))

	loaded, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "maps vs slices", loaded.Title)
}

func TestDeleteChatCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	chat := sampleChat("owner-1")
	require.NoError(t, store.UpsertChat(ctx, chat))
	require.NoError(t, store.SaveMessages(ctx, chat.ID, []types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "q", CreatedAt: chat.CreatedAt},
	}))

	require.NoError(t, store.DeleteChat(ctx, chat.ID))
	_, err := store.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	assert.ErrorIs(t, store.DeleteChat(ctx, chat.ID), ErrChatNotFound)
}

func TestListChatsByOwner(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	older := sampleChat("owner-1")
	require.NoError(t, store.UpsertChat(ctx, older))

	newer := sampleChat("owner-1")
	newer.ID = "chat-2"
	newer.UpdatedAt = newer.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.UpsertChat(ctx, newer))

	other := sampleChat("owner-2")
	other.ID = "chat-3"
	require.NoError(t, store.UpsertChat(ctx, other))

	chats, err := store.ListChatsByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "chat-2", chats[0].ID)
	assert.Empty(t, chats[0].Messages)
}

func TestHealth(t *testing.T) {
	store := testStore(t)
	assert.NoError(t, store.Health())
}
