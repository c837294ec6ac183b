// Copyright (c) Microsoft. All rights reserved.

// Package storetest provides a conformance suite for
// [agentframework.ThreadStore] implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	af "github.com/jochenvw/agentrun/agentframework"
)

// Run exercises store against the ThreadStore contract. newStore is called
// once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) af.ThreadStore) {
	t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
	t.Run("ContentRoundTrip", func(t *testing.T) { testContentRoundTrip(t, newStore(t)) })
	t.Run("StoredTurnsAreImmutable", func(t *testing.T) { testImmutable(t, newStore(t)) })
	t.Run("UnknownThread", func(t *testing.T) { testUnknownThread(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
	t.Run("ThreadsAreIndependent", func(t *testing.T) { testIndependent(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

func testAppendAndList(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	id, err := store.CreateThread(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, store.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("one"), af.NewAssistantMessage("two")}))
	require.NoError(t, store.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("three")}))
	require.NoError(t, store.AppendMessages(ctx, id, nil))

	msgs, err = store.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, texts(msgs))
	assert.Equal(t, af.RoleAssistant, msgs[1].Role)
}

func testContentRoundTrip(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	id, err := store.CreateThread(ctx)
	require.NoError(t, err)

	call := af.Message{Role: af.RoleAssistant, Contents: af.Contents{
		&af.TextContent{Text: "checking"},
		&af.FunctionCallContent{CallID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
	}}
	result := af.NewToolMessage("call_1", "sunny")
	require.NoError(t, store.AppendMessages(ctx, id, []af.Message{call, result}))

	msgs, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	calls := msgs[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].CallID)
	assert.JSONEq(t, `{"location":"Paris"}`, calls[0].Arguments)

	assert.Equal(t, af.RoleTool, msgs[1].Role)
	require.Len(t, msgs[1].Contents, 1)
	fr, ok := msgs[1].Contents[0].(*af.FunctionResultContent)
	require.True(t, ok, "content = %T", msgs[1].Contents[0])
	assert.Equal(t, "call_1", fr.CallID)
	assert.Equal(t, "sunny", fr.Result)
}

func testImmutable(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	id, err := store.CreateThread(ctx)
	require.NoError(t, err)

	input := []af.Message{{Role: af.RoleAssistant, Contents: af.Contents{
		&af.TextContent{Text: "original"},
		&af.FunctionCallContent{CallID: "call_1", Name: "f", Arguments: `{}`},
	}}}
	require.NoError(t, store.AppendMessages(ctx, id, input))

	// Edit the caller's message after the append.
	input[0].Contents[0].(*af.TextContent).Text = "edited by caller"
	input[0].Role = af.RoleUser

	// Edit a snapshot.
	snap, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	snap[0].Contents[0].(*af.TextContent).Text = "edited through snapshot"
	snap[0].Contents[1].(*af.FunctionCallContent).Name = "g"
	snap[0].Contents = snap[0].Contents[:1]

	msgs, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, af.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "original", msgs[0].Text())
	calls := msgs[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "f", calls[0].Name)
}

func testUnknownThread(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	const id = "no-such-thread"
	assert.ErrorIs(t, store.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("x")}), af.ErrThreadNotFound)
	_, err := store.ListMessages(ctx, id)
	assert.ErrorIs(t, err, af.ErrThreadNotFound)
	assert.ErrorIs(t, store.CloseThread(ctx, id), af.ErrThreadNotFound)
}

func testClose(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	id, err := store.CreateThread(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("kept")}))

	require.NoError(t, store.CloseThread(ctx, id))
	err = store.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("rejected")})
	assert.ErrorIs(t, err, af.ErrThreadClosed)

	msgs, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, texts(msgs))
}

func testIndependent(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	a, err := store.CreateThread(ctx)
	require.NoError(t, err)
	b, err := store.CreateThread(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, store.AppendMessages(ctx, a, []af.Message{af.NewUserMessage("a")}))
	msgs, err := store.ListMessages(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// testConcurrentAppends checks that each append lands as one contiguous
// block.
func testConcurrentAppends(t *testing.T, store af.ThreadStore) {
	ctx := context.Background()
	id, err := store.CreateThread(ctx)
	require.NoError(t, err)

	const writers, blocks = 4, 10
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range blocks {
				tag := fmt.Sprintf("%d/%d", w, b)
				assert.NoError(t, store.AppendMessages(ctx, id, []af.Message{
					af.NewUserMessage(tag), af.NewAssistantMessage(tag),
				}))
			}
		}()
	}
	wg.Wait()

	msgs, err := store.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2*writers*blocks)
	for i := 0; i < len(msgs); i += 2 {
		require.Equal(t, msgs[i].Text(), msgs[i+1].Text(), "block split at %d", i)
		require.Equal(t, af.RoleUser, msgs[i].Role)
	}
}

func texts(msgs []af.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Text()
	}
	return out
}
