// Copyright (c) Microsoft. All rights reserved.

package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/stores/sqlitestore"
	"github.com/jochenvw/agentrun/stores/storetest"
)

func openTemp(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) af.ThreadStore { return openTemp(t) })
}

func TestStore_InMemory(t *testing.T) {
	s, err := sqlitestore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id, err := s.CreateThread(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessages(ctx, id, []af.Message{af.NewUserMessage("hi")}))
	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "threads.db")

	s, err := sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	thread, err := af.NewThread(ctx, s)
	require.NoError(t, err)
	require.NoError(t, thread.Append(ctx, af.NewUserMessage("remember me"), af.NewAssistantMessage("noted")))
	require.NoError(t, s.Close())

	s, err = sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	msgs, err := af.OpenThread(s, thread.ID()).Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "remember me", msgs[0].Text())
	require.Equal(t, "noted", msgs[1].Text())
}
