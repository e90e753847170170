package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openRedis connects to REDIS_ADDR (default localhost:6379) or skips.
func openRedis(t *testing.T, doc string) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := OpenRedis(ctx, RedisOptions{Addr: addr, Document: doc}, nil)
	if err != nil {
		t.Skipf("Skipping Redis test: %v", err)
	}
	t.Cleanup(func() {
		_ = r.client.Del(context.Background(), r.hash).Err()
		_ = r.Close()
	})
	return r
}

func TestRedis_ReplicasSeeEachOther(t *testing.T) {
	doc := "test-" + uuid.NewString()
	a := openRedis(t, doc)
	b := openRedis(t, doc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chA, err := a.Subscribe(ctx)
	require.NoError(t, err)
	chB, err := b.Subscribe(ctx)
	require.NoError(t, err)

	d := Delta{}
	d.Set("cells", "p\n0,")
	d.Set("0,0", "p")
	require.NoError(t, a.Submit(ctx, d))

	want := []Change{{Key: "0,0", Value: "p", Present: true}, {Key: "cells", Value: "p\n0,", Present: true}}
	assert.Equal(t, want, recv(t, chA, 2))
	assert.Equal(t, want, recv(t, chB, 2))

	del := Delta{}
	del.Delete("0,0")
	require.NoError(t, b.Submit(ctx, del))
	assert.Equal(t, []Change{{Key: "0,0"}}, recv(t, chA, 1))

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cells": "p\n0,"}, snap)
}

func TestRedis_Closed(t *testing.T) {
	r := openRedis(t, "test-"+uuid.NewString())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Submit(context.Background(), Delta{"a": {Value: "1"}}), ErrClosed)
}
