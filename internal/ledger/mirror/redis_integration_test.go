//go:build integration

package mirror_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veritas/internal/domain"
	"veritas/internal/ledger/mirror"
	platformredis "veritas/internal/platform/redis"
	"veritas/pkg/testutil/containers"
)

func TestRedisMirrorRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	require.NoError(t, rc.FlushAll(ctx))

	m := mirror.NewRedis(&platformredis.Client{Client: rc.Client})

	block := domain.Block{
		Index:        3,
		TimestampMS:  time.Now().UnixMilli(),
		PreviousHash: "prev",
		Ciphertext:   []byte("opaque payload"),
		Nonce:        42,
		MerkleRoot:   "root",
		Hash:         "00abc",
		Signature:    []byte("sig"),
		Source:       "primary",
	}
	require.NoError(t, m.Save(ctx, block))

	got, err := m.Block(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, block.Hash, got.Hash)
	require.Equal(t, block.Ciphertext, got.Ciphertext)
	require.Equal(t, block.Signature, got.Signature)

	height, err := m.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), height)
}

func TestRedisMirrorHeightTracksLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	require.NoError(t, rc.FlushAll(ctx))

	m := mirror.NewRedis(&platformredis.Client{Client: rc.Client})

	for i := int64(0); i < 4; i++ {
		require.NoError(t, m.Save(ctx, domain.Block{Index: i, Hash: "h"}))
	}

	height, err := m.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), height)
}
