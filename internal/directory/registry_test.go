package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	inner   Source
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	once    sync.Once
	err     error
}

func (s *countingSource) Names(ctx context.Context, entity Entity, ids []string) (map[string]string, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.Names(ctx, entity, ids)
}

func newTestRegistry(t *testing.T) (*Registry, *countingSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := &countingSource{inner: NewStatic().
		Add(Suppliers, "SUP-A", "Abattoir Nord").
		Add(Suppliers, "SUP-B", "Boucherie Centrale").
		Add(Products, "P100", "Beef tenderloin")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(src, NewCache(client, time.Minute), logger), src, mr
}

func TestRegistryCachesNames(t *testing.T) {
	reg, src, _ := newTestRegistry(t)
	ctx := context.Background()

	names, err := reg.SupplierNames(ctx, []string{"SUP-B", "SUP-A", " SUP-A", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SUP-A": "Abattoir Nord", "SUP-B": "Boucherie Centrale"}, names)
	assert.EqualValues(t, 1, src.calls.Load())

	names, err = reg.SupplierNames(ctx, []string{"SUP-A", "SUP-B"})
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRegistryCachesUnknownIDs(t *testing.T) {
	reg, src, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		names, err := reg.SupplierNames(ctx, []string{"SUP-A", "SUP-X"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"SUP-A": "Abattoir Nord"}, names)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRegistryEntitiesDoNotCollide(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	products, err := reg.ProductNames(ctx, []string{"P100", "SUP-A"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"P100": "Beef tenderloin"}, products)

	customers, err := reg.CustomerNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	assert.Empty(t, customers)
}

func TestRegistryBumpInvalidates(t *testing.T) {
	reg, src, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	require.NoError(t, reg.cache.Bump(ctx))
	_, err = reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestRegistryEntriesExpire(t *testing.T) {
	reg, src, mr := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestRegistryFallsBackWhenRedisDown(t *testing.T) {
	reg, src, mr := newTestRegistry(t)
	mr.Close()

	names, err := reg.SupplierNames(context.Background(), []string{"SUP-A"})
	require.NoError(t, err)
	assert.Equal(t, "Abattoir Nord", names["SUP-A"])
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRegistryWithoutCache(t *testing.T) {
	src := &countingSource{inner: NewStatic().Add(Suppliers, "SUP-A", "Abattoir Nord")}
	reg := NewRegistry(src, nil, nil)

	for i := 0; i < 2; i++ {
		names, err := reg.SupplierNames(context.Background(), []string{"SUP-A"})
		require.NoError(t, err)
		assert.Equal(t, "Abattoir Nord", names["SUP-A"])
	}
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestRegistrySourceError(t *testing.T) {
	src := &countingSource{inner: NewStatic(), err: errors.New("registry offline")}
	reg := NewRegistry(src, nil, nil)

	_, err := reg.SupplierNames(context.Background(), []string{"SUP-A"})
	require.EqualError(t, err, "registry offline")
}

func TestRegistryCollapsesConcurrentMisses(t *testing.T) {
	reg, src, _ := newTestRegistry(t)
	src.release = make(chan struct{})
	src.started = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]map[string]string, 2)
	lookup := func(i int) {
		defer wg.Done()
		names, err := reg.SupplierNames(ctx, []string{"SUP-A"})
		assert.NoError(t, err)
		results[i] = names
	}
	wg.Add(2)
	go lookup(0)
	<-src.started
	go lookup(1)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, results[0], results[1])
}

func TestRegistryHonoursCancellation(t *testing.T) {
	reg, src, _ := newTestRegistry(t)
	src.release = make(chan struct{})
	defer close(src.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := reg.SupplierNames(ctx, []string{"SUP-A"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheListenForChangesBumpsVersion(t *testing.T) {
	reg, src, mr := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	before, err := reg.cache.Version(ctx)
	require.NoError(t, err)

	require.NoError(t, reg.cache.ListenForChanges(ctx, "", nil))
	mr.Publish(DefaultChangeChannel, "SUP-A")

	require.Eventually(t, func() bool {
		ver, err := reg.cache.Version(ctx)
		return err == nil && ver > before
	}, time.Second, 10*time.Millisecond)

	_, err = reg.SupplierNames(ctx, []string{"SUP-A"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}
