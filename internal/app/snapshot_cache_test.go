package app

import (
	"context"
	"testing"

	"gridwatch/clients/backend"
	"gridwatch/internal/kvstore"
)

func TestSnapshotCache_MergeKeepsAbsentFields(t *testing.T) {
	c := NewSnapshotCache(nil, newMemoryStore())
	id := NewIdentity("btc", "")

	c.Merge(id, backend.Snapshot{Symbol: "BTC", Price: f64(100), Volume24h: f64(5), Source: "cex"})
	got := c.Merge(id, backend.Snapshot{Change24h: f64(-2)})

	if got.Snapshot.Price == nil || *got.Snapshot.Price != 100 {
		t.Errorf("expected price kept at 100, got %v", got.Snapshot.Price)
	}
	if got.Snapshot.Change24h == nil || *got.Snapshot.Change24h != -2 {
		t.Errorf("expected change24h -2, got %v", got.Snapshot.Change24h)
	}
	if got.Snapshot.Source != "cex" || got.Snapshot.Liquidity != nil {
		t.Errorf("unexpected snapshot %+v", got.Snapshot)
	}
}

func TestSnapshotCache_ReplaceAllPersists(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	c := NewSnapshotCache(nil, store)
	btc := NewIdentity("btc", "")
	eth := NewIdentity("eth", "")

	c.ReplaceAll(ctx, map[Identity]backend.Snapshot{
		btc: {Symbol: "BTC", Price: f64(100)},
		eth: {Symbol: "ETH", Price: f64(5)},
	})

	reloaded := NewSnapshotCache(nil, store)
	if n := reloaded.Load(ctx); n != 2 {
		t.Fatalf("expected 2 persisted snapshots, got %d", n)
	}
	got := reloaded.Get(eth)
	if got == nil || got.Snapshot.Price == nil || *got.Snapshot.Price != 5 {
		t.Errorf("expected ETH price 5, got %+v", got)
	}
}

func TestSnapshotCache_Evict(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	c := NewSnapshotCache(nil, store)
	btc := NewIdentity("btc", "")

	c.Merge(btc, backend.Snapshot{Price: f64(100)})
	c.Persist(ctx)
	if !c.Evict(ctx, btc) {
		t.Fatal("expected eviction")
	}
	if c.Get(btc) != nil || c.Len() != 0 {
		t.Error("expected snapshot gone from memory")
	}
	reloaded := NewSnapshotCache(nil, store)
	if n := reloaded.Load(ctx); n != 0 {
		t.Errorf("expected eviction persisted, got %d entries", n)
	}
	if c.Evict(ctx, btc) {
		t.Error("expected second eviction to report nothing removed")
	}
}

func TestSnapshotCache_FailingStore(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(nil, kvstore.New(nil, &failingBackend{}))
	id := NewIdentity("btc", "")

	c.Load(ctx)
	c.ReplaceAll(ctx, map[Identity]backend.Snapshot{id: {Price: f64(1)}})
	if got := c.Get(id); got == nil || *got.Snapshot.Price != 1 {
		t.Errorf("expected in-memory snapshot, got %+v", got)
	}
}

func TestSnapshotCache_ReplaceCurrentSkipsEvicted(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(nil, newMemoryStore())
	btc := NewIdentity("btc", "")
	doge := NewIdentity("doge", "")

	gens := c.Generations([]Identity{btc, doge})
	c.Evict(ctx, doge)
	kept := c.ReplaceCurrent(ctx, map[Identity]backend.Snapshot{
		btc:  {Symbol: "BTC", Price: f64(100)},
		doge: {Symbol: "DOGE", Price: f64(0.1)},
	}, gens)

	if len(kept) != 1 || kept[0] != btc {
		t.Errorf("expected only BTC kept, got %v", kept)
	}
	if c.Get(doge) != nil {
		t.Error("expected evicted DOGE not restored")
	}
	if rec, ok := c.MergeAt(doge, gens[doge], backend.Snapshot{Price: f64(1)}); ok || rec != nil {
		t.Errorf("expected stale merge dropped, got %+v", rec)
	}
}
