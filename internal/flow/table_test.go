package flow

import (
	"net"
	"testing"
	"time"
)

type fakeEntry struct {
	key          Key
	lastActivity time.Time
	closed       bool
}

func (e *fakeEntry) Key() Key                { return e.key }
func (e *fakeEntry) LastActivity() time.Time { return e.lastActivity }
func (e *fakeEntry) Close(reason string)     { e.closed = true }

func keyFor(n byte) Key {
	return NewKey(
		NewEndpoint(net.IPv4(10, 0, 0, n), uint16(1000)+uint16(n)),
		NewEndpoint(net.IPv4(10, 0, 1, n), 443),
	)
}

func TestTableEvictsLeastRecentlyActive(t *testing.T) {
	tbl := NewTable[*fakeEntry](2, 0)

	e1 := &fakeEntry{key: keyFor(1)}
	e2 := &fakeEntry{key: keyFor(2)}
	e3 := &fakeEntry{key: keyFor(3)}

	if _, evicted := tbl.Put(e1); evicted {
		t.Fatalf("unexpected eviction on first insert")
	}
	if _, evicted := tbl.Put(e2); evicted {
		t.Fatalf("unexpected eviction on second insert")
	}

	// Touch e1 so it is now more recently active than e2, which should
	// make e2 the eviction victim once the table is over capacity.
	tbl.Touch(e1.Key())

	victim, evicted := tbl.Put(e3)
	if !evicted {
		t.Fatalf("expected an eviction once over capacity")
	}
	if victim.Key() != e2.Key() {
		t.Fatalf("expected e2 (least recently active) to be evicted, got %v", victim.Key())
	}
	if _, ok := tbl.Get(e1.Key()); !ok {
		t.Fatalf("expected e1 to survive eviction")
	}
}

func TestTableSweepIdle(t *testing.T) {
	tbl := NewTable[*fakeEntry](0, time.Minute)
	now := time.Now()

	fresh := &fakeEntry{key: keyFor(1), lastActivity: now}
	stale := &fakeEntry{key: keyFor(2), lastActivity: now.Add(-2 * time.Minute)}
	tbl.Put(fresh)
	tbl.Put(stale)

	idle := tbl.SweepIdle(now)
	if len(idle) != 1 || idle[0].Key() != stale.Key() {
		t.Fatalf("expected only the stale entry swept, got %+v", idle)
	}
	if _, ok := tbl.Get(fresh.Key()); !ok {
		t.Fatalf("expected the fresh entry to remain")
	}
}
