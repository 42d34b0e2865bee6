package envcache

import (
	"testing"

	"github.com/warmrun/warmd/internal/protocol"
)

func TestCache_InsertThenLookup(t *testing.T) {
	c := New(5)
	env := []protocol.EnvPair{{Key: "PATH", Value: "/bin"}}
	c.Insert(1, env)

	got, ok := c.Lookup(1)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 1 || got[0] != env[0] {
		t.Errorf("Lookup() = %+v, want %+v", got, env)
	}
}

func TestCache_LookupMiss(t *testing.T) {
	c := New(5)
	if _, ok := c.Lookup(999); ok {
		t.Error("expected cache miss on empty cache")
	}
}

func TestCache_EvictsOldestOnOverflow(t *testing.T) {
	c := New(2)
	c.Insert(1, nil)
	c.Insert(2, nil)
	c.Insert(3, nil)

	if _, ok := c.Lookup(1); ok {
		t.Error("fingerprint 1 should have been evicted (FIFO)")
	}
	if _, ok := c.Lookup(2); !ok {
		t.Error("fingerprint 2 should still be cached")
	}
	if _, ok := c.Lookup(3); !ok {
		t.Error("fingerprint 3 should be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (capacity)", c.Len())
	}
}

func TestCache_ReinsertingExistingFingerprintIsNoOp(t *testing.T) {
	c := New(5)
	original := []protocol.EnvPair{{Key: "A", Value: "1"}}
	c.Insert(1, original)
	c.Insert(1, []protocol.EnvPair{{Key: "A", Value: "2"}})

	got, _ := c.Lookup(1)
	if len(got) != 1 || got[0].Value != "1" {
		t.Errorf("Lookup() = %+v, want original entry preserved", got)
	}
}

func TestCache_DefaultCapacityOnNonPositive(t *testing.T) {
	c := New(0)
	for i := uint64(0); i < DefaultCapacity+3; i++ {
		c.Insert(i, nil)
	}
	if c.Len() != DefaultCapacity {
		t.Errorf("Len() = %d, want DefaultCapacity=%d", c.Len(), DefaultCapacity)
	}
}
