package flow

import (
	"net"
	"testing"
)

func TestKeyIsComparableAndUsableAsMapKey(t *testing.T) {
	a := NewEndpoint(net.ParseIP("10.0.0.1"), 51000)
	b := NewEndpoint(net.ParseIP("10.0.0.2"), 443)

	k1 := NewKey(a, b)
	k2 := NewKey(b, a) // reversed endpoint order must land on the same key

	if k1 != k2 {
		t.Fatalf("expected NewKey to be order-independent, got %v != %v", k1, k2)
	}

	m := map[Key]string{k1: "flow"}
	if m[k2] != "flow" {
		t.Fatalf("expected Key to work as a map key, got %q", m[k2])
	}
}

func TestSideOf(t *testing.T) {
	a := NewEndpoint(net.ParseIP("10.0.0.1"), 51000)
	b := NewEndpoint(net.ParseIP("10.0.0.2"), 443)
	k := NewKey(a, b)

	if side, ok := k.SideOf(a); !ok || k.Endpoint(side) != a {
		t.Fatalf("expected SideOf(a) to resolve back to a, got %v, %v", side, ok)
	}
	if _, ok := k.SideOf(NewEndpoint(net.ParseIP("10.0.0.3"), 80)); ok {
		t.Fatalf("expected SideOf to reject an endpoint outside the key")
	}
}
