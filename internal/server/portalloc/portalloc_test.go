package portalloc

import "testing"

func TestAllocateAllThenExhausted(t *testing.T) {
	a := New(100, 100, 10000, 10001)

	p1, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() #1: %v", err)
	}
	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() #2: %v", err)
	}

	if p1.Value == p2.Value {
		t.Fatalf("expected distinct ports, got %d twice", p1.Value)
	}

	if _, err := a.Allocate(); err != ErrNoAvailablePorts {
		t.Fatalf("expected ErrNoAvailablePorts, got %v", err)
	}

	p1.Release()

	p3, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() after release: %v", err)
	}
	if p3.Value != p1.Value {
		t.Fatalf("expected the just-released port %d, got %d", p1.Value, p3.Value)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New(100, 100, 10000, 10002)

	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	p.Release()
	p.Release()

	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() after release: %v", err)
	}
	p3, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() #3: %v", err)
	}
	if p2.Value == p3.Value {
		t.Fatalf("a double release should not double-free the same slot")
	}
}

func TestForwardPort80UsesWebPool(t *testing.T) {
	a := New(80, 80, 10000, 10001)

	p, err := a.AllocateForForwardPort(80)
	if err != nil {
		t.Fatalf("AllocateForForwardPort(80): %v", err)
	}
	if p.Type != Web {
		t.Fatalf("expected Web pool, got %s", p.Type)
	}

	p2, err := a.AllocateForForwardPort(22)
	if err != nil {
		t.Fatalf("AllocateForForwardPort(22): %v", err)
	}
	if p2.Type != Other {
		t.Fatalf("expected Other pool, got %s", p2.Type)
	}
}

func TestRotatingCursorAvoidsImmediateReuse(t *testing.T) {
	a := New(0, 0, 5000, 5002)

	p1, _ := a.Allocate()
	p2, _ := a.Allocate()
	p1.Release()

	p3, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	if p3.Value == p1.Value {
		t.Fatalf("rotating cursor should not immediately reuse %d", p1.Value)
	}
	_ = p2
}
