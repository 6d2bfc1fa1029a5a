package session

import "testing"

func TestRegistryPutGetDelete(t *testing.T) {
	r := NewRegistry()
	s := New("s1", nil, Config{})
	r.Put(s)

	got, ok := r.Get("s1")
	if !ok || got != s {
		t.Fatalf("Get(%q) = %v, %v, want %v, true", "s1", got, ok, s)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	r.Delete("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatal("Get() found session after Delete()")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after Delete() = %d, want 0", r.Len())
	}
}

func TestRegistryAllReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Put(New("a", nil, Config{}))
	r.Put(New("b", nil, Config{}))

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
}
