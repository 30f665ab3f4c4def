package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("---\ntitle: Chaos\n---\n"))
	if a != Sum([]byte("---\ntitle: Chaos\n---\n")) {
		t.Error("same input gave different sums")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == Sum([]byte("---\ntitle: Order\n---\n")) {
		t.Error("different input gave the same sum")
	}
}

func TestMatches(t *testing.T) {
	data := []byte("body")
	if !Matches(data, Sum(data)) {
		t.Error("expected match")
	}
	if Matches(data, "") {
		t.Error("empty sum must not match")
	}
	if Matches([]byte("other"), Sum(data)) {
		t.Error("unexpected match")
	}
}
