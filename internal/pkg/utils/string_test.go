package utils

import "testing"

func TestRandStr(t *testing.T) {
	a, b := RandStr(32), RandStr(32)
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("lengths = %d, %d; want 32", len(a), len(b))
	}
	if a == b {
		t.Fatal("two random strings are equal")
	}
	for _, c := range a {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			t.Fatalf("unexpected rune %q", c)
		}
	}
	if RandStr(0) != "" {
		t.Error("RandStr(0) should be empty")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"héllo", 2, "h..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n  \n  boom: bad thing\nmore"); got != "boom: bad thing" {
		t.Errorf("got %q", got)
	}
}
