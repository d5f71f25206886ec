package logbuf

import (
	"reflect"
	"testing"
)

func TestRingKeepsOnlyMostRecentLines(t *testing.T) {
	r := NewRing(2)
	_, _ = r.Write([]byte("a\nb\nc\n"))
	got := r.Lines(0)
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRingCarriesPartialLineAcrossWrites(t *testing.T) {
	r := NewRing(10)
	_, _ = r.Write([]byte("hel"))
	_, _ = r.Write([]byte("lo\nworld\n"))
	got := r.Lines(0)
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLinesRequestingMoreThanAvailable(t *testing.T) {
	r := NewRing(10)
	_, _ = r.Write([]byte("one\n"))
	if got := r.Lines(100); len(got) != 1 {
		t.Fatalf("expected 1 line, got %v", got)
	}
}
