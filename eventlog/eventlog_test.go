package eventlog

import "testing"

func TestRingOverflowDiscardsOldest(t *testing.T) {
	r := NewRing(3)
	r.Push(1, KindSyncLost)
	r.Push(2, KindResync)
	r.Push(3, KindChannelSwitch)
	r.Push(4, KindFullScan) // evicts the KindSyncLost entry

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3", len(got))
	}
	want := []Kind{KindResync, KindChannelSwitch, KindFullScan}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("entry %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
}

func TestEntryValuesRoundTrip(t *testing.T) {
	r := NewRing(4)
	r.Push(100, KindSlotOverrun, 3, -7, 42)
	got := r.Snapshot()
	if len(got) != 1 {
		t.Fatalf("Len = %d, want 1", len(got))
	}
	vals := got[0].Values()
	want := []int{3, -7, 42}
	if len(vals) != len(want) {
		t.Fatalf("Values = %v, want %v", vals, want)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("Values[%d] = %d, want %d", i, vals[i], want[i])
		}
	}
}

func TestRingEmptyBeforeAnyPush(t *testing.T) {
	r := NewRing(5)
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("Snapshot should be empty")
	}
}
