package dataitem

import "testing"

func TestAllFuuids(t *testing.T) {
	d := DataFileV2{DataFuuid: "primary", AttachedFuuids: []string{"a1", "a2"}}
	got := d.AllFuuids()
	want := []string{"primary", "a1", "a2"}
	if len(got) != len(want) {
		t.Fatalf("AllFuuids() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllFuuids()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllFuuids_NoPrimary(t *testing.T) {
	d := DataFileV2{AttachedFuuids: []string{"a1"}}
	got := d.AllFuuids()
	if len(got) != 1 || got[0] != "a1" {
		t.Errorf("AllFuuids() = %v, want [a1]", got)
	}
}
