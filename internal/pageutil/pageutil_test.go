package pageutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name        string
		skip, limit int64
		want        Params
	}{
		{"defaults applied", 0, 0, Params{Skip: 0, Limit: DefaultLimit}},
		{"explicit values kept", 10, 20, Params{Skip: 10, Limit: 20}},
		{"negative skip clamped", -5, 20, Params{Skip: 0, Limit: 20}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Normalize(c.skip, c.limit); got != c.want {
				t.Errorf("Normalize(%d, %d) = %+v, want %+v", c.skip, c.limit, got, c.want)
			}
		})
	}
}

func TestNewPage_EmptyOmitsCount(t *testing.T) {
	p := NewPage([]int{}, 42)
	if p.EstimatedCount != nil {
		t.Errorf("expected nil EstimatedCount for empty batch, got %v", *p.EstimatedCount)
	}
}

func TestNewPage_CapsAtMax(t *testing.T) {
	p := NewPage([]int{1, 2, 3}, 5000)
	if p.EstimatedCount == nil || *p.EstimatedCount != MaxEstimatedCount {
		t.Errorf("expected estimated count capped at %d, got %v", MaxEstimatedCount, p.EstimatedCount)
	}
}

func TestNewPage_UnderCapReportsExact(t *testing.T) {
	p := NewPage([]int{1, 2, 3}, 7)
	if p.EstimatedCount == nil || *p.EstimatedCount != 7 {
		t.Errorf("expected estimated count 7, got %v", p.EstimatedCount)
	}
}
