package keymaster

import (
	"reflect"
	"testing"
)

func TestDedupe(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, []string{}},
		{"no duplicates", []string{"a", "b"}, []string{"a", "b"}},
		{"duplicates collapse preserving order", []string{"a", "b", "a", "c", "b"}, []string{"a", "b", "c"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := dedupe(c.in)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("dedupe(%v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}
