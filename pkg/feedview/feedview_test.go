package feedview

import "testing"

func TestParseViewDataType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want ViewDataType
	}{
		{"dated", "Dated", ViewDataDated},
		{"grouped dated", "GroupedDated", ViewDataGroupedDated},
		{"empty defaults to grouped", "", ViewDataGroupedDated},
		{"misspelled variant defaults to grouped", "GrouepdDated", ViewDataGroupedDated},
		{"unknown value defaults to grouped", "SomethingElse", ViewDataGroupedDated},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ParseViewDataType(c.in); got != c.want {
				t.Errorf("ParseViewDataType(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestRowKeyFilter(t *testing.T) {
	d := DatedItem{FeedViewID: "fv1", DataID: "d1"}
	filter, err := rowKeyFilter(d)
	if err != nil {
		t.Fatalf("rowKeyFilter(DatedItem) error: %v", err)
	}
	if filter["data_id"] != "d1" || filter["feed_view_id"] != "fv1" {
		t.Errorf("rowKeyFilter(DatedItem) = %v, want data_id=d1 feed_view_id=fv1", filter)
	}

	g := GroupedDatedItem{DatedItem: DatedItem{FeedViewID: "fv2", DataID: "d2"}, GroupID: "g1"}
	filter, err = rowKeyFilter(g)
	if err != nil {
		t.Fatalf("rowKeyFilter(GroupedDatedItem) error: %v", err)
	}
	if filter["data_id"] != "d2" || filter["feed_view_id"] != "fv2" {
		t.Errorf("rowKeyFilter(GroupedDatedItem) = %v, want data_id=d2 feed_view_id=fv2", filter)
	}

	if _, err := rowKeyFilter("not a row"); err == nil {
		t.Error("rowKeyFilter(unsupported type) should error")
	}
}
