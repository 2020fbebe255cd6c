package topology

import "testing"

func TestClaimAllBatches(t *testing.T) {
	fuuids := make([]string, 230)
	for i := range fuuids {
		fuuids[i] = "f"
	}

	batches := ClaimAllBatches(fuuids)
	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3", len(batches))
	}

	wantSizes := []int{100, 100, 30}
	wantDone := []bool{false, false, true}
	for i, b := range batches {
		if b.BatchNo != i {
			t.Errorf("batches[%d].BatchNo = %d, want %d", i, b.BatchNo, i)
		}
		if len(b.Fuuids) != wantSizes[i] {
			t.Errorf("batches[%d] size = %d, want %d", i, len(b.Fuuids), wantSizes[i])
		}
		if b.Done != wantDone[i] {
			t.Errorf("batches[%d].Done = %v, want %v", i, b.Done, wantDone[i])
		}
	}
}

func TestClaimAllBatches_Empty(t *testing.T) {
	if got := ClaimAllBatches(nil); got != nil {
		t.Errorf("ClaimAllBatches(nil) = %v, want nil", got)
	}
}

func TestClaimAllBatches_SingleUnderBatchSize(t *testing.T) {
	batches := ClaimAllBatches([]string{"a", "b"})
	if len(batches) != 1 {
		t.Fatalf("len(batches) = %d, want 1", len(batches))
	}
	if !batches[0].Done {
		t.Error("single batch should be marked done")
	}
}
