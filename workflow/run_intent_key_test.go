package workflow

import (
	"strings"
	"sync"
	"testing"

	"github.com/fieldfocus/fieldops_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the dispatch
// key semantics the unique constraint relies on:
// - the same allocation set and context always derive the same key
// - any change to the set or the context derives a different key
//
// Full DB integration coverage lives in the models package regression tests.

func intPtr(v int) *int { return &v }

func TestBuildRunIntentKey_OrderIndependent(t *testing.T) {
	a := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), nil, nil, []int{3, 1, 2})
	b := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), nil, nil, []int{2, 3, 1})
	c := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), nil, nil, []int{1, 2, 3})
	if a != b || b != c {
		t.Fatalf("expected identical keys for reordered sets, got %q %q %q", a, b, c)
	}
}

func TestBuildRunIntentKey_SentinelsForAbsentContext(t *testing.T) {
	key := BuildRunIntentKey(models.RunKindPickup, nil, nil, nil, []int{5})
	parts := strings.Split(key, ":")
	if len(parts) != 5 {
		t.Fatalf("expected 5 key segments, got %d (%q)", len(parts), key)
	}
	if parts[0] != "pickup" {
		t.Fatalf("expected kind segment, got %q", parts[0])
	}
	for i := 1; i <= 3; i++ {
		if parts[i] != "none" {
			t.Fatalf("segment %d: expected sentinel for absent context, got %q", i, parts[i])
		}
	}
	if parts[4] == "" {
		t.Fatalf("digest segment is empty")
	}
	if strings.ContainsAny(parts[4], "+/=") {
		t.Fatalf("digest must be base64url without padding, got %q", parts[4])
	}
}

func TestBuildRunIntentKey_Diverges(t *testing.T) {
	base := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), intPtr(2), nil, []int{1, 2})

	changedSet := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), intPtr(2), nil, []int{1, 2, 3})
	if changedSet == base {
		t.Fatalf("adding an allocation must change the key")
	}
	changedKind := BuildRunIntentKey(models.RunKindPickup, intPtr(7), intPtr(2), nil, []int{1, 2})
	if changedKind == base {
		t.Fatalf("changing the kind must change the key")
	}
	changedVisit := BuildRunIntentKey(models.RunKindDelivery, intPtr(8), intPtr(2), nil, []int{1, 2})
	if changedVisit == base {
		t.Fatalf("changing the visit must change the key")
	}
	droppedVehicle := BuildRunIntentKey(models.RunKindDelivery, intPtr(7), nil, nil, []int{1, 2})
	if droppedVehicle == base {
		t.Fatalf("dropping the vehicle must change the key")
	}
}

func TestAllocationSetDigest_NoCollisionOnIdBoundaries(t *testing.T) {
	// {1, 23} and {12, 3} concatenate identically without a separator; the
	// digest input must keep them apart.
	a := AllocationSetDigest([]int{1, 23})
	b := AllocationSetDigest([]int{12, 3})
	if a == b {
		t.Fatalf("digest collapsed distinct sets {1,23} and {12,3}")
	}
}

// fakeRunStore mirrors the lookup-then-create the dispatcher does under the
// unique (business_id, intent_key) constraint.
type fakeRunStore struct {
	mu      sync.Mutex
	byKey   map[string]int
	nextId  int
	creates int
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{byKey: map[string]int{}}
}

func (s *fakeRunStore) getOrCreate(key string) (runId int, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return id, false
	}
	s.nextId++
	s.byKey[key] = s.nextId
	s.creates++
	return s.nextId, true
}

func TestRunDispatch_ConcurrentSameIntentConverges(t *testing.T) {
	for run := 0; run < 100; run++ {
		store := newFakeRunStore()
		key := BuildRunIntentKey(models.RunKindDelivery, intPtr(1), nil, nil, []int{10, 11})

		var wg sync.WaitGroup
		ids := make([]int, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], _ = store.getOrCreate(key)
			}(i)
		}
		wg.Wait()

		if store.creates != 1 {
			t.Fatalf("run=%d expected exactly 1 create, got %d", run, store.creates)
		}
		for i, id := range ids {
			if id != ids[0] {
				t.Fatalf("run=%d caller %d got run %d, expected %d", run, i, id, ids[0])
			}
		}
	}
}

func TestRunDispatch_ChangedSetCreatesNewRun(t *testing.T) {
	store := newFakeRunStore()
	before := BuildRunIntentKey(models.RunKindDelivery, intPtr(1), nil, nil, []int{10, 11})
	after := BuildRunIntentKey(models.RunKindDelivery, intPtr(1), nil, nil, []int{10})

	firstId, created := store.getOrCreate(before)
	if !created {
		t.Fatalf("expected first dispatch to create")
	}
	repeatId, created := store.getOrCreate(before)
	if created || repeatId != firstId {
		t.Fatalf("resubmission must return the existing run unchanged")
	}
	secondId, created := store.getOrCreate(after)
	if !created || secondId == firstId {
		t.Fatalf("a changed allocation set must dispatch a fresh run")
	}
}
