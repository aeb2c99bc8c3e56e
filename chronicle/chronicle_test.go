package chronicle_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/verdantlabs/recall/chronicle"
)

func newTestLog(t *testing.T) *chronicle.Log {
	t.Helper()

	log, err := chronicle.Open(chronicle.Config{
		Path:     filepath.Join(t.TempDir(), "chronicle.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Failed to open chronicle: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	var prev int64
	for i := 0; i < 5; i++ {
		rec, err := log.Insert(ctx, "What is the air-speed velocity of an unladen swallow?")
		if err != nil {
			t.Fatalf("Insert #%d failed: %v", i+1, err)
		}
		if rec.ID <= prev {
			t.Errorf("Expected strictly increasing ids, got %d after %d", rec.ID, prev)
		}
		prev = rec.ID
	}
}

func TestConcurrentInsertsGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	ids := make(chan int64, workers*perWorker)
	errs := make(chan error, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec, err := log.Insert(ctx, "concurrent knowledge")
				if err != nil {
					errs <- err
					return
				}
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("Concurrent insert failed: %v", err)
	}

	seen := make(map[int64]bool)
	var all []int64
	for id := range ids {
		if seen[id] {
			t.Fatalf("Duplicate id %d handed out", id)
		}
		seen[id] = true
		all = append(all, id)
	}
	if len(all) != workers*perWorker {
		t.Fatalf("Expected %d ids, got %d", workers*perWorker, len(all))
	}
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	inserted, err := log.Insert(ctx, "Help! Help! I'm being repressed!")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	rec, err := log.FindOne(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if rec.ID != inserted.ID || rec.Content != inserted.Content {
		t.Errorf("Round-trip mismatch: %+v vs %+v", rec, inserted)
	}
	if !rec.TimeStamp.Equal(inserted.TimeStamp) {
		t.Errorf("Time stamp mismatch: %v vs %v", rec.TimeStamp, inserted.TimeStamp)
	}

	_, err = log.FindOne(ctx, inserted.ID+1000)
	if !errors.Is(err, chronicle.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestFindManySubsetSortedByTime(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of chronological order on purpose.
	late, err := log.InsertAt(ctx, "late", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("InsertAt failed: %v", err)
	}
	early, err := log.InsertAt(ctx, "early", base)
	if err != nil {
		t.Fatalf("InsertAt failed: %v", err)
	}
	middle, err := log.InsertAt(ctx, "middle", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("InsertAt failed: %v", err)
	}

	missing := late.ID + 1000
	records, err := log.FindMany(ctx, []int64{late.ID, missing, early.ID, middle.ID})
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records (missing id omitted), got %d", len(records))
	}
	if !sort.SliceIsSorted(records, func(i, j int) bool {
		return records[i].TimeStamp.Before(records[j].TimeStamp)
	}) {
		t.Errorf("Records not sorted by time stamp: %+v", records)
	}
	if records[0].Content != "early" || records[2].Content != "late" {
		t.Errorf("Unexpected order: %+v", records)
	}

	records, err = log.FindMany(ctx, nil)
	if err != nil {
		t.Fatalf("FindMany with no ids failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected empty result, got %d records", len(records))
	}
}

func TestRangeInclusiveBothEnds(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		base,
		base.Add(time.Hour),
		base.Add(2 * time.Hour),
		base.Add(3 * time.Hour),
	}
	for i, ts := range stamps {
		if _, err := log.InsertAt(ctx, "record", ts); err != nil {
			t.Fatalf("InsertAt #%d failed: %v", i+1, err)
		}
	}

	// Boundaries land exactly on the first and third stamps.
	records, err := log.Range(ctx, stamps[0], stamps[2])
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records in inclusive range, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].TimeStamp.Before(records[i-1].TimeStamp) {
			t.Errorf("Range not ascending at %d: %+v", i, records)
		}
	}

	records, err = log.Range(ctx, base.Add(4*time.Hour), base.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected empty range, got %d records", len(records))
	}
}

func TestInsertDefaultsToNow(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	before := time.Now().UTC().Add(-time.Second)
	rec, err := log.Insert(ctx, "stamped now")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	after := time.Now().UTC().Add(time.Second)

	if rec.TimeStamp.Before(before) || rec.TimeStamp.After(after) {
		t.Errorf("Time stamp %v not within [%v, %v]", rec.TimeStamp, before, after)
	}
}

func TestCancelledInsertCommitsNothing(t *testing.T) {
	log := newTestLog(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := log.InsertAt(cancelled, "never recorded", time.Now().UTC())
	if err == nil {
		t.Fatal("Expected error from cancelled context")
	}

	ctx := context.Background()
	records, err := log.Range(ctx, time.Unix(0, 0), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Cancelled insert must commit no row, found %d", len(records))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chronicle.db")

	log1, err := chronicle.Open(chronicle.Config{Path: path})
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	rec, err := log1.Insert(ctx, "persisted")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	log1.Close()

	// Re-opening provisions nothing new and keeps existing rows.
	log2, err := chronicle.Open(chronicle.Config{Path: path})
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer log2.Close()

	found, err := log2.FindOne(ctx, rec.ID)
	if err != nil {
		t.Fatalf("FindOne after reopen failed: %v", err)
	}
	if found.Content != "persisted" {
		t.Errorf("Unexpected content after reopen: %q", found.Content)
	}
}
