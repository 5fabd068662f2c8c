package audience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/onnwee/podrollup/internal/blob"
	"github.com/onnwee/podrollup/internal/summary"
)

const testShow = "3d0e9f1a-7b2c-4d5e-8f90-1a2b3c4d5e6f"

// audienceID builds a 64-hex id starting with the given first digit.
func audienceID(first byte, n int) string {
	return string(first) + fmt.Sprintf("%063x", n)
}

func seedDailyAudience(t *testing.T, store blob.Store, date string, ids ...string) {
	t.Helper()
	var b strings.Builder
	for i, id := range ids {
		b.WriteString(id)
		b.WriteByte('\t')
		b.WriteString(fmt.Sprintf("20240305%07d", i))
		b.WriteByte('\n')
	}
	key := summary.DailyAudienceKey(testShow, date)
	if _, err := store.Put(context.Background(), key, []byte(b.String())); err != nil {
		t.Fatalf("seed audience: %v", err)
	}
}

func TestPartForHexDigit(t *testing.T) {
	tests := []struct {
		c        byte
		numParts int
		want     int
	}{
		{'0', 4, 1}, {'3', 4, 1}, {'4', 4, 2}, {'7', 4, 2},
		{'8', 4, 3}, {'b', 4, 3}, {'c', 4, 4}, {'f', 4, 4},
		{'0', 8, 1}, {'1', 8, 1}, {'2', 8, 2}, {'3', 8, 2},
		{'4', 8, 3}, {'6', 8, 4}, {'8', 8, 5}, {'a', 8, 6},
		{'c', 8, 7}, {'e', 8, 8}, {'f', 8, 8},
	}
	for _, tt := range tests {
		if got := partForHexDigit(tt.c, tt.numParts); got != tt.want {
			t.Errorf("partForHexDigit(%q, %d) = %d, want %d", tt.c, tt.numParts, got, tt.want)
		}
	}
}

func TestRecomputeMonthDedup(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	r := &Reducer{Store: store}

	shared := audienceID('1', 1)
	seedDailyAudience(t, store, "2024-03-01", shared, audienceID('2', 2))
	seedDailyAudience(t, store, "2024-03-02", shared, audienceID('3', 3))

	res, err := r.RecomputeMonth(ctx, testShow, "2024-03", nil)
	if err != nil {
		t.Fatalf("RecomputeMonth: %v", err)
	}
	if res.Audience != 3 {
		t.Errorf("audience = %d, want 3 distinct", res.Audience)
	}
	if res.ContentLength != 3*81 {
		t.Errorf("contentLength = %d, want %d", res.ContentLength, 3*81)
	}
	if res.Part != "" {
		t.Errorf("part = %q, want empty", res.Part)
	}

	body, found, _ := store.Get(ctx, summary.MonthlyAudienceKey(testShow, "2024-03", ""))
	if !found {
		t.Fatal("monthly audience blob not written")
	}
	if int64(len(body)) != res.ContentLength {
		t.Errorf("blob length = %d, want %d", len(body), res.ContentLength)
	}
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("line count = %d", len(lines))
	}
	// Insertion order: first-seen wins, including the duplicate's timestamp.
	if !strings.HasPrefix(lines[0], shared) {
		t.Errorf("first line = %q, want shared id first", lines[0])
	}

	// dailyFoundAudience counts accepted lines per day, duplicates included.
	sumBody, found, _ := store.Get(ctx, summary.AudienceSummaryKey(testShow, "2024-03", ""))
	if !found {
		t.Fatal("audience summary not written")
	}
	var aud summary.AudienceSummary
	if err := json.Unmarshal(sumBody, &aud); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if aud.DailyFoundAudience["2024-03-01"] != 2 || aud.DailyFoundAudience["2024-03-02"] != 2 {
		t.Errorf("dailyFoundAudience = %v, want 2 per day (duplicate still counted)", aud.DailyFoundAudience)
	}
	if aud.Period != "2024-03" || aud.ShowUUID != testShow {
		t.Errorf("summary = %+v", aud)
	}
}

func TestRecomputeMonthShard2of4(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	r := &Reducer{Store: store}

	var ids []string
	for _, c := range []byte{'0', '3', '4', '7', '8', 'b', 'c', 'f'} {
		ids = append(ids, audienceID(c, int(c)))
	}
	seedDailyAudience(t, store, "2024-03-01", ids...)

	res, err := r.RecomputeMonth(ctx, testShow, "2024-03", &Part{Num: 2, Of: 4})
	if err != nil {
		t.Fatalf("RecomputeMonth: %v", err)
	}
	if res.Audience != 2 {
		t.Errorf("audience = %d, want 2 (ids starting 4 and 7)", res.Audience)
	}
	if res.Part != "2of4" {
		t.Errorf("part = %q", res.Part)
	}

	body, _, _ := store.Get(ctx, summary.MonthlyAudienceKey(testShow, "2024-03", "2of4"))
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		if line[0] != '4' && line[0] != '7' {
			t.Errorf("line outside shard: %q", line)
		}
	}
}

func TestRecomputeMonthShardsPartition(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	r := &Reducer{Store: store}

	var ids []string
	for c := 0; c < 16; c++ {
		ids = append(ids, audienceID("0123456789abcdef"[c], c))
	}
	seedDailyAudience(t, store, "2024-03-01", ids...)

	full, err := r.RecomputeMonth(ctx, testShow, "2024-03", nil)
	if err != nil {
		t.Fatalf("unsharded: %v", err)
	}

	seen := make(map[string]int)
	var total int64
	for part := 1; part <= 4; part++ {
		res, err := r.RecomputeMonth(ctx, testShow, "2024-03", &Part{Num: part, Of: 4})
		if err != nil {
			t.Fatalf("part %d: %v", part, err)
		}
		total += res.Audience

		body, _, _ := store.Get(ctx, summary.MonthlyAudienceKey(testShow, "2024-03", res.Part))
		for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
			seen[line[:idLen]]++
		}
	}

	if total != full.Audience {
		t.Errorf("parts sum to %d, unsharded %d", total, full.Audience)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("id %s appears in %d shards", id, count)
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("union covers %d ids, want %d", len(seen), len(ids))
	}
}

func TestRecomputeMonthUnsupportedParts(t *testing.T) {
	r := &Reducer{Store: blob.NewMemStore()}
	_, err := r.RecomputeMonth(context.Background(), testShow, "2024-03", &Part{Num: 1, Of: 5})
	if !errors.Is(err, ErrUnsupportedConfig) {
		t.Errorf("err = %v, want ErrUnsupportedConfig", err)
	}
	_, err = r.RecomputeMonth(context.Background(), testShow, "2024-03", &Part{Num: 9, Of: 8})
	if !errors.Is(err, ErrUnsupportedConfig) {
		t.Errorf("err = %v, want ErrUnsupportedConfig", err)
	}
}

func TestRecomputeMonthEmpty(t *testing.T) {
	r := &Reducer{Store: blob.NewMemStore()}
	res, err := r.RecomputeMonth(context.Background(), testShow, "2024-03", nil)
	if err != nil {
		t.Fatalf("RecomputeMonth: %v", err)
	}
	if res.Audience != 0 || res.ContentLength != 0 {
		t.Errorf("result = %+v, want zeros", res)
	}
}

// flakyStore fails the first n PutStream calls with a retryable error.
type flakyStore struct {
	blob.Store
	failures  int
	putCalls  int
	transient error
}

func (f *flakyStore) PutStream(ctx context.Context, key string, body io.Reader, contentLength int64) (string, error) {
	f.putCalls++
	if f.putCalls <= f.failures {
		return "", f.transient
	}
	return f.Store.PutStream(ctx, key, body, contentLength)
}

func (f *flakyStore) IsRetryable(err error) bool {
	return errors.Is(err, f.transient)
}

func TestRecomputeMonthRetryBound(t *testing.T) {
	ctx := context.Background()
	transient := errors.New("503 slow down")

	run := func(failures int) (*Result, int, error) {
		store := &flakyStore{Store: blob.NewMemStore(), failures: failures, transient: transient}
		retries := 0
		r := &Reducer{Store: store, OnRetry: func() { retries++ }}
		seedDailyAudience(t, store.Store.(*blob.MemStore), "2024-03-01", audienceID('a', 1))
		res, err := r.RecomputeMonth(ctx, testShow, "2024-03", nil)
		return res, retries, err
	}

	// Two transient failures then success: succeeds within the retry budget.
	res, retries, err := run(2)
	if err != nil {
		t.Fatalf("two failures should recover: %v", err)
	}
	if res.Audience != 1 {
		t.Errorf("audience = %d", res.Audience)
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}

	// Three transient failures: budget exhausted.
	_, _, err = run(3)
	if !errors.Is(err, ErrTransientStorage) {
		t.Errorf("err = %v, want ErrTransientStorage", err)
	}
}

func TestRecomputeMonthDurableFailureNoRetry(t *testing.T) {
	ctx := context.Background()
	durable := errors.New("access denied")
	store := &flakyStore{Store: blob.NewMemStore(), failures: 1, transient: durable}
	r := &Reducer{Store: &durableStore{flakyStore: store}}
	seedDailyAudience(t, store.Store.(*blob.MemStore), "2024-03-01", audienceID('a', 1))
	_, err := r.RecomputeMonth(ctx, testShow, "2024-03", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrTransientStorage) {
		t.Errorf("durable failure misclassified as transient: %v", err)
	}
	if store.putCalls != 1 {
		t.Errorf("putCalls = %d, want 1 (no retry)", store.putCalls)
	}
}

// durableStore classifies every error as non-retryable.
type durableStore struct {
	*flakyStore
}

func (d *durableStore) IsRetryable(err error) bool { return false }
