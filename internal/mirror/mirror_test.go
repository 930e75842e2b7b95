package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/segmentio/kafka-go"
)

func testEntries(n int) []domain.ActionLogEntry {
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	entries := make([]domain.ActionLogEntry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, domain.ActionLogEntry{
			ActionDate:    day,
			DailySequence: int64(i),
			AppointmentID: "apt-1",
			ActionType:    domain.ActionCheckedIn,
			Payload:       domain.CheckedInPayload{CheckedInAt: day.Add(time.Hour)},
			CreatedAt:     day.Add(time.Hour),
		})
	}
	return entries
}

func TestConfirmedCount(t *testing.T) {
	t.Parallel()

	two := 2
	tests := []struct {
		name string
		res  Result
		err  error
		want int
	}{
		{name: "full success", res: Result{AcceptedCount: 5}, want: 5},
		{name: "rejection index wins", res: Result{AcceptedCount: 4, FirstRejectedIndex: &two}, err: errors.New("partial"), want: 2},
		{name: "error without index confirms nothing", res: Result{AcceptedCount: 3}, err: errors.New("timeout"), want: 0},
		{name: "accepted count clamped", res: Result{AcceptedCount: 9}, want: 5},
		{name: "short accept without error", res: Result{AcceptedCount: 3}, want: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ConfirmedCount(5, tt.res, tt.err); got != tt.want {
				t.Fatalf("ConfirmedCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordKeySortsInLogOrder(t *testing.T) {
	t.Parallel()

	entries := testEntries(10)
	a, _ := NewRecord(entries[8])
	b, _ := NewRecord(entries[9])
	if !(a.Key() < b.Key()) {
		t.Fatalf("Key() %q should sort before %q", a.Key(), b.Key())
	}
	if a.Key() != PositionKey(entries[8].Position()) {
		t.Fatalf("Key() = %q, PositionKey() = %q", a.Key(), PositionKey(entries[8].Position()))
	}
	if a.Key() != "2026-10-18/000000000009" {
		t.Fatalf("Key() = %q", a.Key())
	}
}

func TestHTTPMirrorUpsertBatch(t *testing.T) {
	t.Parallel()

	var got upsertRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acceptedCount":3}`))
	}))
	defer server.Close()

	m, err := NewHTTPMirror(server.URL, "primary-mirror", nil)
	if err != nil {
		t.Fatalf("NewHTTPMirror() error = %v", err)
	}

	res, err := m.UpsertBatch(context.Background(), testEntries(3))
	if err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if res.AcceptedCount != 3 || res.FirstRejectedIndex != nil {
		t.Fatalf("UpsertBatch() = %+v", res)
	}
	if got.Mirror != "primary-mirror" || len(got.Records) != 3 {
		t.Fatalf("request = %+v", got)
	}
	if got.Records[0].ActionDate != "2026-10-18" || got.Records[2].DailySequence != 3 || got.Records[0].ActionType != "CHECKED_IN" {
		t.Fatalf("records = %+v", got.Records)
	}
}

func TestHTTPMirrorPartialRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acceptedCount":1,"firstRejectedIndex":1}`))
	}))
	defer server.Close()

	m, err := NewHTTPMirror(server.URL, "primary-mirror", nil)
	if err != nil {
		t.Fatalf("NewHTTPMirror() error = %v", err)
	}

	res, err := m.UpsertBatch(context.Background(), testEntries(3))
	if !errors.Is(err, domain.ErrMirrorRejected) {
		t.Fatalf("UpsertBatch() error = %v, want ErrMirrorRejected", err)
	}
	if ConfirmedCount(3, res, err) != 1 {
		t.Fatalf("ConfirmedCount() = %d, want 1", ConfirmedCount(3, res, err))
	}
}

func TestHTTPMirrorServerErrorConfirmsNothing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m, err := NewHTTPMirror(server.URL, "primary-mirror", nil)
	if err != nil {
		t.Fatalf("NewHTTPMirror() error = %v", err)
	}

	res, err := m.UpsertBatch(context.Background(), testEntries(2))
	if err == nil {
		t.Fatal("UpsertBatch() error = nil, want status error")
	}
	if ConfirmedCount(2, res, err) != 0 {
		t.Fatalf("ConfirmedCount() = %d, want 0", ConfirmedCount(2, res, err))
	}
}

type fakeWriter struct {
	writeFn func(ctx context.Context, msgs ...kafka.Message) error
	written []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.written = append(f.written, msgs...)
	if f.writeFn != nil {
		return f.writeFn(ctx, msgs...)
	}
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaMirrorUpsertBatch(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	m := newKafkaMirror(w)

	res, err := m.UpsertBatch(context.Background(), testEntries(2))
	if err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if res.AcceptedCount != 2 {
		t.Fatalf("AcceptedCount = %d, want 2", res.AcceptedCount)
	}
	if string(w.written[1].Key) != "2026-10-18/000000000002" {
		t.Fatalf("message key = %q", w.written[1].Key)
	}
	if string(w.written[0].Headers[0].Value) != "apt-1" {
		t.Fatalf("appointment header = %q", w.written[0].Headers[0].Value)
	}
}

func TestKafkaMirrorMapsWriteErrors(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{writeFn: func(ctx context.Context, msgs ...kafka.Message) error {
		return kafka.WriteErrors{nil, nil, errors.New("leader not available"), nil}
	}}
	m := newKafkaMirror(w)

	res, err := m.UpsertBatch(context.Background(), testEntries(4))
	if !errors.Is(err, domain.ErrMirrorRejected) {
		t.Fatalf("UpsertBatch() error = %v, want ErrMirrorRejected", err)
	}
	if res.FirstRejectedIndex == nil || *res.FirstRejectedIndex != 2 {
		t.Fatalf("FirstRejectedIndex = %v, want 2", res.FirstRejectedIndex)
	}
}

func TestAppointmentBalancerIsStablePerAppointment(t *testing.T) {
	t.Parallel()

	b := &appointmentBalancer{}
	partitions := []int{0, 1, 2, 3, 4, 5, 6, 7}
	msg := func(key string) kafka.Message {
		return kafka.Message{Key: []byte(key), Headers: []kafka.Header{{Key: headerAppointmentID, Value: []byte("apt-42")}}}
	}

	first := b.Balance(msg("2026-10-18/000000000001"), partitions...)
	for _, key := range []string{"2026-10-18/000000000002", "2026-10-19/000000000077"} {
		if got := b.Balance(msg(key), partitions...); got != first {
			t.Fatalf("Balance(%s) = %d, want %d", key, got, first)
		}
	}
}
