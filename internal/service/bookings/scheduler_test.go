package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/events"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/store/memory"
)

type fakeCache struct {
	invalidateFn func(ctx context.Context, providerID, date string) error
}

func (f *fakeCache) Get(context.Context, string, string, uuid.UUID) ([]domain.Slot, bool, error) {
	panic("Get not configured")
}

func (f *fakeCache) Version(context.Context, string, string) (cache.Version, error) {
	panic("Version not configured")
}

func (f *fakeCache) Set(context.Context, string, string, uuid.UUID, cache.Version, []domain.Slot) error {
	panic("Set not configured")
}

func (f *fakeCache) InvalidateProvider(context.Context, string) error {
	panic("InvalidateProvider not configured")
}

func (f *fakeCache) InvalidateSlots(ctx context.Context, providerID, date string) error {
	if f.invalidateFn == nil {
		panic("InvalidateSlots not configured")
	}
	return f.invalidateFn(ctx, providerID, date)
}

type fakeSink struct {
	mu       sync.Mutex
	events   []events.BookingEvent
	publishE error
}

func (f *fakeSink) Publish(ctx context.Context, e events.BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.publishE
}

type fixture struct {
	store     *memory.Store
	service   domain.Service
	variation domain.ServiceVariation
	loc       *time.Location
	sink      *fakeSink
	sched     *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	s := memory.New()
	svc := s.PutService(domain.Service{ProviderID: "p1", Name: "Massage"})
	v := s.PutVariation(domain.ServiceVariation{
		ServiceID:          svc.ID,
		Name:               "60 min",
		Price:              decimal.RequireFromString("100.00"),
		DurationMinutes:    60,
		DiscountPercentage: 10,
		DiscountDays:       []int16{int16(time.Monday)},
	})

	f := &fixture{store: s, service: svc, variation: v, loc: loc, sink: &fakeSink{}}
	f.addWindow(t, time.Monday, 9*60, 18*60)
	f.sched = NewScheduler(s, s, nil, f.sink, loc, slog.Default())
	return f
}

func (f *fixture) addWindow(t *testing.T, day time.Weekday, start, end domain.TimeOfDay) {
	t.Helper()
	err := f.store.InProviderTransaction(context.Background(), "p1", func(ctx context.Context, tx store.ProviderTx) error {
		_, err := tx.InsertWindow(ctx, domain.AvailabilityWindow{ProviderID: "p1", DayOfWeek: int16(day), StartTime: start, EndTime: end})
		return err
	})
	if err != nil {
		t.Fatalf("seed window: %v", err)
	}
}

// 2026-01-05 is a Monday.
func (f *fixture) monday(hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, f.loc)
}

func TestCreateBooking_MondayDiscount(t *testing.T) {
	f := newFixture(t)

	b, err := f.sched.CreateBooking(context.Background(), CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if b.Status != domain.BookingStatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", b.Status)
	}
	if !b.FinalPrice.Equal(decimal.RequireFromString("90.00")) {
		t.Fatalf("final price = %s, want 90.00", b.FinalPrice)
	}
	if want := f.monday(11, 0); !b.EndTime.Equal(want) {
		t.Fatalf("end = %v, want %v", b.EndTime, want)
	}
	if b.ProviderID != "p1" {
		t.Fatalf("provider = %q, want p1", b.ProviderID)
	}
}

func TestCreateBooking_NoDiscountOnTuesday(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, time.Tuesday, 9*60, 18*60)

	b, err := f.sched.CreateBooking(context.Background(), CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: time.Date(2026, 1, 6, 10, 0, 0, 0, f.loc)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if !b.FinalPrice.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("final price = %s, want 100.00", b.FinalPrice)
	}
}

func TestCreateBooking_Conflicts(t *testing.T) {
	cases := []struct {
		name  string
		start func(f *fixture) time.Time
		want  string
	}{
		{name: "same slot", start: func(f *fixture) time.Time { return f.monday(10, 0) }, want: msgSlotBooked},
		{name: "partial overlap", start: func(f *fixture) time.Time { return f.monday(10, 30) }, want: msgSlotBooked},
		{name: "runs past window", start: func(f *fixture) time.Time { return f.monday(17, 30) }, want: msgProviderUnavailable},
		{name: "before window", start: func(f *fixture) time.Time { return f.monday(8, 30) }, want: msgProviderUnavailable},
		{name: "day without window", start: func(f *fixture) time.Time { return f.monday(10, 0).AddDate(0, 0, 1) }, want: msgProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)}); err != nil {
				t.Fatalf("seed booking: %v", err)
			}

			_, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c2", ServiceVariationID: f.variation.ID, StartTime: tc.start(f)})
			var cErr *domain.ConflictError
			if !errors.As(err, &cErr) {
				t.Fatalf("err = %v, want *domain.ConflictError", err)
			}
			if cErr.Error() != tc.want {
				t.Fatalf("err = %q, want %q", cErr.Error(), tc.want)
			}
			if got := errors.Is(err, ErrSlotBooked); got != (tc.want == msgSlotBooked) {
				t.Fatalf("errors.Is(err, ErrSlotBooked) = %v for %q", got, tc.want)
			}
		})
	}
}

func TestCreateBooking_AdjacentSlotsBothSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, start := range []time.Time{f.monday(10, 0), f.monday(11, 0), f.monday(9, 0)} {
		if _, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: start}); err != nil {
			t.Fatalf("CreateBooking(%v) error: %v", start, err)
		}
	}
}

func TestCreateBooking_OtherVariationBlocksProvider(t *testing.T) {
	f := newFixture(t)
	other := f.store.PutVariation(domain.ServiceVariation{ServiceID: f.service.ID, Name: "30 min", Price: decimal.RequireFromString("60.00"), DurationMinutes: 30})
	ctx := context.Background()

	if _, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	_, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c2", ServiceVariationID: other.ID, StartTime: f.monday(10, 30)})
	var cErr *domain.ConflictError
	if !errors.As(err, &cErr) || cErr.Error() != msgProviderUnavailable {
		t.Fatalf("err = %v, want %q", err, msgProviderUnavailable)
	}
}

func TestCreateBooking_ConcurrentRequestsSingleWinner(t *testing.T) {
	f := newFixture(t)
	const n = 10

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sched.CreateBooking(context.Background(), CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(14, 0)})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		var cErr *domain.ConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &cErr):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok = %d conflicts = %d, want 1 and %d", ok, conflicts, n-1)
	}
}

func TestCreateBooking_RandomRequestsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	short := f.store.PutVariation(domain.ServiceVariation{ServiceID: f.service.ID, Name: "30 min", Price: decimal.RequireFromString("60.00"), DurationMinutes: 30})
	long := f.store.PutVariation(domain.ServiceVariation{ServiceID: f.service.ID, Name: "90 min", Price: decimal.RequireFromString("130.00"), DurationMinutes: 90})
	variations := []domain.ServiceVariation{f.variation, short, long}
	f.addWindow(t, time.Tuesday, 8*60, 20*60)
	days := []time.Time{f.monday(0, 0), f.monday(0, 0).AddDate(0, 0, 1)}

	const (
		workers   = 8
		perWorker = 40
	)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		conflicts  int
		unexpected []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				v := variations[rng.Intn(len(variations))]
				// Quarter-hour starts between 07:00 and 20:45, some outside any window.
				start := days[rng.Intn(len(days))].Add(time.Duration(7*60+rng.Intn(14*4)*15) * time.Minute)
				_, err := f.sched.CreateBooking(context.Background(), CreateInput{
					ClientID:           fmt.Sprintf("c%d", seed),
					ServiceVariationID: v.ID,
					StartTime:          start,
				})

				mu.Lock()
				var cErr *domain.ConflictError
				switch {
				case err == nil:
					created++
				case errors.As(err, &cErr):
					conflicts++
				default:
					unexpected = append(unexpected, fmt.Errorf("seed %d: %w", seed, err))
				}
				mu.Unlock()
			}
		}(int64(w + 1))
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if created == 0 || conflicts == 0 {
		t.Fatalf("created = %d conflicts = %d, want both non-zero", created, conflicts)
	}

	confirmed, err := f.store.ListConfirmedByProvider(context.Background(), "p1", days[0], days[1].AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListConfirmedByProvider error: %v", err)
	}
	if len(confirmed) != created {
		t.Fatalf("confirmed = %d, want %d", len(confirmed), created)
	}

	windows := map[time.Weekday][2]int{time.Monday: {9 * 60, 18 * 60}, time.Tuesday: {8 * 60, 20 * 60}}
	for i, a := range confirmed {
		local := a.StartTime.In(f.loc)
		w := windows[local.Weekday()]
		startMin := local.Hour()*60 + local.Minute()
		endMin := startMin + int(a.EndTime.Sub(a.StartTime)/time.Minute)
		if startMin < w[0] || endMin > w[1] {
			t.Fatalf("booking %s at %v falls outside its window", a.ID, local)
		}
		for _, b := range confirmed[i+1:] {
			if !a.Interval().Overlaps(b.Interval()) {
				continue
			}
			if a.ServiceVariationID == b.ServiceVariationID {
				t.Fatalf("bookings %s and %s of variation %s overlap", a.ID, b.ID, a.ServiceVariationID)
			}
			t.Fatalf("bookings %s and %s overlap on provider p1", a.ID, b.ID)
		}
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{name: "missing client", in: CreateInput{ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)}},
		{name: "missing variation", in: CreateInput{ClientID: "c1", StartTime: f.monday(10, 0)}},
		{name: "missing start", in: CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var vErr *domain.ValidationError
			if _, err := f.sched.CreateBooking(ctx, tc.in); !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want *domain.ValidationError", err)
			}
		})
	}

	var nfErr *domain.NotFoundError
	if _, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: uuid.New(), StartTime: f.monday(10, 0)}); !errors.As(err, &nfErr) {
		t.Fatalf("unknown variation err = %v, want *domain.NotFoundError", err)
	}
}

func TestCreateAndCancel_SideEffects(t *testing.T) {
	f := newFixture(t)
	var invalidated []string
	f.sched = NewScheduler(f.store, f.store, &fakeCache{
		invalidateFn: func(ctx context.Context, providerID, date string) error {
			invalidated = append(invalidated, providerID+"|"+date)
			return nil
		},
	}, f.sink, f.loc, slog.Default())
	ctx := context.Background()

	// 21:30 in São Paulo is already the next day in UTC.
	f.addWindow(t, time.Monday, 20*60, 23*60)
	b, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(21, 30)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "p1", Role: domain.RoleProvider}); err != nil {
		t.Fatalf("CancelBooking error: %v", err)
	}

	if len(invalidated) != 2 || invalidated[0] != "p1|2026-01-05" || invalidated[1] != "p1|2026-01-05" {
		t.Fatalf("invalidated = %v", invalidated)
	}
	if len(f.sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(f.sink.events))
	}
	if e := f.sink.events[0]; e.EventType != events.TypeBookingCreated || e.BookingID != b.ID.String() || e.FinalPrice != "90.00" {
		t.Fatalf("created event = %+v", e)
	}
	if e := f.sink.events[1]; e.EventType != events.TypeBookingCancelled || e.CancelledBy != domain.RoleProvider {
		t.Fatalf("cancelled event = %+v", e)
	}
}

func TestCreateBooking_SideEffectFailuresDoNotFail(t *testing.T) {
	f := newFixture(t)
	f.sink.publishE = errors.New("broker down")
	f.sched = NewScheduler(f.store, f.store, &fakeCache{
		invalidateFn: func(ctx context.Context, providerID, date string) error {
			return errors.New("redis down")
		},
	}, f.sink, f.loc, slog.Default())

	b, err := f.sched.CreateBooking(context.Background(), CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	got, err := f.store.FindBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("FindBooking error: %v", err)
	}
	if got.Status != domain.BookingStatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}

	var aErr *domain.AuthorizationError
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "c2", Role: domain.RoleClient}); !errors.As(err, &aErr) {
		t.Fatalf("other client err = %v, want *domain.AuthorizationError", err)
	}
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "p2", Role: domain.RoleProvider}); !errors.As(err, &aErr) {
		t.Fatalf("other provider err = %v, want *domain.AuthorizationError", err)
	}
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "c1", Role: domain.RoleProvider}); !errors.As(err, &aErr) {
		t.Fatalf("client posing as provider err = %v, want *domain.AuthorizationError", err)
	}

	cancelled, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "c1", Role: domain.RoleClient})
	if err != nil {
		t.Fatalf("CancelBooking error: %v", err)
	}
	if cancelled.Status != domain.BookingStatusCancelled || cancelled.CancelledBy != domain.RoleClient {
		t.Fatalf("cancelled = %s by %s", cancelled.Status, cancelled.CancelledBy)
	}

	var cErr *domain.ConflictError
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "c1", Role: domain.RoleClient}); !errors.As(err, &cErr) {
		t.Fatalf("second cancel err = %v, want *domain.ConflictError", err)
	}
	got, err := f.store.FindBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("FindBooking error: %v", err)
	}
	if got.Status != domain.BookingStatusCancelled || got.CancelledBy != domain.RoleClient {
		t.Fatalf("status after second cancel = %s by %s", got.Status, got.CancelledBy)
	}

	// The freed slot can be booked again.
	if _, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c2", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)}); err != nil {
		t.Fatalf("rebook error: %v", err)
	}

	var nfErr *domain.NotFoundError
	if _, err := f.sched.CancelBooking(ctx, uuid.New(), domain.Actor{UserID: "c1", Role: domain.RoleClient}); !errors.As(err, &nfErr) {
		t.Fatalf("unknown booking err = %v, want *domain.NotFoundError", err)
	}
}

func TestCancelBooking_CompletedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(10, 0)})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}

	later := NewScheduler(f.store, f.store, nil, f.sink, f.loc, slog.Default(), WithClock(func() time.Time { return f.monday(12, 0) }))
	n, err := later.CompleteEnded(ctx)
	if err != nil {
		t.Fatalf("CompleteEnded error: %v", err)
	}
	if n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}

	var cErr *domain.ConflictError
	if _, err := f.sched.CancelBooking(ctx, b.ID, domain.Actor{UserID: "c1", Role: domain.RoleClient}); !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want *domain.ConflictError", err)
	}
}

func TestGetAndListBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []uuid.UUID
	for h := 9; h < 14; h++ {
		b, err := f.sched.CreateBooking(ctx, CreateInput{ClientID: "c1", ServiceVariationID: f.variation.ID, StartTime: f.monday(h, 0)})
		if err != nil {
			t.Fatalf("CreateBooking error: %v", err)
		}
		ids = append(ids, b.ID)
	}

	if _, err := f.sched.GetBooking(ctx, ids[0], domain.Actor{UserID: "p1", Role: domain.RoleProvider}); err != nil {
		t.Fatalf("GetBooking as provider error: %v", err)
	}
	var aErr *domain.AuthorizationError
	if _, err := f.sched.GetBooking(ctx, ids[0], domain.Actor{UserID: "c9", Role: domain.RoleClient}); !errors.As(err, &aErr) {
		t.Fatalf("GetBooking as stranger err = %v, want *domain.AuthorizationError", err)
	}

	page, err := f.sched.ListClientBookings(ctx, "c1", store.PageRequest{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListClientBookings error: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("page = total %d pages %d items %d", page.Total, page.TotalPages, len(page.Items))
	}

	page, err = f.sched.ListProviderBookings(ctx, "p1", store.PageRequest{})
	if err != nil {
		t.Fatalf("ListProviderBookings error: %v", err)
	}
	if page.Limit != store.DefaultPageLimit || len(page.Items) != 5 {
		t.Fatalf("default page = limit %d items %d", page.Limit, len(page.Items))
	}

	var vErr *domain.ValidationError
	if _, err := f.sched.ListClientBookings(ctx, " ", store.PageRequest{}); !errors.As(err, &vErr) {
		t.Fatalf("blank client err = %v, want *domain.ValidationError", err)
	}
}
