package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/progress"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	courseID = "61c3347b-99c3-4f1e-91f6-7dbbfc20f05c"
	shortID  = "0a0b1c4e-72d8-4b3c-8f41-0d4cf2a9d001"
	longID   = "0a0b1c4e-72d8-4b3c-8f41-0d4cf2a9d002"
	quizID   = "0a0b1c4e-72d8-4b3c-8f41-0d4cf2a9d003"
	sec1ID   = "b3b3f5d2-8f35-4e6b-9a46-52b8e31c0001"
	sec2ID   = "b3b3f5d2-8f35-4e6b-9a46-52b8e31c0002"
)

func testCurriculum() curriculum.Curriculum {
	return curriculum.Curriculum{
		CourseID: courseID,
		Sections: []curriculum.Section{
			{
				ID:       sec1ID,
				CourseID: courseID,
				Index:    0,
				Name:     "Getting started",
				Items: []curriculum.Item{
					{ID: shortID, SectionID: sec1ID, CourseID: courseID, Index: 0, Name: "Intro", ContentType: curriculum.TypeVideo, Duration: 8},
					{ID: longID, SectionID: sec1ID, CourseID: courseID, Index: 1, Name: "Deep dive", ContentType: curriculum.TypeVideo, Duration: 600},
				},
			},
			{
				ID:       sec2ID,
				CourseID: courseID,
				Index:    1,
				Name:     "Wrapping up",
				Items: []curriculum.Item{
					{ID: quizID, SectionID: sec2ID, CourseID: courseID, Index: 0, Name: "Final quiz", ContentType: curriculum.TypeQuiz},
				},
			},
		},
	}
}

type fakeContent struct {
	cur curriculum.Curriculum
	err error
}

func (f *fakeContent) CourseCurriculum(ctx context.Context, courseID string) (curriculum.Curriculum, error) {
	return f.cur, f.err
}

type lectureWrite struct {
	LectureID string
	Position  float64
	WatchTime float64
	Completed bool
}

type watchWrite struct {
	LectureID string
	Seconds   int
}

// fakeStore records every call and keeps an in-memory progress record
// it advances the way the real store would.
type fakeStore struct {
	mu sync.Mutex

	prog     *progress.Course
	lectures map[string]progress.Lecture

	lectureWrites []lectureWrite
	watchWrites   []watchWrite
	advances      []progress.Advance

	failLectureWrite bool
	failWatchWrite   bool
	failAdvance      bool
	blockWrites      chan struct{}
	writeEntered     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{lectures: make(map[string]progress.Lecture)}
}

func (f *fakeStore) Progress(ctx context.Context, courseID string) (*progress.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prog == nil {
		return nil, nil
	}
	p := *f.prog
	return &p, nil
}

func (f *fakeStore) InitializeProgress(ctx context.Context, courseID string, totalLectures int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prog == nil {
		f.prog = &progress.Course{CourseID: courseID, TotalLectures: totalLectures}
	}
	return nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, courseID string, adv progress.Advance) (progress.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAdvance {
		return progress.Course{}, errors.New("progress store unavailable")
	}

	f.advances = append(f.advances, adv)

	f.prog.SectionIndex = adv.SectionIndex
	f.prog.LectureIndex = adv.LectureIndex
	if adv.LectureCompleted && !contains(f.prog.CompletedLectures, adv.LectureID) {
		f.prog.CompletedLectures = append(f.prog.CompletedLectures, adv.LectureID)
	}
	if adv.SectionCompleted && !contains(f.prog.CompletedSections, adv.SectionID) {
		f.prog.CompletedSections = append(f.prog.CompletedSections, adv.SectionID)
	}
	if f.prog.TotalLectures > 0 {
		pct := 100 * len(f.prog.CompletedLectures) / f.prog.TotalLectures
		if pct > f.prog.Percent {
			f.prog.Percent = pct
		}
	}

	return *f.prog, nil
}

func (f *fakeStore) LectureProgress(ctx context.Context, courseID, lectureID string) (*progress.Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lp, ok := f.lectures[lectureID]
	if !ok {
		return nil, nil
	}
	return &lp, nil
}

func (f *fakeStore) UpdateLectureProgress(ctx context.Context, courseID, lectureID string, position, watchTime float64, completed bool) error {
	f.mu.Lock()
	block := f.blockWrites
	entered := f.writeEntered
	f.mu.Unlock()
	if block != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failLectureWrite {
		return errors.New("store unavailable")
	}

	f.lectureWrites = append(f.lectureWrites, lectureWrite{lectureID, position, watchTime, completed})
	lp := f.lectures[lectureID]
	lp.LectureID = lectureID
	lp.Position = int(position)
	if int(watchTime) > lp.WatchTime {
		lp.WatchTime = int(watchTime)
	}
	lp.Completed = lp.Completed || completed
	f.lectures[lectureID] = lp
	return nil
}

func (f *fakeStore) RecordWatchTime(ctx context.Context, courseID, lectureID string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWatchWrite {
		return errors.New("ledger unavailable")
	}

	f.watchWrites = append(f.watchWrites, watchWrite{lectureID, seconds})
	return nil
}

func (f *fakeStore) lectureWriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lectureWrites)
}

func (f *fakeStore) watchWriteSum() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, w := range f.watchWrites {
		sum += w.Seconds
	}
	return sum
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tick advances wall time by one flush interval and fires every live
// ticker.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	c.now = c.now.Add(10 * time.Second)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, tk := range tickers {
		tk.fire(now)
	}
}

type fakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}

func newTestTracker(t *testing.T, store *fakeStore, clock *fakeClock, paid bool) *Tracker {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tr, err := New(Config{
		Log:      log,
		Content:  &fakeContent{cur: testCurriculum()},
		Store:    store,
		CourseID: courseID,
		Paid:     paid,
		Clock:    clock,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Load(context.Background()))
	return tr
}

func TestAccumulatesOnlyOrganicPlayback(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	deltas := []float64{0.5, 1.0, 1.9, 0.9, 1.5, 1.0, 0.4, 1.8}
	pos, want := 0.0, 0.0
	for _, d := range deltas {
		pos += d
		want += d
		tr.ReportPosition(pos)
	}

	assert.InDelta(t, want, tr.TotalWatched(), 1e-9)
	assert.InDelta(t, pos, tr.Position(), 1e-9)
}

func TestSeekJumpDoesNotInflateWatchTime(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	tr.ReportPosition(1)
	tr.ReportPosition(3) // +2s jump, a seek
	tr.ReportPosition(120)
	tr.ReportPosition(119) // rewind
	tr.ReportPosition(119) // stall

	assert.InDelta(t, 1.0, tr.TotalWatched(), 1e-9)

	// Playback continues organically from the jump target.
	tr.ReportPosition(120)
	assert.InDelta(t, 2.0, tr.TotalWatched(), 1e-9)
}

func TestWatchTimeClampedToDuration(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 1.0; p <= 12; p++ {
		tr.ReportPosition(p)
	}

	assert.InDelta(t, 8.0, tr.TotalWatched(), 1e-9)
}

func TestPeriodicFlushReportsNonOverlappingDeltas(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	pos := 0.0
	for round := 0; round < 3; round++ {
		for i := 0; i < 10; i++ {
			pos++
			tr.ReportPosition(pos)
		}
		clock.Tick()

		watched := tr.TotalWatched()
		require.Eventually(t, func() bool {
			return store.watchWriteSum() >= int(watched)-1
		}, time.Second, 5*time.Millisecond)
	}

	// The increments never overlap: their sum stays within the total
	// actually watched.
	assert.LessOrEqual(t, store.watchWriteSum(), int(tr.TotalWatched()))
	assert.Equal(t, 30, store.watchWriteSum())
}

func TestFailedLedgerWriteKeepsHighWaterMark(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 1.0; p <= 10; p++ {
		tr.ReportPosition(p)
	}

	store.mu.Lock()
	store.failWatchWrite = true
	store.mu.Unlock()

	clock.Tick()
	require.Eventually(t, func() bool {
		return store.lectureWriteCount() >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, store.watchWriteSum())

	// The unreported seconds ride along into the next healthy tick.
	store.mu.Lock()
	store.failWatchWrite = false
	store.mu.Unlock()

	for p := 11.0; p <= 15; p++ {
		tr.ReportPosition(p)
	}
	clock.Tick()

	require.Eventually(t, func() bool {
		return store.watchWriteSum() == 15
	}, time.Second, 5*time.Millisecond)
}

func TestTimerCancelledOnPause(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 1.0; p <= 5; p++ {
		tr.ReportPosition(p)
	}

	require.NoError(t, tr.Pause(ctx))
	assert.False(t, tr.IsTracking())

	// The pause itself flushes position once, fire-and-forget.
	require.Eventually(t, func() bool {
		return store.lectureWriteCount() == 1
	}, time.Second, 5*time.Millisecond)

	// A zombie ticker must not keep reporting after the exit.
	clock.Tick()
	clock.Tick()
	assert.Never(t, func() bool {
		return store.lectureWriteCount() > 1 || store.watchWriteSum() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestShortVideoWatchedFully(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}
	require.NoError(t, tr.Ended(ctx))

	// No periodic tick ever fired: the completion path alone must
	// report the full 8 seconds, with no minimum threshold.
	require.Len(t, store.watchWrites, 1)
	assert.GreaterOrEqual(t, store.watchWrites[0].Seconds, 8)
	assert.Equal(t, Completed, tr.State())

	store.mu.Lock()
	lp := store.lectures[shortID]
	store.mu.Unlock()
	assert.True(t, lp.Completed)
	assert.Equal(t, 8, lp.Position)
}

func TestPauseResumeAccumulatesWithoutGapOrDoubleCount(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)

	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 5; p++ {
		tr.ReportPosition(p)
	}
	require.NoError(t, tr.Pause(ctx))

	require.NoError(t, tr.Play(ctx))
	for p := 6.0; p <= 12; p++ {
		tr.ReportPosition(p)
	}
	require.NoError(t, tr.Pause(ctx))

	assert.InDelta(t, 12.0, tr.TotalWatched(), 1e-9)

	sessions := tr.Sessions()
	require.Len(t, sessions, 2)
	assert.InDelta(t, 0.0, sessions[0].StartPosition, 1e-9)
	assert.InDelta(t, 5.0, sessions[0].EndPosition, 1e-9)
	assert.InDelta(t, 5.0, sessions[1].StartPosition, 1e-9)
	assert.InDelta(t, 12.0, sessions[1].EndPosition, 1e-9)
}

func TestReloadResumesAtPersistedPosition(t *testing.T) {
	store := newFakeStore()
	store.lectures[longID] = progress.Lecture{
		LectureID: longID,
		Position:  42,
		WatchTime: 42,
	}

	tr := newTestTracker(t, store, newFakeClock(), true)

	pos, completed, err := tr.SelectLecture(context.Background(), longID)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.InDelta(t, 42.0, pos, 1e-9)
	assert.InDelta(t, 42.0, tr.TotalWatched(), 1e-9)
}

func TestResumeDoesNotReplayReportedWatchTime(t *testing.T) {
	store := newFakeStore()
	store.lectures[longID] = progress.Lecture{
		LectureID: longID,
		Position:  42,
		WatchTime: 42,
	}

	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 43.0; p <= 50; p++ {
		tr.ReportPosition(p)
	}
	clock.Tick()

	// Only the 8 fresh seconds hit the ledger, not the 42 already
	// acknowledged before the reload.
	require.Eventually(t, func() bool {
		return store.watchWriteSum() == 8
	}, time.Second, 5*time.Millisecond)
}

func TestFreeCourseNeverTouchesLedger(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, false)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))

	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}
	clock.Tick()
	require.NoError(t, tr.Ended(ctx))

	assert.Empty(t, store.watchWrites)
	require.Eventually(t, func() bool {
		return store.lectureWriteCount() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownItemFailsClosed(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)

	_, _, err := tr.SelectLecture(context.Background(), "4cc41a8d-2f0b-49a5-9f6b-111111111111")
	require.ErrorIs(t, err, ErrUnknownItem)
	assert.Equal(t, Idle, tr.State())
	assert.ErrorIs(t, tr.Play(context.Background()), ErrNoLecture)
}

func TestDuplicateEndedIsNoOp(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}

	require.NoError(t, tr.Ended(ctx))
	require.NoError(t, tr.Ended(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.advances, 1)
	assert.Len(t, store.watchWrites, 1)
}

func TestConcurrentEndedRunsCompletionOnce(t *testing.T) {
	store := newFakeStore()
	store.blockWrites = make(chan struct{})
	store.writeEntered = make(chan struct{}, 1)
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}

	errs := make(chan error, 2)
	go func() { errs <- tr.Ended(ctx) }()

	// Wait until the first call is parked inside the store, then race
	// a duplicate end event against it.
	<-store.writeEntered
	go func() { errs <- tr.Ended(ctx) }()

	// The duplicate returns a no-op nil while the first is in flight.
	require.NoError(t, <-errs)

	close(store.blockWrites)
	require.NoError(t, <-errs)

	assert.Equal(t, Completed, tr.State())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.advances, 1)
	assert.Len(t, store.watchWrites, 1)
}

func TestEndedRetryAfterPointerAdvanceFailure(t *testing.T) {
	store := newFakeStore()
	store.failAdvance = true
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}

	// The lecture write and the payout land, the pointer advance does
	// not: the call must fail and stay retryable.
	require.Error(t, tr.Ended(ctx))
	assert.NotEqual(t, Completed, tr.State())

	store.mu.Lock()
	store.failAdvance = false
	store.mu.Unlock()

	require.NoError(t, tr.Ended(ctx))
	assert.Equal(t, Completed, tr.State())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.advances, 1)
	assert.Equal(t, shortID, store.advances[0].LectureID)
	assert.True(t, store.advances[0].LectureCompleted)

	// The payout from the failed attempt is not repeated on retry.
	require.Len(t, store.watchWrites, 1)
	assert.Equal(t, 8, store.watchWrites[0].Seconds)
}

func TestEndedSurfacesLedgerFailure(t *testing.T) {
	store := newFakeStore()
	store.failWatchWrite = true
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}

	require.Error(t, tr.Ended(ctx))
	assert.NotEqual(t, Completed, tr.State())

	store.mu.Lock()
	assert.Empty(t, store.advances)
	store.failWatchWrite = false
	store.mu.Unlock()

	// Nothing was acknowledged, so the retry reports the full delta.
	require.NoError(t, tr.Ended(ctx))
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, 8, store.watchWriteSum())
}

func TestCompletionFailureIsSurfaced(t *testing.T) {
	store := newFakeStore()
	store.failLectureWrite = true
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 8; p++ {
		tr.ReportPosition(p)
	}

	require.Error(t, tr.Ended(ctx))
	assert.NotEqual(t, Completed, tr.State())
	assert.Empty(t, store.advances)

	// Nothing locally pretends the lecture completed.
	for _, s := range tr.Curriculum().Sections {
		for _, it := range s.Items {
			assert.False(t, it.Completed)
		}
	}

	// Once the store recovers, Ended can be retried.
	store.mu.Lock()
	store.failLectureWrite = false
	store.mu.Unlock()
	require.NoError(t, tr.Ended(ctx))
	assert.Equal(t, Completed, tr.State())
}

func TestCompletionAdvancesPointerAndSignalsCourseEnd(t *testing.T) {
	store := newFakeStore()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	var completedCourse string
	tr, err := New(Config{
		Log:      log,
		Content:  &fakeContent{cur: testCurriculum()},
		Store:    store,
		CourseID: courseID,
		Paid:     true,
		Clock:    newFakeClock(),
		OnCourseComplete: func(id string) {
			completedCourse = id
		},
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, tr.Load(ctx))

	finish := func(itemID string, positions []float64) {
		_, _, err := tr.SelectLecture(ctx, itemID)
		require.NoError(t, err)
		require.NoError(t, tr.Play(ctx))
		for _, p := range positions {
			tr.ReportPosition(p)
		}
		require.NoError(t, tr.Ended(ctx))
	}

	finish(shortID, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	store.mu.Lock()
	adv := store.advances[0]
	store.mu.Unlock()
	assert.Equal(t, shortID, adv.LectureID)
	assert.True(t, adv.LectureCompleted)
	assert.False(t, adv.SectionCompleted)
	assert.Equal(t, 0, adv.SectionIndex)
	assert.Equal(t, 1, adv.LectureIndex)
	assert.Empty(t, completedCourse)

	finish(longID, []float64{1})

	store.mu.Lock()
	adv = store.advances[1]
	store.mu.Unlock()
	assert.True(t, adv.SectionCompleted)
	assert.Equal(t, 1, adv.SectionIndex)
	assert.Equal(t, 0, adv.LectureIndex)

	// Completions land in the merged view after the refresh.
	cur := tr.Curriculum()
	assert.True(t, cur.Sections[0].Completed)
	assert.Equal(t, 100, cur.Sections[0].CompletionPercent)

	finish(quizID, nil)
	assert.Equal(t, courseID, completedCourse)
}

func TestLectureSwitchStopsOldTracking(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 5; p++ {
		tr.ReportPosition(p)
	}

	_, _, err = tr.SelectLecture(ctx, shortID)
	require.NoError(t, err)

	assert.Equal(t, Loaded, tr.State())
	assert.Zero(t, tr.TotalWatched())

	// The switch flushed the old lecture's position once...
	require.Eventually(t, func() bool {
		return store.lectureWriteCount() == 1
	}, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	first := store.lectureWrites[0]
	store.mu.Unlock()
	assert.Equal(t, longID, first.LectureID)
	assert.InDelta(t, 5.0, first.Position, 1e-9)

	// ...and its ticker is dead.
	clock.Tick()
	assert.Never(t, func() bool {
		return store.lectureWriteCount() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestOverlappingFlushIsSkippedNotQueued(t *testing.T) {
	store := newFakeStore()
	store.blockWrites = make(chan struct{})
	clock := newFakeClock()
	tr := newTestTracker(t, store, clock, true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 5; p++ {
		tr.ReportPosition(p)
	}

	clock.Tick()
	clock.Tick()
	clock.Tick()

	close(store.blockWrites)

	require.Eventually(t, func() bool {
		return store.lectureWriteCount() >= 1
	}, time.Second, 5*time.Millisecond)

	// Only one round got through; the overlapping ticks were dropped.
	assert.Never(t, func() bool {
		return store.lectureWriteCount() > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCloseFlushesPendingPosition(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, newFakeClock(), true)
	ctx := context.Background()

	_, _, err := tr.SelectLecture(ctx, longID)
	require.NoError(t, err)
	require.NoError(t, tr.Play(ctx))
	for p := 1.0; p <= 7; p++ {
		tr.ReportPosition(p)
	}

	tr.Close(ctx)
	assert.Equal(t, Idle, tr.State())

	require.Eventually(t, func() bool {
		return store.lectureWriteCount() >= 1
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	last := store.lectureWrites[len(store.lectureWrites)-1]
	assert.Equal(t, longID, last.LectureID)
	assert.InDelta(t, 7.0, last.Position, 1e-9)
	assert.False(t, last.Completed)
}
