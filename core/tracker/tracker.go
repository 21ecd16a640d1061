// Package tracker owns playback state for one user on one course: it
// accumulates true watch time for the active lecture, periodically
// persists resume position and payout increments, and keeps the local
// curriculum view reconciled with server-confirmed progress.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/progress"
	"github.com/sirupsen/logrus"
)

// CurriculumProvider supplies the section/item tree for a course.
type CurriculumProvider interface {
	CourseCurriculum(ctx context.Context, courseID string) (curriculum.Curriculum, error)
}

// ProgressStore persists and retrieves progress for the user the
// store was bound to. Absent records are (nil, nil), not errors.
type ProgressStore interface {
	Progress(ctx context.Context, courseID string) (*progress.Course, error)
	InitializeProgress(ctx context.Context, courseID string, totalLectures int) error
	UpdateProgress(ctx context.Context, courseID string, adv progress.Advance) (progress.Course, error)
	LectureProgress(ctx context.Context, courseID, lectureID string) (*progress.Lecture, error)
	UpdateLectureProgress(ctx context.Context, courseID, lectureID string, position, watchTime float64, completed bool) error
	RecordWatchTime(ctx context.Context, courseID, lectureID string, seconds int) error
}

// State of the active lecture.
type State int

const (
	Idle State = iota
	Loaded
	Tracking
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Tracking:
		return "tracking"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	// maxTickDelta is the largest position jump still credited as
	// organic playback. Anything bigger is a seek or a buffering
	// recovery and must not count as watched content.
	maxTickDelta = 2.0

	defaultFlushInterval = 10 * time.Second
)

var (
	ErrNoLecture   = errors.New("no lecture selected")
	ErrNotLoaded   = errors.New("tracker not loaded")
	ErrUnknownItem = errors.New("item not in course curriculum")
)

// WatchSession is one contiguous stretch of playback. Sessions are
// never persisted; only their accumulated time is.
type WatchSession struct {
	ItemID        string
	StartPosition float64
	StartedAt     time.Time
	EndPosition   float64
	EndedAt       time.Time
}

type Config struct {
	Log     logrus.FieldLogger
	Content CurriculumProvider
	Store   ProgressStore

	CourseID string

	// Paid gates the payout ledger: watch time on free courses is
	// tracked for resume but never reported for payout.
	Paid bool

	// Clock defaults to the wall clock, FlushInterval to 10s.
	Clock         Clock
	FlushInterval time.Duration

	// OnCourseComplete fires once when the authoritative percent
	// reaches 100 (certificate issuance hangs off this).
	OnCourseComplete func(courseID string)
}

// Tracker is safe for concurrent use: the periodic flush necessarily
// runs on its own goroutine.
type Tracker struct {
	mu sync.Mutex

	log      logrus.FieldLogger
	content  CurriculumProvider
	store    ProgressStore
	clock    Clock
	interval time.Duration
	courseID string
	paid     bool

	onComplete func(string)

	state    State
	enriched curriculum.Curriculum
	loaded   bool

	current    curriculum.Item
	sectionIdx int
	lectureIdx int

	session  *WatchSession
	sessions []WatchSession

	lastPos      float64
	totalWatched float64

	// lastReported is the high-water mark of payout-acknowledged
	// watch time. It only ever advances on a confirmed write.
	lastReported float64

	completedOnce bool
	completing    bool
	inFlight      bool
	stopFlush     chan struct{}
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Content == nil || cfg.Store == nil {
		return nil, errors.New("tracker requires content provider and progress store")
	}
	if cfg.CourseID == "" {
		return nil, errors.New("tracker requires a course id")
	}

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = wallClock{}
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	return &Tracker{
		log:        log.WithField("course_id", cfg.CourseID),
		content:    cfg.Content,
		store:      cfg.Store,
		clock:      clock,
		interval:   interval,
		courseID:   cfg.CourseID,
		paid:       cfg.Paid,
		onComplete: cfg.OnCourseComplete,
		state:      Idle,
	}, nil
}

// Load fetches the curriculum and the progress record (initializing a
// zero one on first contact) and builds the enriched view. Must be
// called before any lecture is selected.
func (t *Tracker) Load(ctx context.Context) error {
	cur, err := t.content.CourseCurriculum(ctx, t.courseID)
	if err != nil {
		return fmt.Errorf("fetching curriculum: %w", err)
	}

	p, err := t.store.Progress(ctx, t.courseID)
	if err != nil {
		return fmt.Errorf("fetching progress: %w", err)
	}

	if p == nil {
		if err := t.store.InitializeProgress(ctx, t.courseID, cur.LectureCount()); err != nil {
			return fmt.Errorf("initializing progress: %w", err)
		}
		if p, err = t.store.Progress(ctx, t.courseID); err != nil {
			return fmt.Errorf("fetching progress after init: %w", err)
		}
		if p == nil {
			return errors.New("progress record missing after initialization")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.enriched = Merge(cur, *p)
	t.loaded = true
	return nil
}

// SelectLecture makes item the active lecture, performing the exit
// actions for a previous one still tracking. The returned position is
// where the player must seek before playback starts (the last
// persisted position, unless the lecture is already completed).
func (t *Tracker) SelectLecture(ctx context.Context, itemID string) (position float64, completed bool, err error) {
	t.mu.Lock()

	if !t.loaded {
		t.mu.Unlock()
		return 0, false, ErrNotLoaded
	}

	if t.state == Tracking {
		t.exitTrackingLocked()
		t.flushPositionAsync()
	}

	item, si, li, ok := t.enriched.FindItem(itemID)
	if !ok || item.ID == "" {
		// Fail closed: a malformed or unknown item never tracks.
		t.state = Idle
		t.current = curriculum.Item{}
		t.mu.Unlock()
		t.log.WithField("item_id", itemID).Warn("select of unknown item rejected")
		return 0, false, ErrUnknownItem
	}

	t.mu.Unlock()

	lp, err := t.store.LectureProgress(ctx, t.courseID, item.ID)
	if err != nil {
		return 0, false, fmt.Errorf("fetching lecture progress: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = item
	t.sectionIdx = si
	t.lectureIdx = li
	t.state = Loaded
	t.session = nil
	t.sessions = nil
	t.completedOnce = false

	if lp != nil {
		t.lastPos = float64(lp.Position)
		t.totalWatched = float64(lp.WatchTime)
		t.lastReported = float64(lp.WatchTime)
		completed = lp.Completed
	} else {
		t.lastPos = 0
		t.totalWatched = 0
		t.lastReported = 0
	}

	return t.lastPos, completed, nil
}

// Play opens a watch session at the current position and starts the
// periodic flush.
func (t *Tracker) Play(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Idle:
		return ErrNoLecture
	case Tracking:
		return nil
	case Completed:
		// No further accrual after completion.
		return nil
	}

	t.session = &WatchSession{
		ItemID:        t.current.ID,
		StartPosition: t.lastPos,
		StartedAt:     t.clock.Now(),
	}

	stop := make(chan struct{})
	t.stopFlush = stop
	t.state = Tracking

	go t.flushLoop(stop, t.clock.NewTicker(t.interval))

	return nil
}

// Pause closes the session, cancels the periodic flush and persists
// the current position fire-and-forget.
func (t *Tracker) Pause(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Tracking {
		return nil
	}

	t.exitTrackingLocked()
	t.flushPositionAsync()
	return nil
}

// Seek exits tracking like a pause and moves the position. The player
// reports a new play event when playback resumes.
func (t *Tracker) Seek(ctx context.Context, pos float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Idle:
		return ErrNoLecture
	case Tracking:
		t.exitTrackingLocked()
		t.flushPositionAsync()
	}

	if pos < 0 {
		pos = 0
	}
	t.lastPos = pos
	return nil
}

// ReportPosition is the once-per-second player callback. Only small
// forward deltas count as watched content; jumps are seeks, and
// non-positive deltas are replays.
func (t *Tracker) ReportPosition(pos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Tracking {
		return
	}

	delta := pos - t.lastPos
	if delta > 0 && delta < maxTickDelta {
		t.totalWatched += delta
		if d := float64(t.current.Duration); d > 0 && t.totalWatched > d {
			t.totalWatched = d
		}
	}

	t.lastPos = pos
}

// Ended runs the completion sequence for the active lecture. A second
// call for the same lecture-load is a no-op, including one arriving
// while the first is still persisting. On persistence failure the
// error is returned and the local view stays unchanged, so the UI
// never shows a completion the server disagrees with; every step is
// idempotent, so the caller can simply retry.
func (t *Tracker) Ended(ctx context.Context) error {
	t.mu.Lock()

	if t.state == Idle {
		t.mu.Unlock()
		return ErrNoLecture
	}

	if t.completedOnce || t.completing {
		t.mu.Unlock()
		return nil
	}
	t.completing = true

	if t.state == Tracking {
		t.exitTrackingLocked()
	}

	item := t.current
	duration := float64(item.Duration)
	watched := t.totalWatched
	if duration > 0 && watched > duration {
		watched = duration
	}

	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.completing = false
		t.mu.Unlock()
	}()

	if err := t.store.UpdateLectureProgress(ctx, t.courseID, item.ID, duration, watched, true); err != nil {
		t.log.WithField("lecture_id", item.ID).WithError(err).Error("persisting lecture completion")
		return fmt.Errorf("persisting completion of lecture[%s]: %w", item.ID, err)
	}

	// Very short lectures may complete before any periodic tick
	// fired: fall back to the full duration so their watch time is
	// not lost to payout.
	t.mu.Lock()
	final := math.Max(t.totalWatched, duration)
	delta := int(math.Floor(final - t.lastReported))
	reported := final
	t.mu.Unlock()

	if delta > 0 && t.paid {
		if err := t.store.RecordWatchTime(ctx, t.courseID, item.ID, delta); err != nil {
			t.log.WithField("lecture_id", item.ID).WithError(err).Error("recording final watch time")
			return fmt.Errorf("recording final watch time of lecture[%s]: %w", item.ID, err)
		}

		t.mu.Lock()
		if reported > t.lastReported {
			t.lastReported = reported
		}
		t.mu.Unlock()
	}

	adv := t.advanceAfter(item)
	if _, err := t.store.UpdateProgress(ctx, t.courseID, adv); err != nil {
		t.log.WithField("lecture_id", item.ID).WithError(err).Error("advancing course pointer")
		return fmt.Errorf("advancing course progress: %w", err)
	}

	percent, err := t.refreshProgress(ctx)
	if err != nil {
		t.log.WithError(err).Error("refreshing progress after completion")
	}

	// Only now, with every write confirmed, does the completion
	// latch. An earlier latch would make a failed retry report
	// success and strand the course pointer.
	t.mu.Lock()
	t.completedOnce = true
	t.state = Completed
	t.lastPos = duration
	onComplete := t.onComplete
	t.mu.Unlock()

	if percent >= 100 && onComplete != nil {
		onComplete(t.courseID)
	}

	return nil
}

// Close tears the tracker down, flushing pending position best-effort.
// The tracker is Idle afterwards and can select a new lecture.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()

	if t.state == Tracking {
		t.exitTrackingLocked()
	}

	hasLecture := t.state != Idle && t.current.ID != "" && !t.completedOnce
	item := t.current
	pos := t.lastPos
	watched := t.totalWatched

	t.state = Idle
	t.current = curriculum.Item{}
	t.session = nil
	t.mu.Unlock()

	if !hasLecture {
		return
	}

	if err := t.store.UpdateLectureProgress(ctx, t.courseID, item.ID, pos, watched, false); err != nil {
		t.log.WithField("lecture_id", item.ID).WithError(err).Warn("final position flush failed")
	}
}

// Accessors.

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) IsTracking() bool {
	return t.State() == Tracking
}

func (t *Tracker) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPos
}

func (t *Tracker) TotalWatched() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalWatched
}

// Sessions returns the closed watch sessions of the current
// lecture-load, oldest first.
func (t *Tracker) Sessions() []WatchSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]WatchSession, len(t.sessions))
	copy(out, t.sessions)
	return out
}

// Curriculum returns the current enriched view of the course.
func (t *Tracker) Curriculum() curriculum.Curriculum {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enriched
}

// exitTrackingLocked closes the open session and cancels the periodic
// flush. Must hold t.mu. Cancelling here, before the lock is ever
// released, is what keeps a zombie ticker from reporting time for a
// lecture no longer being watched.
func (t *Tracker) exitTrackingLocked() {
	if t.stopFlush != nil {
		close(t.stopFlush)
		t.stopFlush = nil
	}

	if t.session != nil {
		t.session.EndPosition = t.lastPos
		t.session.EndedAt = t.clock.Now()
		t.sessions = append(t.sessions, *t.session)
		t.session = nil
	}

	t.state = Loaded
}

// flushPositionAsync persists the current position without blocking
// the player. Failures are logged and superseded by the next write.
func (t *Tracker) flushPositionAsync() {
	item := t.current
	pos := t.lastPos
	watched := t.totalWatched

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := t.store.UpdateLectureProgress(ctx, t.courseID, item.ID, pos, watched, false); err != nil {
			t.log.WithField("lecture_id", item.ID).WithError(err).Warn("position flush failed")
		}
	}()
}

func (t *Tracker) flushLoop(stop chan struct{}, tk Ticker) {
	defer tk.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tk.Chan():
			t.flush(context.Background())
		}
	}
}

// flush is one periodic persistence round: position + watch time
// upsert, payout delta, authoritative re-merge. At most one round is
// in flight; an overlapping tick is skipped, not queued. The next
// one picks up the latest numbers anyway.
func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()

	if t.state != Tracking || t.inFlight {
		t.mu.Unlock()
		return
	}

	t.inFlight = true
	item := t.current
	pos := t.lastPos
	watched := t.totalWatched
	reported := t.lastReported
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	if err := t.store.UpdateLectureProgress(ctx, t.courseID, item.ID, pos, watched, false); err != nil {
		t.log.WithField("lecture_id", item.ID).WithError(err).Warn("periodic progress flush failed")
	}

	if delta := int(math.Floor(watched - reported)); delta > 0 && t.paid {
		if err := t.store.RecordWatchTime(ctx, t.courseID, item.ID, delta); err != nil {
			// The high-water mark stays put: the unreported
			// seconds ride along into the next tick.
			t.log.WithField("lecture_id", item.ID).WithError(err).Warn("watch time report failed")
		} else {
			t.mu.Lock()
			if watched > t.lastReported {
				t.lastReported = watched
			}
			t.mu.Unlock()
		}
	}

	if _, err := t.refreshProgress(ctx); err != nil {
		t.log.WithError(err).Warn("progress refresh failed")
	}
}

// refreshProgress re-fetches the authoritative record and re-merges
// it into the local curriculum view. Returns the fresh percent.
func (t *Tracker) refreshProgress(ctx context.Context) (int, error) {
	p, err := t.store.Progress(ctx, t.courseID)
	if err != nil {
		return 0, fmt.Errorf("fetching progress: %w", err)
	}
	if p == nil {
		return 0, errors.New("progress record disappeared")
	}

	t.mu.Lock()
	t.enriched = Merge(t.enriched, *p)
	t.mu.Unlock()

	return p.Percent, nil
}

// advanceAfter computes the course-pointer move once item completes:
// next item in the section, else first item of the next section, else
// stay on the last one. The section is reported complete when every
// other item in it already was.
func (t *Tracker) advanceAfter(item curriculum.Item) progress.Advance {
	t.mu.Lock()
	defer t.mu.Unlock()

	si, li := t.sectionIdx, t.lectureIdx

	adv := progress.Advance{
		SectionIndex:     si,
		LectureIndex:     li,
		SectionID:        item.SectionID,
		LectureID:        item.ID,
		LectureCompleted: true,
	}

	if si < len(t.enriched.Sections) {
		sec := t.enriched.Sections[si]

		done := true
		for _, it := range sec.Items {
			if it.ID != item.ID && !it.Completed {
				done = false
				break
			}
		}
		adv.SectionCompleted = done && len(sec.Items) > 0

		switch {
		case li+1 < len(sec.Items):
			adv.LectureIndex = li + 1
		case si+1 < len(t.enriched.Sections):
			adv.SectionIndex = si + 1
			adv.LectureIndex = 0
		}
	}

	return adv
}
