package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api/background"
	"github.com/ramadhanis/academy/core/course"
	"github.com/ramadhanis/academy/core/tracker"
	"github.com/sirupsen/logrus"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Registry keeps one live tracker per (user, course) and tears idle
// ones down, flushing their pending progress on the way out.
type Registry struct {
	log   logrus.FieldLogger
	db    *sqlx.DB
	bg    *background.Background
	ttl   time.Duration
	mu    sync.Mutex
	live  map[string]*liveTracker
	close chan struct{}
}

type liveTracker struct {
	tr         *tracker.Tracker
	lastAccess time.Time
}

func NewRegistry(log logrus.FieldLogger, db *sqlx.DB, bg *background.Background, ttl, sweepEvery time.Duration) *Registry {
	reg := &Registry{
		log:   log,
		db:    db,
		bg:    bg,
		ttl:   ttl,
		live:  make(map[string]*liveTracker),
		close: make(chan struct{}),
	}
	go reg.sweep(sweepEvery)
	return reg
}

func key(userID, courseID string) string {
	return userID + "/" + courseID
}

// Acquire returns the live tracker for the user on the course,
// creating and loading one on first touch.
func (reg *Registry) Acquire(ctx context.Context, userID string, c course.Course) (*tracker.Tracker, error) {
	reg.mu.Lock()
	if lt, ok := reg.live[key(userID, c.ID)]; ok {
		lt.lastAccess = nowUTC()
		tr := lt.tr
		reg.mu.Unlock()
		return tr, nil
	}
	reg.mu.Unlock()

	tr, err := tracker.New(tracker.Config{
		Log:      reg.log.WithField("user_id", userID),
		Content:  contentProvider{db: reg.db},
		Store:    boundStore{db: reg.db, userID: userID},
		CourseID: c.ID,
		Paid:     c.Paid(),
		OnCourseComplete: func(courseID string) {
			reg.log.WithFields(logrus.Fields{
				"user_id":   userID,
				"course_id": courseID,
			}).Info("course completed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building tracker: %w", err)
	}

	if err := tr.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading tracker: %w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// A concurrent request may have won the race; its tracker wins.
	if lt, ok := reg.live[key(userID, c.ID)]; ok {
		lt.lastAccess = nowUTC()
		return lt.tr, nil
	}

	reg.live[key(userID, c.ID)] = &liveTracker{tr: tr, lastAccess: nowUTC()}
	return tr, nil
}

// Lookup returns the live tracker without creating one.
func (reg *Registry) Lookup(userID, courseID string) (*tracker.Tracker, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	lt, ok := reg.live[key(userID, courseID)]
	if !ok {
		return nil, false
	}

	lt.lastAccess = nowUTC()
	return lt.tr, true
}

// Release removes the tracker and flushes it on the background
// runner, so the caller's response does not wait on the store. This
// is the page-unload path: best effort, no confirmation.
func (reg *Registry) Release(userID, courseID string) {
	reg.mu.Lock()
	lt, ok := reg.live[key(userID, courseID)]
	if ok {
		delete(reg.live, key(userID, courseID))
	}
	reg.mu.Unlock()

	if !ok {
		return
	}

	reg.bg.Add("player-final-flush", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		lt.tr.Close(ctx)
		return nil
	})
}

// Shutdown stops the sweeper and flushes every live tracker.
func (reg *Registry) Shutdown(ctx context.Context) {
	close(reg.close)

	reg.mu.Lock()
	live := reg.live
	reg.live = make(map[string]*liveTracker)
	reg.mu.Unlock()

	for _, lt := range live {
		lt.tr.Close(ctx)
	}
}

func (reg *Registry) sweep(every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()

	for {
		select {
		case <-reg.close:
			return
		case <-tk.C:
		}

		reg.mu.Lock()
		expired := make([]*liveTracker, 0)
		for k, lt := range reg.live {
			if time.Since(lt.lastAccess) > reg.ttl {
				expired = append(expired, lt)
				delete(reg.live, k)
			}
		}
		reg.mu.Unlock()

		for _, lt := range expired {
			lt := lt
			reg.bg.Add("player-expiry-flush", func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				lt.tr.Close(ctx)
				return nil
			})
		}
	}
}
