package player

import (
	"context"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/progress"
	"github.com/ramadhanis/academy/core/tracker"
)

// contentProvider adapts the curriculum store to the tracker seam.
type contentProvider struct {
	db *sqlx.DB
}

func (c contentProvider) CourseCurriculum(ctx context.Context, courseID string) (curriculum.Curriculum, error) {
	return curriculum.Fetch(ctx, c.db, courseID)
}

// boundStore adapts the progress store to the tracker seam, bound to
// one user so the tracker stays user-agnostic.
type boundStore struct {
	db     *sqlx.DB
	userID string
}

func (s boundStore) Progress(ctx context.Context, courseID string) (*progress.Course, error) {
	return progress.Fetch(ctx, s.db, s.userID, courseID)
}

func (s boundStore) InitializeProgress(ctx context.Context, courseID string, totalLectures int) error {
	return progress.Initialize(ctx, s.db, s.userID, courseID, totalLectures)
}

func (s boundStore) UpdateProgress(ctx context.Context, courseID string, adv progress.Advance) (progress.Course, error) {
	return progress.Update(ctx, s.db, s.userID, courseID, adv)
}

func (s boundStore) LectureProgress(ctx context.Context, courseID, lectureID string) (*progress.Lecture, error) {
	return progress.FetchLecture(ctx, s.db, s.userID, courseID, lectureID)
}

func (s boundStore) UpdateLectureProgress(ctx context.Context, courseID, lectureID string, position, watchTime float64, completed bool) error {
	lp := progress.Lecture{
		UserID:    s.userID,
		CourseID:  courseID,
		LectureID: lectureID,
		Position:  int(math.Round(position)),
		WatchTime: int(math.Floor(watchTime)),
		Completed: completed,
		UpdatedAt: nowUTC(),
	}
	return progress.UpsertLecture(ctx, s.db, lp)
}

func (s boundStore) RecordWatchTime(ctx context.Context, courseID, lectureID string, seconds int) error {
	return progress.RecordWatchTime(ctx, s.db, s.userID, courseID, lectureID, seconds)
}

var _ tracker.ProgressStore = boundStore{}
var _ tracker.CurriculumProvider = contentProvider{}
