package progress

import (
	"time"

	"github.com/lib/pq"
)

// Course is the per (user, course) progress record. Percent never
// decreases once written; the store enforces that on every update.
type Course struct {
	UserID            string         `json:"userId" db:"user_id"`
	CourseID          string         `json:"courseId" db:"course_id"`
	Percent           int            `json:"percent" db:"percent"`
	SectionIndex      int            `json:"sectionIndex" db:"section_index"`
	LectureIndex      int            `json:"lectureIndex" db:"lecture_index"`
	CompletedLectures pq.StringArray `json:"completedLectures" db:"completed_lectures"`
	CompletedSections pq.StringArray `json:"completedSections" db:"completed_sections"`
	TotalLectures     int            `json:"totalLectures" db:"total_lectures"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time      `json:"updatedAt" db:"updated_at"`
}

// Lecture is the per-lecture resume state: last playback position and
// accumulated watch time, both in seconds.
type Lecture struct {
	UserID    string    `json:"userId" db:"user_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	LectureID string    `json:"lectureId" db:"lecture_id"`
	Position  int       `json:"position" db:"position"`
	WatchTime int       `json:"watchTime" db:"watch_time"`
	Completed bool      `json:"completed" db:"completed"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Advance moves the course-level pointer and optionally marks the
// lecture (and its section, when it was the last open item) complete.
type Advance struct {
	SectionIndex     int
	LectureIndex     int
	SectionID        string
	LectureID        string
	LectureCompleted bool
	SectionCompleted bool
}

// WatchTime is one append-only payout ledger entry. Entries are only
// written for paid courses and only for freshly watched seconds.
type WatchTime struct {
	ID        string    `json:"id" db:"entry_id"`
	UserID    string    `json:"userId" db:"user_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	LectureID string    `json:"lectureId" db:"lecture_id"`
	Seconds   int       `json:"seconds" db:"seconds"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// LectureWatchTime is the instructor-facing ledger aggregate.
type LectureWatchTime struct {
	LectureID    string `json:"lectureId" db:"lecture_id"`
	TotalSeconds int    `json:"totalSeconds" db:"total_seconds"`
	Viewers      int    `json:"viewers" db:"viewers"`
}
