package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/database"
	"github.com/ramadhanis/academy/validate"
)

// Fetch returns the course progress record, or nil when the user has
// never touched the course. Absence is not an error.
func Fetch(ctx context.Context, db sqlx.ExtContext, userID, courseID string) (*Course, error) {
	const q = `SELECT * FROM course_progress WHERE user_id = $1 AND course_id = $2`

	var p Course
	if err := sqlx.GetContext(ctx, db, &p, q, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting progress of user[%s] on course[%s]: %w", userID, courseID, err)
	}

	return &p, nil
}

// Initialize creates the zero-state progress row. Racing a concurrent
// initialization is harmless: the existing row wins.
func Initialize(ctx context.Context, db sqlx.ExtContext, userID, courseID string, totalLectures int) error {
	const q = `
	INSERT INTO course_progress
		(user_id, course_id, percent, section_index, lecture_index,
		 completed_lectures, completed_sections, total_lectures, created_at, updated_at)
	VALUES ($1, $2, 0, 0, 0, '{}', '{}', $3, $4, $4)
	ON CONFLICT (user_id, course_id) DO NOTHING`

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, q, userID, courseID, totalLectures, now); err != nil {
		return fmt.Errorf("initializing progress of user[%s] on course[%s]: %w", userID, courseID, err)
	}

	return nil
}

// Update advances the course-level pointer, folds the completed
// lecture/section into the sets and recomputes the percent. The
// percent is floored at its previous value so it never moves
// backwards, whatever the caller sends.
func Update(ctx context.Context, db *sqlx.DB, userID, courseID string, adv Advance) (Course, error) {
	// Ids arrive as NULL on a pure pointer move, so the uuid casts
	// never see an empty string.
	const qMove = `
	UPDATE course_progress SET
		section_index = $3,
		lecture_index = $4,
		completed_lectures = CASE
			WHEN $5 AND $6::uuid IS NOT NULL AND NOT completed_lectures @> ARRAY[$6::uuid]
			THEN array_append(completed_lectures, $6::uuid)
			ELSE completed_lectures
		END,
		completed_sections = CASE
			WHEN $7 AND $8::uuid IS NOT NULL AND NOT completed_sections @> ARRAY[$8::uuid]
			THEN array_append(completed_sections, $8::uuid)
			ELSE completed_sections
		END,
		updated_at = $9
	WHERE user_id = $1 AND course_id = $2`

	const qPercent = `
	UPDATE course_progress SET
		percent = GREATEST(percent, LEAST(100,
			ROUND(100.0 * cardinality(completed_lectures) / GREATEST(total_lectures, 1))::int))
	WHERE user_id = $1 AND course_id = $2`

	var lectureID, sectionID interface{}
	if adv.LectureID != "" {
		lectureID = adv.LectureID
	}
	if adv.SectionID != "" {
		sectionID = adv.SectionID
	}

	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, qMove,
			userID, courseID,
			adv.SectionIndex, adv.LectureIndex,
			adv.LectureCompleted, lectureID,
			adv.SectionCompleted, sectionID,
			now,
		)
		if err != nil {
			return fmt.Errorf("advancing pointer: %w", err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.New("progress record missing, initialize first")
		}

		if _, err := tx.ExecContext(ctx, qPercent, userID, courseID); err != nil {
			return fmt.Errorf("recomputing percent: %w", err)
		}

		return nil
	})

	if err != nil {
		return Course{}, fmt.Errorf("updating progress of user[%s] on course[%s]: %w", userID, courseID, err)
	}

	p, err := Fetch(ctx, db, userID, courseID)
	if err != nil {
		return Course{}, err
	}
	if p == nil {
		return Course{}, errors.New("progress record vanished during update")
	}

	return *p, nil
}

// FetchLecture returns the lecture resume state, or nil when the user
// has never played the lecture.
func FetchLecture(ctx context.Context, db sqlx.ExtContext, userID, courseID, lectureID string) (*Lecture, error) {
	const q = `
	SELECT * FROM lecture_progress
	WHERE user_id = $1 AND course_id = $2 AND lecture_id = $3`

	var lp Lecture
	if err := sqlx.GetContext(ctx, db, &lp, q, userID, courseID, lectureID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting lecture[%s] progress of user[%s]: %w", lectureID, userID, err)
	}

	return &lp, nil
}

// UpsertLecture persists position and accumulated watch time for the
// lecture. Watch time never shrinks and a completed row stays
// completed, so a stale or replayed write cannot undo progress.
func UpsertLecture(ctx context.Context, db sqlx.ExtContext, lp Lecture) error {
	const q = `
	INSERT INTO lecture_progress
		(user_id, course_id, lecture_id, position, watch_time, completed, updated_at)
	VALUES
		(:user_id, :course_id, :lecture_id, :position, :watch_time, :completed, :updated_at)
	ON CONFLICT (user_id, course_id, lecture_id) DO UPDATE SET
		position   = EXCLUDED.position,
		watch_time = GREATEST(lecture_progress.watch_time, EXCLUDED.watch_time),
		completed  = lecture_progress.completed OR EXCLUDED.completed,
		updated_at = EXCLUDED.updated_at`

	if _, err := sqlx.NamedExecContext(ctx, db, q, lp); err != nil {
		return fmt.Errorf("upserting lecture[%s] progress of user[%s]: %w", lp.LectureID, lp.UserID, err)
	}

	return nil
}

// RecordWatchTime appends one payout ledger entry. The caller is
// responsible for only sending freshly watched seconds.
func RecordWatchTime(ctx context.Context, db sqlx.ExtContext, userID, courseID, lectureID string, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("refusing to record non-positive watch time [%d]", seconds)
	}

	const q = `
	INSERT INTO watch_time_ledger (entry_id, user_id, course_id, lecture_id, seconds, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, q, validate.GenerateID(), userID, courseID, lectureID, seconds, now); err != nil {
		return fmt.Errorf("recording %ds of watch time on lecture[%s] for user[%s]: %w", seconds, lectureID, userID, err)
	}

	return nil
}

// FetchWatchTimeSummary aggregates the ledger per lecture for one
// course. Instructor payout reporting reads this.
func FetchWatchTimeSummary(ctx context.Context, db sqlx.ExtContext, courseID string) ([]LectureWatchTime, error) {
	const q = `
	SELECT lecture_id, SUM(seconds) AS total_seconds, COUNT(DISTINCT user_id) AS viewers
	FROM watch_time_ledger
	WHERE course_id = $1
	GROUP BY lecture_id
	ORDER BY lecture_id`

	ws := []LectureWatchTime{}
	if err := sqlx.SelectContext(ctx, db, &ws, q, courseID); err != nil {
		return nil, fmt.Errorf("summarizing watch time of course[%s]: %w", courseID, err)
	}

	return ws, nil
}
