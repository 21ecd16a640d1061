package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/api/weberr"
	"github.com/ramadhanis/academy/core/claims"
	"github.com/ramadhanis/academy/validate"
)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		p, err := Fetch(ctx, db, clm.UserID, courseID)
		if err != nil {
			return err
		}

		if p == nil {
			return weberr.NotFound(fmt.Errorf("no progress for user[%s] on course[%s]", clm.UserID, courseID))
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleShowLecture(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		lectureID := web.Param(r, "lecture_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed course id is not valid: %w", err))
		}
		if err := validate.CheckID(lectureID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed lecture id is not valid: %w", err))
		}

		lp, err := FetchLecture(ctx, db, clm.UserID, courseID, lectureID)
		if err != nil {
			return err
		}

		if lp == nil {
			return weberr.NotFound(fmt.Errorf("no progress for user[%s] on lecture[%s]", clm.UserID, lectureID))
		}

		return web.Respond(ctx, w, lp, http.StatusOK)
	}
}

// HandleWatchTimeSummary serves the per-lecture payout aggregate of
// one course to its instructor.
func HandleWatchTimeSummary(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		ws, err := FetchWatchTimeSummary(ctx, db, courseID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, ws, http.StatusOK)
	}
}
