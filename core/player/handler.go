package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/api/weberr"
	"github.com/ramadhanis/academy/core/claims"
	"github.com/ramadhanis/academy/core/course"
	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/tracker"
	"github.com/ramadhanis/academy/validate"
)

// Player events mirror the HTML5 media element callbacks the web
// client translates for us.
const (
	EventPlay     = "play"
	EventPause    = "pause"
	EventSeek     = "seek"
	EventPosition = "position"
	EventEnded    = "ended"
)

type SelectNew struct {
	ItemID string `json:"itemId" validate:"required,uuid"`
}

type SelectResponse struct {
	Position  float64 `json:"position"`
	Completed bool    `json:"completed"`
}

type EventNew struct {
	Event    string  `json:"event" validate:"required,oneof=play pause seek position ended"`
	Position float64 `json:"position" validate:"gte=0"`
}

type StateResponse struct {
	State        string                `json:"state"`
	Position     float64               `json:"position"`
	TotalWatched float64               `json:"totalWatched"`
	IsTracking   bool                  `json:"isTracking"`
	Curriculum   curriculum.Curriculum `json:"curriculum"`
}

func fetchCourse(ctx context.Context, db *sqlx.DB, r *http.Request) (course.Course, error) {
	courseID := web.Param(r, "course_id")
	if err := validate.CheckID(courseID); err != nil {
		return course.Course{}, weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
	}

	c, err := course.Fetch(ctx, db, courseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return course.Course{}, weberr.NotFound(err)
		}
		return course.Course{}, err
	}

	return c, nil
}

// HandleSelect makes an item the active lecture and returns the
// position the player must seek to before playback.
func HandleSelect(db *sqlx.DB, reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		c, err := fetchCourse(ctx, db, r)
		if err != nil {
			return err
		}

		if c.Paid() {
			enrolled, err := course.Enrolled(ctx, db, clm.UserID, c.ID)
			if err != nil {
				return err
			}
			if !enrolled {
				return weberr.NotAuthorized(fmt.Errorf("user[%s] not enrolled in course[%s]", clm.UserID, c.ID))
			}
		}

		var sn SelectNew
		if err := web.Decode(w, r, &sn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(sn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		tr, err := reg.Acquire(ctx, clm.UserID, c)
		if err != nil {
			return err
		}

		pos, completed, err := tr.SelectLecture(ctx, sn.ItemID)
		if err != nil {
			if errors.Is(err, tracker.ErrUnknownItem) {
				return weberr.NotFound(err)
			}
			return err
		}

		return web.Respond(ctx, w, SelectResponse{Position: pos, Completed: completed}, http.StatusOK)
	}
}

// HandleEvent applies one player callback to the live tracker.
func HandleEvent(db *sqlx.DB, reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		var en EventNew
		if err := web.Decode(w, r, &en); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(en); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		tr, ok := reg.Lookup(clm.UserID, courseID)
		if !ok {
			return weberr.NotFound(fmt.Errorf("no live player for user[%s] on course[%s]", clm.UserID, courseID))
		}

		switch en.Event {
		case EventPlay:
			err = tr.Play(ctx)
		case EventPause:
			err = tr.Pause(ctx)
		case EventSeek:
			err = tr.Seek(ctx, en.Position)
		case EventPosition:
			tr.ReportPosition(en.Position)
		case EventEnded:
			err = tr.Ended(ctx)
		}

		if err != nil {
			if errors.Is(err, tracker.ErrNoLecture) {
				return weberr.Conflict(err)
			}
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleState reports the live tracker view: position, accumulated
// watch time and the enriched curriculum.
func HandleState(db *sqlx.DB, reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		tr, ok := reg.Lookup(clm.UserID, courseID)
		if !ok {
			return weberr.NotFound(fmt.Errorf("no live player for user[%s] on course[%s]", clm.UserID, courseID))
		}

		resp := StateResponse{
			State:        tr.State().String(),
			Position:     tr.Position(),
			TotalWatched: tr.TotalWatched(),
			IsTracking:   tr.IsTracking(),
			Curriculum:   tr.Curriculum(),
		}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

// HandleBeacon is the page-unload flush: it answers immediately and
// runs the final flush in the background, because the sending page is
// already gone and will never read the response.
func HandleBeacon(db *sqlx.DB, reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		reg.Release(clm.UserID, courseID)

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
