package curriculum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/api/weberr"
	"github.com/ramadhanis/academy/core/claims"
	"github.com/ramadhanis/academy/core/course"
	"github.com/ramadhanis/academy/validate"
)

// HandleShow returns the course outline. Item URLs are only included
// for free items, or for every item when the caller is enrolled.
func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		cur, err := Fetch(ctx, db, courseID)
		if err != nil {
			return err
		}

		enrolled := false
		if clm, err := claims.Get(ctx); err == nil {
			enrolled, err = course.Enrolled(ctx, db, clm.UserID, courseID)
			if err != nil {
				return err
			}
		}

		if !enrolled {
			for si := range cur.Sections {
				for ii := range cur.Sections[si].Items {
					if !cur.Sections[si].Items[ii].Free {
						cur.Sections[si].Items[ii].URL = ""
					}
				}
			}
		}

		return web.Respond(ctx, w, cur, http.StatusOK)
	}
}

func HandleCreateSection(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var sn SectionNew
		if err := web.Decode(w, r, &sn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(sn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		now := time.Now().UTC()
		s := Section{
			ID:        validate.GenerateID(),
			CourseID:  sn.CourseID,
			Index:     sn.Index,
			Name:      sn.Name,
			CreatedAt: now,
			UpdatedAt: now,
			Items:     []Item{},
		}

		if err := CreateSection(ctx, db, s); err != nil {
			return err
		}

		return web.Respond(ctx, w, s, http.StatusCreated)
	}
}

func HandleCreateItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		now := time.Now().UTC()
		it := Item{
			ID:          validate.GenerateID(),
			SectionID:   in.SectionID,
			CourseID:    in.CourseID,
			Index:       in.Index,
			Name:        in.Name,
			ContentType: in.ContentType,
			Duration:    in.Duration,
			Free:        in.Free,
			URL:         in.URL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := CreateItem(ctx, db, it); err != nil {
			return err
		}

		return web.Respond(ctx, w, it, http.StatusCreated)
	}
}

func HandleUpdateItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		itemID := web.Param(r, "id")
		if err := validate.CheckID(itemID); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		var iu ItemUp
		if err := web.Decode(w, r, &iu); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(iu); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		it, err := FetchItem(ctx, db, itemID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if iu.Index != nil {
			it.Index = *iu.Index
		}
		if iu.Name != nil {
			it.Name = *iu.Name
		}
		if iu.ContentType != nil {
			it.ContentType = *iu.ContentType
		}
		if iu.Duration != nil {
			it.Duration = *iu.Duration
		}
		if iu.Free != nil {
			it.Free = *iu.Free
		}
		if iu.URL != nil {
			it.URL = *iu.URL
		}
		it.UpdatedAt = time.Now().UTC()

		if err := UpdateItem(ctx, db, it); err != nil {
			return err
		}

		return web.Respond(ctx, w, it, http.StatusOK)
	}
}
