package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api/background"
	"github.com/ramadhanis/academy/api/middleware"
	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/core/auth"
	"github.com/ramadhanis/academy/core/course"
	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/player"
	"github.com/ramadhanis/academy/core/progress"
	"github.com/ramadhanis/academy/rate"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin string
	Log        logrus.FieldLogger
	DB         *sqlx.DB
	Session    *scs.SessionManager
	Background *background.Background
	Players    *player.Registry
	Limiter    *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Session)
	instructor := auth.Instructor(cfg.Session)
	limited := middleware.RateLimit(cfg.Limiter)

	a.Handle(http.MethodGet, "/courses/enrolled", course.HandleListEnrolled(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{course_id}/curriculum", curriculum.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses/{course_id}/progress", progress.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{course_id}/lectures/{lecture_id}/progress", progress.HandleShowLecture(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses", course.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/courses", course.HandleCreate(cfg.DB), authen, instructor)
	a.Handle(http.MethodPut, "/courses/{id}", course.HandleUpdate(cfg.DB), authen, instructor)

	a.Handle(http.MethodPost, "/sections", curriculum.HandleCreateSection(cfg.DB), authen, instructor)
	a.Handle(http.MethodPost, "/items", curriculum.HandleCreateItem(cfg.DB), authen, instructor)
	a.Handle(http.MethodPut, "/items/{id}", curriculum.HandleUpdateItem(cfg.DB), authen, instructor)

	a.Handle(http.MethodPost, "/player/{course_id}/select", player.HandleSelect(cfg.DB, cfg.Players), authen)
	a.Handle(http.MethodPost, "/player/{course_id}/events", player.HandleEvent(cfg.DB, cfg.Players), authen, limited)
	a.Handle(http.MethodGet, "/player/{course_id}/state", player.HandleState(cfg.DB, cfg.Players), authen)
	a.Handle(http.MethodPost, "/player/{course_id}/beacon", player.HandleBeacon(cfg.DB, cfg.Players), authen)

	a.Handle(http.MethodGet, "/instructor/courses/{course_id}/watch-time", progress.HandleWatchTimeSummary(cfg.DB), authen, instructor)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
