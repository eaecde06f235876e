package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/reelrank/internal/config"
	"github.com/okian/reelrank/pkg/logger"
)

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the server wiring", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.DBDSN = ":memory:"

		convey.Convey("When the service is built from config", func() {
			svc := newService(cfg, logger.Nop())
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop(ctx)
			h := newHandler(svc, logger.Nop())

			convey.Convey("Then ranking routes are served", func() {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/users/u1/rankings/movie",
					strings.NewReader(`{"item_id":"m1","score":8}`)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)

				w = httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users/u1/rankings/movie", nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `"item_id":"m1"`)
			})

			convey.Convey("Then metrics are exposed on healthz", func() {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "reelrank_")
			})
		})

		convey.Convey("When run is cancelled", func() {
			cfg.Addr = "127.0.0.1:0"
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- run(runCtx, cfg) }()
			time.Sleep(50 * time.Millisecond)
			cancel()

			convey.Convey("Then it shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
