package api_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/reelrank/internal/adapters/http/api"
	"github.com/okian/reelrank/internal/adapters/repository"
	service "github.com/okian/reelrank/internal/app"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/types"
	"github.com/okian/reelrank/pkg/logger"
)

type stubDeps struct {
	err      error
	readyErr error
}

func (s *stubDeps) Rankings(context.Context, string, model.ContentType) (model.RankedList, error) {
	return nil, s.err
}

func (s *stubDeps) Append(context.Context, string, string, model.RankedItem) (bool, error) {
	return false, s.err
}

func (s *stubDeps) Reorder(context.Context, string, string, model.ContentType, int, int) (bool, error) {
	return false, s.err
}

func (s *stubDeps) Delete(context.Context, string, string, model.ContentType, string) (bool, error) {
	return false, s.err
}

func (s *stubDeps) Ready(context.Context) error { return s.readyErr }

type stubStats map[string]any

func (s stubStats) GetStats(context.Context) map[string]any { return s }

func newMux(deps api.Dependencies, stats api.StatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats, logger.Nop()).Register(mux)
	return mux
}

func call(mux http.Handler, method, path, body, requestID string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if requestID != "" {
		req.Header.Set(types.RequestIDHeader, requestID)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func ids(l types.RankingList) string {
	out := ""
	for _, it := range l.Items {
		out += it.ItemID
	}
	return out
}

func TestRankingRoutes(t *testing.T) {
	ctx := context.Background()

	Convey("Given a server backed by a started service", t, func() {
		svc := service.New(service.WithStore(repository.NewMemoryStore()), service.WithLogger(logger.Nop()))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)
		mux := newMux(svc, svc)

		const base = "/v1/users/u1/rankings/movie"
		for _, body := range []string{
			`{"item_id":"A","score":9,"title":"Alien","year":1979}`,
			`{"item_id":"B","score":7}`,
			`{"item_id":"C","score":5}`,
		} {
			So(call(mux, http.MethodPost, base, body, "").Code, ShouldEqual, http.StatusCreated)
		}

		Convey("When listing the partition", func() {
			w := call(mux, http.MethodGet, base, "", "")

			Convey("Then items come back in position order with metadata", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				list := decodeBody[types.RankingList](w)
				So(list.UserID, ShouldEqual, "u1")
				So(list.ContentType, ShouldEqual, "movie")
				So(ids(list), ShouldEqual, "ABC")
				So(list.Items[0].Title, ShouldEqual, "Alien")
				So(list.Items[2].Position, ShouldEqual, 2)
			})
		})

		Convey("When reordering with a request id", func() {
			w := call(mux, http.MethodPost, base+"/reorder", `{"from_index":2,"to_index":0}`, "r-1")

			Convey("Then the move is applied and the id is echoed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get(types.RequestIDHeader), ShouldEqual, "r-1")
				So(decodeBody[types.Ack](w).Duplicate, ShouldBeFalse)
				list := decodeBody[types.RankingList](call(mux, http.MethodGet, base, "", ""))
				So(ids(list), ShouldEqual, "CAB")
				So(list.Items[0].DisplayScore, ShouldEqual, 9.2)
			})

			Convey("Then a replay is acknowledged as a duplicate", func() {
				w := call(mux, http.MethodPost, base+"/reorder", `{"from_index":2,"to_index":0}`, "r-1")
				So(w.Code, ShouldEqual, http.StatusOK)
				ack := decodeBody[types.Ack](w)
				So(ack.Duplicate, ShouldBeTrue)
				So(ack.Status, ShouldEqual, "duplicate")
				So(ids(decodeBody[types.RankingList](call(mux, http.MethodGet, base, "", ""))), ShouldEqual, "CAB")
			})
		})

		Convey("When deleting an item", func() {
			w := call(mux, http.MethodDelete, base+"/items/B", "", "r-2")

			Convey("Then it is gone and positions stay dense", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				list := decodeBody[types.RankingList](call(mux, http.MethodGet, base, "", ""))
				So(ids(list), ShouldEqual, "AC")
				So(list.Items[1].Position, ShouldEqual, 1)
			})
		})

		Convey("When requests are malformed or miss", func() {
			So(call(mux, http.MethodPost, base+"/reorder", `{"from_index":0}`, "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodPost, base+"/reorder", `{"from_index":-1,"to_index":0}`, "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodPost, base+"/reorder", `{"from_index":7,"to_index":0}`, "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodPost, base+"/reorder", `not json`, "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodGet, "/v1/users/u1/rankings/book", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodPost, base, `{"item_id":"D","score":11}`, "").Code, ShouldEqual, http.StatusBadRequest)
			So(call(mux, http.MethodDelete, base+"/items/Z", "", "").Code, ShouldEqual, http.StatusNotFound)

			w := call(mux, http.MethodPost, base, `{"item_id":"A","score":3}`, "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeBody[types.ErrorResponse](w).Code, ShouldEqual, "duplicate")
		})

		Convey("When a rejected request id is retried with a valid body", func() {
			So(call(mux, http.MethodDelete, base+"/items/Z", "", "r-3").Code, ShouldEqual, http.StatusNotFound)
			So(call(mux, http.MethodDelete, base+"/items/A", "", "r-3").Code, ShouldEqual, http.StatusOK)
		})

		Convey("When reading stats and readiness", func() {
			w := call(mux, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody[map[string]any](w)["started"], ShouldEqual, true)
			So(call(mux, http.MethodGet, "/readyz", "", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestErrorMapping(t *testing.T) {
	Convey("Given a server whose dependencies fail", t, func() {
		deps := &stubDeps{}
		mux := newMux(deps, stubStats{"ok": true})
		const base = "/v1/users/u1/rankings/tv"

		Convey("When the store is unavailable", func() {
			deps.err = repository.ErrUnavailable
			w := call(mux, http.MethodGet, base, "", "")

			Convey("Then the response is 503 without internals", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeBody[types.ErrorResponse](w).Message, ShouldEqual, "Service Unavailable")
			})
		})

		Convey("When the partition queue is full", func() {
			deps.err = errors.Join(service.ErrBusy, errors.New("queue full"))
			w := call(mux, http.MethodPost, base+"/reorder", `{"from_index":0,"to_index":1}`, "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When an unexpected error escapes", func() {
			deps.err = errors.New("boom")
			w := call(mux, http.MethodDelete, base+"/items/x", "", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeBody[types.ErrorResponse](w).Code, ShouldEqual, "internal")
		})

		Convey("When the store does not answer pings", func() {
			deps.readyErr = errors.New("db gone")
			So(call(mux, http.MethodGet, "/readyz", "", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When scraping metrics", func() {
			w := call(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When a route is unknown or the method is wrong", func() {
			So(call(mux, http.MethodGet, "/unknown", "", "").Code, ShouldEqual, http.StatusNotFound)
			So(call(mux, http.MethodPut, base, "", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("cause")

		Convey("Then both kind and cause are matchable", func() {
			err := api.WrapKind("op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "op: bad request: cause")
			So(api.NewKind("op", api.ErrNotFound).Error(), ShouldEqual, "op: not found")
			So(api.Wrap("op", nil), ShouldBeNil)
			So(errors.Is(api.Wrap("op", cause), cause), ShouldBeTrue)
		})
	})
}
