package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/reelrank/internal/adapters/cache"
	"github.com/okian/reelrank/internal/adapters/repository"
	"github.com/okian/reelrank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func abc() model.RankedList {
	return model.RankedList{
		{ItemID: "A", DisplayScore: 9.0},
		{ItemID: "B", DisplayScore: 7.0},
		{ItemID: "C", DisplayScore: 5.0},
	}
}

func TestMemoryStoreInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	Convey("Given a seeded memory store", t, func() {
		s := repository.NewMemoryStore()
		s.Seed(user, model.TV, abc())

		Convey("When a failure is injected for the next reorder", func() {
			s.FailNext(repository.OpReorder, boom)
			err := s.PersistReorder(ctx, user, model.TV, 2, 0)

			Convey("Then the call fails once and leaves the data alone", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				l, _ := s.FetchRankings(ctx, user, model.TV)
				So(order(l), ShouldEqual, "ABC")
				So(s.PersistReorder(ctx, user, model.TV, 2, 0), ShouldBeNil)
				So(s.Calls(repository.OpReorder), ShouldEqual, 2)
			})
		})

		Convey("When persistence is paused", func() {
			release := s.Pause()
			done := make(chan error, 1)
			go func() { done <- s.PersistDelete(ctx, user, model.TV, "A") }()

			Convey("Then the call waits for release", func() {
				early := false
				select {
				case <-done:
					early = true
				case <-time.After(20 * time.Millisecond):
				}
				So(early, ShouldBeFalse)
				release()
				So(<-done, ShouldBeNil)
				l, _ := s.FetchRankings(ctx, user, model.TV)
				So(order(l), ShouldEqual, "BC")
			})
		})

		Convey("When a paused call's context ends", func() {
			release := s.Pause()
			defer release()
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			err := s.PersistDelete(cctx, user, model.TV, "A")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("Then seeding rewrites positions and content type", func() {
			l, _ := s.FetchRankings(ctx, user, model.TV)
			So(l.Dense(), ShouldBeTrue)
			So(l[0].ContentType, ShouldEqual, model.TV)
		})
	})
}

func TestSQLStoreOpen(t *testing.T) {
	ctx := context.Background()

	Convey("Given an unknown driver", t, func() {
		_, err := repository.OpenSQL(ctx, "oracle", "dsn")
		So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
	})

	Convey("Given an opened sqlite store", t, func() {
		s, err := openSQLite(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		Convey("Then it answers pings", func() {
			So(s.Ping(ctx), ShouldBeNil)
		})

		Convey("Then an empty store counts zero", func() {
			n, err := s.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})

	Convey("Given a query with placeholders", t, func() {
		q := "SELECT 1 WHERE a = ? AND b = ?"

		Convey("Then postgres gets numbered parameters", func() {
			So(repository.Rebind(repository.DriverPostgres, q), ShouldEqual, "SELECT 1 WHERE a = $1 AND b = $2")
		})

		Convey("Then sqlite keeps question marks", func() {
			So(repository.Rebind(repository.DriverSQLite, q), ShouldEqual, q)
		})
	})
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// slowFetch reads from the wrapped repository, then holds the answer until
// hold is closed.
type slowFetch struct {
	repository.Repository
	read chan struct{}
	hold chan struct{}
	once sync.Once
}

func (s *slowFetch) FetchRankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error) {
	l, err := s.Repository.FetchRankings(ctx, userID, ct)
	s.once.Do(func() { close(s.read) })
	<-s.hold
	return l, err
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cached memory store", t, func() {
		inner := repository.NewMemoryStore()
		inner.Seed(user, model.Movie, abc())
		clock := &fakeClock{now: time.Unix(0, 0)}
		c := repository.NewCached(inner, time.Minute, cache.WithClock(clock.Now))

		first, err := c.FetchRankings(ctx, user, model.Movie)
		So(err, ShouldBeNil)

		Convey("When fetching again within the ttl", func() {
			second, err := c.FetchRankings(ctx, user, model.Movie)

			Convey("Then the repository is not contacted", func() {
				So(err, ShouldBeNil)
				So(second.Equal(first), ShouldBeTrue)
				So(inner.Calls(repository.OpFetch), ShouldEqual, 1)
				So(c.Stats().Hits, ShouldEqual, 1)
			})

			Convey("Then callers cannot corrupt the cached copy", func() {
				second[0].ItemID = "X"
				third, _ := c.FetchRankings(ctx, user, model.Movie)
				So(third[0].ItemID, ShouldEqual, "A")
			})
		})

		Convey("When the ttl elapses", func() {
			clock.now = clock.now.Add(2 * time.Minute)
			_, _ = c.FetchRankings(ctx, user, model.Movie)
			So(inner.Calls(repository.OpFetch), ShouldEqual, 2)
		})

		Convey("When the partition is mutated", func() {
			So(c.PersistReorder(ctx, user, model.Movie, 2, 0), ShouldBeNil)
			l, _ := c.FetchRankings(ctx, user, model.Movie)

			Convey("Then the next fetch sees the server state", func() {
				So(order(l), ShouldEqual, "CAB")
				So(inner.Calls(repository.OpFetch), ShouldEqual, 2)
			})
		})

		Convey("When a mutation fails", func() {
			inner.FailNext(repository.OpDelete, errors.New("boom"))
			So(c.PersistDelete(ctx, user, model.Movie, "A"), ShouldNotBeNil)
			_, _ = c.FetchRankings(ctx, user, model.Movie)

			Convey("Then the entry is still dropped", func() {
				So(inner.Calls(repository.OpFetch), ShouldEqual, 2)
			})
		})

		Convey("When the fetch fails", func() {
			c.Invalidate(user, model.Movie)
			inner.FailNext(repository.OpFetch, errors.New("down"))
			_, err := c.FetchRankings(ctx, user, model.Movie)

			Convey("Then nothing is cached", func() {
				So(err, ShouldNotBeNil)
				_, err = c.FetchRankings(ctx, user, model.Movie)
				So(err, ShouldBeNil)
				So(inner.Calls(repository.OpFetch), ShouldEqual, 3)
			})
		})
	})

	Convey("Given a fetch that is still in flight when the partition is reordered", t, func() {
		inner := repository.NewMemoryStore()
		inner.Seed(user, model.Movie, abc())
		slow := &slowFetch{Repository: inner, read: make(chan struct{}), hold: make(chan struct{})}
		c := repository.NewCached(slow, time.Minute)

		done := make(chan model.RankedList)
		go func() {
			l, _ := c.FetchRankings(ctx, user, model.Movie)
			done <- l
		}()
		<-slow.read
		So(c.PersistReorder(ctx, user, model.Movie, 2, 0), ShouldBeNil)
		close(slow.hold)
		stale := <-done

		Convey("Then its pre-reorder answer is not cached", func() {
			So(order(stale), ShouldEqual, "ABC")
			l, err := c.FetchRankings(ctx, user, model.Movie)
			So(err, ShouldBeNil)
			So(order(l), ShouldEqual, "CAB")
			So(inner.Calls(repository.OpFetch), ShouldEqual, 2)
		})
	})
}
