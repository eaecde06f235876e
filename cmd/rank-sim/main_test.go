package main

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	convey.Convey("Given the simulator command", t, func() {
		convey.Convey("When it runs offline", func() {
			code := run([]string{"-offline", "-items", "8", "-gestures", "30", "-seed", "3", "-type", "tv"})
			convey.So(code, convey.ShouldEqual, 0)
		})

		convey.Convey("When flags are invalid", func() {
			convey.So(run([]string{"-type", "book", "-offline"}), convey.ShouldEqual, 2)
			convey.So(run([]string{"-no-such-flag"}), convey.ShouldEqual, 2)
		})
	})
}
