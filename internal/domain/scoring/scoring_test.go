package scoring_test

import (
	"math"
	"testing"

	scoring "github.com/okian/reelrank/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestComputeScore(t *testing.T) {
	Convey("Given the default score policy", t, func() {
		Convey("When both neighbours are present", func() {
			Convey("Then the midpoint is returned", func() {
				So(scoring.ComputeScore(scoring.At(8.0), scoring.At(6.0), 1), ShouldEqual, 7.0)
				So(scoring.ComputeScore(scoring.At(9.0), scoring.At(8.5), 1), ShouldEqual, 8.8)
			})
		})

		Convey("When only the item above is present", func() {
			Convey("Then the score sits one step below it", func() {
				// The formula decides: 9.9-0.2 is 9.7, never 9.8.
				So(scoring.ComputeScore(scoring.At(9.9), scoring.Absent, 5), ShouldEqual, 9.7)
				So(scoring.ComputeScore(scoring.At(5.0), scoring.Absent, 5), ShouldEqual, 4.8)
			})

			Convey("And it never drops below 1.0", func() {
				So(scoring.ComputeScore(scoring.At(1.1), scoring.Absent, 5), ShouldEqual, 1.0)
				So(scoring.ComputeScore(scoring.At(1.0), scoring.Absent, 5), ShouldEqual, 1.0)
			})
		})

		Convey("When only the item below is present", func() {
			Convey("Then the score sits one step above it", func() {
				So(scoring.ComputeScore(scoring.Absent, scoring.At(1.0), 5), ShouldEqual, 1.2)
				So(scoring.ComputeScore(scoring.Absent, scoring.At(9.0), 5), ShouldEqual, 9.2)
			})

			Convey("And it never exceeds 10.0", func() {
				So(scoring.ComputeScore(scoring.Absent, scoring.At(9.9), 5), ShouldEqual, 10.0)
				So(scoring.ComputeScore(scoring.Absent, scoring.At(10.0), 5), ShouldEqual, 10.0)
			})
		})

		Convey("When no neighbour is present", func() {
			Convey("Then the current score is kept", func() {
				So(scoring.ComputeScore(scoring.Absent, scoring.Absent, 6.0), ShouldEqual, 6.0)
			})
		})

		Convey("When inputs carry more than one decimal", func() {
			Convey("Then results stay rounded and in range", func() {
				got := scoring.ComputeScore(scoring.At(9.95), scoring.Absent, 5)
				So(got, ShouldBeBetweenOrEqual, 9.7, 9.8)
				So(math.Abs(got*10-math.Round(got*10)), ShouldBeLessThan, 1e-9)

				top := scoring.ComputeScore(scoring.Absent, scoring.At(9.95), 5)
				So(top, ShouldEqual, 10.0)

				mid := scoring.ComputeScore(scoring.At(7.15), scoring.At(7.1), 5)
				So(math.Abs(mid*10-math.Round(mid*10)), ShouldBeLessThan, 1e-9)
			})
		})
	})
}

func TestPolicyOptions(t *testing.T) {
	Convey("Given a policy with a custom step and bounds", t, func() {
		p := scoring.NewPolicy(scoring.WithStep(0.5), scoring.WithBounds(0, 5))

		Convey("Then edges use the configured step and bounds", func() {
			So(p.Compute(scoring.At(3.0), scoring.Absent, 1), ShouldEqual, 2.5)
			So(p.Compute(scoring.Absent, scoring.At(4.8), 1), ShouldEqual, 5.0)
			So(p.Compute(scoring.At(0.2), scoring.Absent, 1), ShouldEqual, 0.0)
		})
	})

	Convey("Given invalid options", t, func() {
		p := scoring.NewPolicy(scoring.WithStep(-1), scoring.WithBounds(5, 1))

		Convey("Then defaults are kept", func() {
			So(p.Compute(scoring.At(5.0), scoring.Absent, 1), ShouldEqual, 4.8)
			So(p.Clamp(42), ShouldEqual, 10.0)
		})
	})
}

func TestNormalizeAndStars(t *testing.T) {
	Convey("Given user supplied scores", t, func() {
		So(scoring.Normalize(7.26), ShouldEqual, 7.3)
		So(scoring.Normalize(0.2), ShouldEqual, 1.0)
		So(scoring.Normalize(11), ShouldEqual, 10.0)
		So(scoring.Normalize(math.NaN()), ShouldEqual, 1.0)
	})

	Convey("Given display scores mapped to stars", t, func() {
		So(scoring.StarsForScore(10.0), ShouldEqual, 5.0)
		So(scoring.StarsForScore(9.2), ShouldEqual, 4.5)
		So(scoring.StarsForScore(7.0), ShouldEqual, 3.5)
		So(scoring.StarsForScore(1.0), ShouldEqual, 0.5)
	})
}
