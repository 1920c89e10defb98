package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()

	p0 := r3.Vector{}
	d0 := NewBasicData().SetNormal(r3.Vector{Z: 1})

	test.That(t, pc.Set(p0, d0), test.ShouldBeNil)
	d, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d0)

	_, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeFalse)

	p1 := r3.Vector{X: 1, Z: 1}
	d1 := NewBasicData().SetNormal(r3.Vector{X: 1})
	test.That(t, pc.Set(p1, d1), test.ShouldBeNil)

	d, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d1)
	test.That(t, d, test.ShouldNotResemble, d0)

	p2 := r3.Vector{X: -1, Y: -2, Z: 1}
	d2 := NewColoredData(color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	test.That(t, pc.Set(p2, d2), test.ShouldBeNil)
	d, got = pc.At(-1, -2, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d2)

	var seen []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		seen = append(seen, p)
		return true
	})
	test.That(t, seen, test.ShouldResemble, []r3.Vector{p0, p1, p2})

	test.That(t, CloudContains(pc, 1, 1, 1), test.ShouldBeFalse)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasNormal, test.ShouldBeTrue)
	test.That(t, meta.MinX, test.ShouldEqual, -1.)
	test.That(t, meta.MaxZ, test.ShouldEqual, 1.)

	// Setting an existing position replaces its data.
	test.That(t, pc.Set(p1, NewBasicData().SetNormal(r3.Vector{Y: 1})), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	d, _ = pc.At(1, 0, 1)
	test.That(t, d.Normal(), test.ShouldResemble, r3.Vector{Y: 1})

	pMax := r3.Vector{X: minPreciseFloat64, Y: maxPreciseFloat64, Z: minPreciseFloat64}
	test.That(t, pc.Set(pMax, nil), test.ShouldBeNil)

	pBad := r3.Vector{X: minPreciseFloat64 * 2, Y: maxPreciseFloat64, Z: minPreciseFloat64}
	err := pc.Set(pBad, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "x component")

	pBad = r3.Vector{Y: math.NaN()}
	err = pc.Set(pBad, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "y component")

	pBad = r3.Vector{Z: math.Inf(1)}
	err = pc.Set(pBad, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "z component")
}

func TestMetaDataWithoutAttributes(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(r3.Vector{X: 10, Y: 100, Z: 1000}, NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(r3.Vector{X: 20, Y: 200, Z: 2000}, nil), test.ShouldBeNil)
	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeFalse)
	test.That(t, meta.HasNormal, test.ShouldBeFalse)
	test.That(t, meta.MinY, test.ShouldEqual, 100.)
	test.That(t, meta.MaxY, test.ShouldEqual, 200.)
}

func TestPointCloudIterateBatches(t *testing.T) {
	pc := NewWithPrealloc(5)
	for i := 0; i < 5; i++ {
		test.That(t, pc.Set(r3.Vector{X: float64(i)}, nil), test.ShouldBeNil)
	}
	var total int
	for batch := 0; batch < 2; batch++ {
		pc.Iterate(2, batch, func(p r3.Vector, d Data) bool {
			total++
			return true
		})
	}
	test.That(t, total, test.ShouldEqual, 5)

	var count int
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return count < 2
	})
	test.That(t, count, test.ShouldEqual, 2)
}
