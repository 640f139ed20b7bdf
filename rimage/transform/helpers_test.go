package transform

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

func r2p(x, y float64) r2.Point {
	return r2.Point{X: x, Y: y}
}

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     505,
		Ppx:    322.5,
		Ppy:    238.25,
	}
}

func testDistortion() *BrownConrady {
	return &BrownConrady{
		RadialK1:     -0.12,
		RadialK2:     0.02,
		TangentialP1: 0.001,
		TangentialP2: -0.0005,
	}
}

func testCamera() *CameraParameters {
	cam := NewCameraParameters(testIntrinsics(), testDistortion())
	cam.Rotation = RodriguesToRotation(r3.Vector{X: 0.1, Y: -0.2, Z: 0.05})
	cam.Translation = r3.Vector{X: 10, Y: -5, Z: 20}
	return cam
}

// worldPointsInView returns n points spread through a volume in front of cam.
func worldPointsInView(cam *CameraParameters, n int, seed int64) []r3.Vector {
	rnd := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vector, 0, n)
	for len(pts) < n {
		z := 800 + rnd.Float64()*700
		u := 40 + rnd.Float64()*float64(cam.Width-80)
		v := 40 + rnd.Float64()*float64(cam.Height-80)
		inCam := cam.ImageToCamera(r2p(u, v), z, false)
		pts = append(pts, cam.CameraToWorld(inCam))
	}
	return pts
}

// projectAll pairs every world point with its distorted projection through cam.
func projectAll(cam *CameraParameters, world []r3.Vector) []WorldCorrespondence {
	corrs := make([]WorldCorrespondence, 0, len(world))
	for _, w := range world {
		corrs = append(corrs, WorldCorrespondence{World: w, Image: cam.WorldToImage(w, true)})
	}
	return corrs
}
