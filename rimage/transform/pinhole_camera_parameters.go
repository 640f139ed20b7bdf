package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// DistortionRoundTripTolerance bounds |Distort(Undistort(p)) - p| in pixels for
// points inside the image of a valid camera.
const DistortionRoundTripTolerance = 1e-3

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion_parameters"`
}

// CheckValid checks the intrinsics and the distortion model.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	return params.Distortion.CheckValid()
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x, y := params.PixelToNormalized(u, v)
		x, y = params.Distortion.Transform(x, y)
		return params.NormalizedToPixel(x, y)
	}
}

// Distort maps an ideal (distortion free) pixel to the pixel the lens actually images it at.
func (params *PinholeCameraModel) Distort(ideal r2.Point) r2.Point {
	if params.Distortion.IsZero() {
		return ideal
	}
	x, y := params.DistortionMap()(ideal.X, ideal.Y)
	return r2.Point{X: x, Y: y}
}

// Undistort maps an observed pixel to its ideal position. It inverts Distort
// iteratively so the round trip is only exact to DistortionRoundTripTolerance.
func (params *PinholeCameraModel) Undistort(pixel r2.Point) r2.Point {
	if params.Distortion.IsZero() {
		return pixel
	}
	x, y := params.PixelToNormalized(pixel.X, pixel.Y)
	x, y = params.Distortion.Undistort(x, y)
	u, v := params.NormalizedToPixel(x, y)
	return r2.Point{X: u, Y: v}
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Skew   float64 `json:"skew,omitempty"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// PixelToNormalized removes the camera matrix from a pixel, giving coordinates on the z=1 plane.
func (params *PinholeCameraIntrinsics) PixelToNormalized(u, v float64) (float64, float64) {
	y := (v - params.Ppy) / params.Fy
	x := (u - params.Ppx - params.Skew*y) / params.Fx
	return x, y
}

// NormalizedToPixel applies the camera matrix to coordinates on the z=1 plane.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) (float64, float64) {
	return params.Fx*x + params.Skew*y + params.Ppx, params.Fy*y + params.Ppy
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return 0, 0, 0
	}
	xOverZ, yOverZ := params.PixelToNormalized(x, y)
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point in the camera frame to a pixel in the image plane.
// Points at zero depth come back as (-1, -1) so that bounds checks drop them.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return -1.0, -1.0
	}
	return params.NormalizedToPixel(x/z, y/z)
}

// Contains reports whether p lies inside the image.
func (params *PinholeCameraIntrinsics) Contains(p r2.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X <= float64(params.Width-1) && p.Y <= float64(params.Height-1)
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx skew ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx, ppy and skew out of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) *PinholeCameraIntrinsics {
	scale := k.At(2, 2)
	if scale == 0 {
		scale = 1
	}
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0) / scale,
		Fy:     k.At(1, 1) / scale,
		Ppx:    k.At(0, 2) / scale,
		Ppy:    k.At(1, 2) / scale,
		Skew:   k.At(0, 1) / scale,
	}
}
