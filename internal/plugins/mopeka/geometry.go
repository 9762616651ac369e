package mopeka

import (
	"fmt"
	"math"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// DefaultWallMM is the assumed tank wall thickness (1/8 inch steel)
// when none is configured. The sensor measures from the outside of the
// bottom wall.
const DefaultWallMM = 3.175

// Tank orientations.
const (
	OrientationVertical   = "vertical"
	OrientationHorizontal = "horizontal"
)

// TankGeometry converts a liquid surface distance into a fill
// percentage.
//
// Vertical tanks are modelled as a cylinder with 2:1 ellipsoidal end
// caps (the standard propane bottle shape); horizontal tanks as a
// cylinder with hemispherical end caps. DiameterMM and LengthMM are
// outside dimensions; LengthMM includes both caps.
type TankGeometry struct {
	Orientation string
	DiameterMM  float64
	LengthMM    float64
	WallMM      float64
}

// Validate checks the geometry is usable.
func (g TankGeometry) Validate() error {
	if g.Orientation != OrientationVertical && g.Orientation != OrientationHorizontal {
		return fmt.Errorf("%w: tank orientation %q", bridge.ErrInvalidInstance, g.Orientation)
	}
	if g.DiameterMM <= 0 || g.LengthMM <= 0 {
		return fmt.Errorf("%w: tank dimensions %gx%g", bridge.ErrInvalidInstance, g.DiameterMM, g.LengthMM)
	}
	if g.LengthMM <= g.DiameterMM/2 {
		return fmt.Errorf("%w: tank length %g too short for diameter %g", bridge.ErrInvalidInstance, g.LengthMM, g.DiameterMM)
	}
	return nil
}

// FillPercent converts a sensor distance (mm of liquid above the
// sensor) to a 0-100 fill percentage.
func (g TankGeometry) FillPercent(levelMM float64) float64 {
	wall := g.WallMM
	if wall <= 0 {
		wall = DefaultWallMM
	}

	innerDiameter := g.DiameterMM - 2*wall
	innerLength := g.LengthMM - 2*wall
	if innerDiameter <= 0 || innerLength <= 0 {
		return 0
	}

	var fraction float64
	if g.Orientation == OrientationHorizontal {
		fraction = horizontalFillFraction(levelMM, innerDiameter, innerLength)
	} else {
		fraction = verticalFillFraction(levelMM, innerDiameter, innerLength)
	}
	return clampPercent(fraction * 100)
}

// verticalFillFraction models a standing cylinder with 2:1 ellipsoidal
// caps: each cap rises a quarter of the diameter.
func verticalFillFraction(level, diameter, height float64) float64 {
	radius := diameter / 2
	capHeight := radius / 2 // 2:1 ellipsoid semi-minor axis
	cylinder := height - 2*capHeight
	if cylinder < 0 {
		cylinder = 0
	}

	level = math.Max(0, math.Min(level, height))

	capVolume := 2.0 / 3.0 * math.Pi * radius * radius * capHeight
	cylinderVolume := math.Pi * radius * radius * cylinder
	total := 2*capVolume + cylinderVolume

	var filled float64
	switch {
	case level <= capHeight:
		filled = ellipsoidCapSegment(radius, capHeight, level)
	case level <= capHeight+cylinder:
		filled = capVolume + math.Pi*radius*radius*(level-capHeight)
	default:
		// Top cap fills from its base; integrate the remaining void
		// and subtract.
		void := ellipsoidCapSegment(radius, capHeight, capHeight+cylinder+capHeight-level)
		filled = total - void
	}
	return filled / total
}

// ellipsoidCapSegment is the volume of an ellipsoidal dome (base radius
// a, height c) filled from its tip to height y.
func ellipsoidCapSegment(a, c, y float64) float64 {
	y = math.Max(0, math.Min(y, c))
	return math.Pi * a * a * y * y * (3*c - y) / (3 * c * c)
}

// horizontalFillFraction models a lying cylinder with hemispherical
// caps. The two caps together form one sphere.
func horizontalFillFraction(level, diameter, length float64) float64 {
	radius := diameter / 2
	cylinder := length - 2*radius
	if cylinder < 0 {
		cylinder = 0
	}

	level = math.Max(0, math.Min(level, diameter))

	cylinderTotal := math.Pi * radius * radius * cylinder
	sphereTotal := 4.0 / 3.0 * math.Pi * radius * radius * radius
	total := cylinderTotal + sphereTotal

	// Partial area of a circle filled to depth level.
	h := level
	segment := radius*radius*math.Acos((radius-h)/radius) - (radius-h)*math.Sqrt(2*radius*h-h*h)
	cylinderFilled := segment * cylinder

	// Spherical segment of the combined end caps.
	sphereFilled := math.Pi * h * h * (3*radius - h) / 3

	return (cylinderFilled + sphereFilled) / total
}
