package kernel

import "fmt"

// Family selects the kernel basis function of a spline kernel transform
type Family int

const (
	// Unknown is the disabled state of an engine whose family was never
	// selected or could not be recognised
	Unknown Family = iota
	ThinPlate
	ThinPlateR2LogR
	Volume
	ElasticBody
	ElasticBodyReciprocal
)

var familyNames = map[Family]string{
	Unknown:               "unknown",
	ThinPlate:             "ThinPlateSpline",
	ThinPlateR2LogR:       "ThinPlateR2LogRSpline",
	Volume:                "VolumeSpline",
	ElasticBody:           "ElasticBodySpline",
	ElasticBodyReciprocal: "ElasticBodyReciprocalSpline",
}

// String returns the parameter-file name of the family
func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// IsElastic reports whether the family is parameterised by a Poisson ratio
func (f Family) IsElastic() bool {
	return f == ElasticBody || f == ElasticBodyReciprocal
}

// ParseFamily maps a parameter-file name to a family. Unrecognised names
// return Unknown and false.
func ParseFamily(name string) (Family, bool) {
	for f, n := range familyNames {
		if f != Unknown && n == name {
			return f, true
		}
	}
	return Unknown, false
}

// alpha returns the elastic material constant for a Poisson ratio
func (f Family) alpha(poissonRatio float64) float64 {
	switch f {
	case ElasticBody:
		return 12*(1-poissonRatio) - 1
	case ElasticBodyReciprocal:
		return 8*(1-poissonRatio) - 1
	default:
		return 0
	}
}

// Families lists every selectable family in declaration order
func Families() []Family {
	return []Family{ThinPlate, ThinPlateR2LogR, Volume, ElasticBody, ElasticBodyReciprocal}
}
