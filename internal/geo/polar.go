package geo

import "math"

// PolarStereographic is a north polar stereographic projection on an
// ellipsoid, parameterised by its latitude of true scale. Planar units are
// metres.
type PolarStereographic struct {
	SemiMajor    float64 // metres
	Eccentricity float64
	TrueScaleLat float64 // degrees
	CentralLon   float64 // degrees

	mc, tc float64
}

// NSIDCNorth returns the projection of the NSIDC sea ice polar stereographic
// north grid (EPSG:3413): WGS84, true scale at 70N, central meridian 45W.
func NSIDCNorth() *PolarStereographic {
	return NewPolarStereographic(6378137.0, 0.081819190842622, 70, -45)
}

// NewPolarStereographic builds a north polar stereographic projection.
func NewPolarStereographic(a, e, trueScaleLat, centralLon float64) *PolarStereographic {
	p := &PolarStereographic{
		SemiMajor:    a,
		Eccentricity: e,
		TrueScaleLat: trueScaleLat,
		CentralLon:   centralLon,
	}
	phiC := radians(trueScaleLat)
	sinC := math.Sin(phiC)
	p.mc = math.Cos(phiC) / math.Sqrt(1-e*e*sinC*sinC)
	p.tc = p.t(phiC)
	return p
}

func (p *PolarStereographic) t(phi float64) float64 {
	e := p.Eccentricity
	es := e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), e/2)
}

// Forward maps latitude/longitude in degrees to planar x, y in metres.
func (p *PolarStereographic) Forward(lat, lon float64) (x, y float64) {
	rho := p.SemiMajor * p.mc * p.t(radians(lat)) / p.tc
	dLambda := radians(lon - p.CentralLon)
	return rho * math.Sin(dLambda), -rho * math.Cos(dLambda)
}

// Inverse maps planar x, y in metres back to latitude/longitude in degrees.
func (p *PolarStereographic) Inverse(x, y float64) (lat, lon float64) {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return 90, p.CentralLon
	}
	t := rho * p.tc / (p.SemiMajor * p.mc)
	chi := math.Pi/2 - 2*math.Atan(t)

	e2 := p.Eccentricity * p.Eccentricity
	e4, e6, e8 := e2*e2, e2*e2*e2, e2*e2*e2*e2
	phi := chi +
		(e2/2+5*e4/24+e6/12+13*e8/360)*math.Sin(2*chi) +
		(7*e4/48+29*e6/240+811*e8/11520)*math.Sin(4*chi) +
		(7*e6/120+81*e8/1120)*math.Sin(6*chi) +
		(4279*e8/161280)*math.Sin(8*chi)

	lambda := radians(p.CentralLon) + math.Atan2(x, -y)
	return degrees(phi), normalizeLon(degrees(lambda))
}
