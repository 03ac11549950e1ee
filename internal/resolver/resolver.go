// Package resolver computes nearest-point distances and radius counts from
// tract centroids to candidate point sets (grocery stores, transit stops).
package resolver

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"

	"github.com/cholette-research/tract-cli/internal/model"
)

// Sentinel errors. ErrEmptyCandidateSet is fatal for a run: classification
// cannot proceed without candidate points, which is distinct from a valid
// zero count within a radius.
var (
	ErrEmptyCandidateSet = eris.New("resolver: empty candidate set")
	ErrInvalidCoordinate = eris.New("resolver: coordinate out of range")
)

const (
	earthRadiusMiles = 3958.7613

	// Below this size the tree buys nothing; a linear scan is used instead.
	linearScanThreshold = 64

	// Candidates pulled from the tree for haversine refinement. The tree is
	// queried in equirectangular space, which can mis-order points that are
	// nearly equidistant, so the true nearest is re-derived from this pool.
	knnCandidates = 8
)

// Haversine returns the great-circle distance in miles between two
// coordinates given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}

func validCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lon)
}

// entry adapts a point of interest to the R-tree. Coordinates are stored in
// equirectangular space (longitude scaled by cos of the dataset's mean
// latitude) so planar tree distance tracks great-circle distance locally.
type entry struct {
	poi  model.PointOfInterest
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

// Index answers nearest-neighbor and radius-count queries over a fixed,
// non-empty point set. All reported distances are haversine miles; the tree
// only prunes candidates, it never decides a distance.
type Index struct {
	points []model.PointOfInterest
	tree   *rtreego.Rtree
	cosLat float64
}

// NewIndex builds a spatial index over the given points. It fails with
// ErrEmptyCandidateSet when no points are supplied and ErrInvalidCoordinate
// when any point has a malformed coordinate.
func NewIndex(points []model.PointOfInterest) (*Index, error) {
	if len(points) == 0 {
		return nil, ErrEmptyCandidateSet
	}

	var sumLat float64
	for _, p := range points {
		if !validCoordinate(p.Latitude, p.Longitude) {
			return nil, eris.Wrapf(ErrInvalidCoordinate, "point %s (%f, %f)", p.ID, p.Latitude, p.Longitude)
		}
		sumLat += p.Latitude
	}

	ix := &Index{
		points: points,
		cosLat: math.Cos(sumLat / float64(len(points)) * math.Pi / 180),
	}
	if ix.cosLat < 0.01 {
		ix.cosLat = 0.01 // polar datasets: keep the projection finite
	}

	if len(points) <= linearScanThreshold {
		return ix, nil
	}

	tree := rtreego.NewTree(2, 25, 50)
	for i := range points {
		p := rtreego.Point{points[i].Longitude * ix.cosLat, points[i].Latitude}
		tree.Insert(&entry{poi: points[i], rect: p.ToRect(1e-7)})
	}
	ix.tree = tree
	return ix, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// Nearest returns the closest point to the given centroid and its distance
// in miles. Ties at identical minimal distance resolve to the lowest point
// ID so results never vary run-to-run.
func (ix *Index) Nearest(lat, lon float64) (model.PointOfInterest, float64, error) {
	if !validCoordinate(lat, lon) {
		return model.PointOfInterest{}, 0, eris.Wrapf(ErrInvalidCoordinate, "centroid (%f, %f)", lat, lon)
	}

	if ix.tree == nil {
		best := ix.nearestLinear(lat, lon, ix.points)
		return best, Haversine(lat, lon, best.Latitude, best.Longitude), nil
	}

	k := knnCandidates
	if k > len(ix.points) {
		k = len(ix.points)
	}
	q := rtreego.Point{lon * ix.cosLat, lat}
	spatials := ix.tree.NearestNeighbors(k, q)

	candidates := make([]model.PointOfInterest, 0, len(spatials))
	for _, s := range spatials {
		candidates = append(candidates, s.(*entry).poi)
	}
	best := ix.nearestLinear(lat, lon, candidates)
	return best, Haversine(lat, lon, best.Latitude, best.Longitude), nil
}

// nearestLinear scans candidates for the haversine-minimal point with the
// lowest-ID tie rule.
func (ix *Index) nearestLinear(lat, lon float64, candidates []model.PointOfInterest) model.PointOfInterest {
	best := candidates[0]
	bestDist := Haversine(lat, lon, best.Latitude, best.Longitude)
	for _, p := range candidates[1:] {
		d := Haversine(lat, lon, p.Latitude, p.Longitude)
		if d < bestDist || (d == bestDist && p.ID < best.ID) {
			best = p
			bestDist = d
		}
	}
	return best
}

// CountWithin returns how many points lie within radiusMiles (inclusive) of
// the centroid. Zero is a valid result.
func (ix *Index) CountWithin(lat, lon, radiusMiles float64) (int, error) {
	if !validCoordinate(lat, lon) {
		return 0, eris.Wrapf(ErrInvalidCoordinate, "centroid (%f, %f)", lat, lon)
	}
	if radiusMiles < 0 {
		return 0, nil
	}

	if ix.tree == nil {
		n := 0
		for _, p := range ix.points {
			if Haversine(lat, lon, p.Latitude, p.Longitude) <= radiusMiles {
				n++
			}
		}
		return n, nil
	}

	// Padded bounding rectangle in equirectangular degrees, then an exact
	// haversine filter. 69.0 miles per degree of latitude understates the
	// true maximum slightly, hence the padding factor.
	half := radiusMiles / 69.0 * 1.05
	q := rtreego.Point{lon*ix.cosLat - half, lat - half}
	rect, err := rtreego.NewRect(q, []float64{2 * half, 2 * half})
	if err != nil {
		return 0, eris.Wrap(err, "resolver: build search rect")
	}

	n := 0
	for _, s := range ix.tree.SearchIntersect(rect) {
		p := s.(*entry).poi
		if Haversine(lat, lon, p.Latitude, p.Longitude) <= radiusMiles {
			n++
		}
	}
	return n, nil
}
