package model

// CategoryTransit marks transit boarding stops. Grocery points keep the
// retailer's store type (Supermarket, Super Store, ...) as their category.
const CategoryTransit = "Transit Stop"

// PointOfInterest is a grocery store or transit stop used as a distance
// candidate. Immutable after load.
type PointOfInterest struct {
	ID        string  `json:"id" csv:"id"`
	Name      string  `json:"name" csv:"name"`
	Category  string  `json:"category" csv:"category"` // e.g. "Supermarket", "Transit Stop"
	Source    string  `json:"source" csv:"source"`     // attributing agency, e.g. "USDA FNS", "Cal-ITP"
	Latitude  float64 `json:"latitude" csv:"latitude"`
	Longitude float64 `json:"longitude" csv:"longitude"`
}

// DistanceRecord is the per-tract output of the distance resolver. It is
// recomputed every run and never cached across runs.
type DistanceRecord struct {
	GEOID              string  `json:"geoid" csv:"geoid"`
	GroceryDistance    float64 `json:"grocery_distance_miles" csv:"grocery_distance_miles"`
	NearestGroceryID   string  `json:"nearest_grocery_id" csv:"nearest_grocery_id"`
	TransitDistance    float64 `json:"transit_distance_miles" csv:"transit_distance_miles"`
	NearestTransitID   string  `json:"nearest_transit_id" csv:"nearest_transit_id"`
	TransitStopsNearby int     `json:"transit_stops_nearby" csv:"transit_stops_nearby"`
}

// Fields exposes the record's metrics under the canonical names the
// classifier rule schemes reference. A metric is present only when the
// record carries a resolved candidate for it; a bare record yields no
// distance fields, so a scheme that needs them reports the tract as
// missing data instead of reading zeros.
func (d *DistanceRecord) Fields() map[string]float64 {
	fields := make(map[string]float64, 3)
	if d.NearestGroceryID != "" {
		fields["grocery_distance"] = d.GroceryDistance
	}
	if d.NearestTransitID != "" {
		fields["transit_distance"] = d.TransitDistance
		fields["transit_stops_nearby"] = float64(d.TransitStopsNearby)
	}
	return fields
}
