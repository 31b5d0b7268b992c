// Package geo selects the sellers able to fulfil an order: active, verified,
// stocking the product and within MaxDistanceKm of the delivery point.
package geo

import "math"

const (
	EarthRadiusKm = 6371.0
	MaxDistanceKm = 5.0
)

type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// ProductLine is one product a seller carries and its current stock.
type ProductLine struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

// Candidate is a seller as read from the store. Latitude and Longitude are
// nil when the seller never set a location.
type Candidate struct {
	ID         string        `json:"id"`
	IsActive   bool          `json:"isActive"`
	IsVerified bool          `json:"isVerified"`
	Latitude   *float64      `json:"latitude,omitempty"`
	Longitude  *float64      `json:"longitude,omitempty"`
	Products   []ProductLine `json:"products"`
}

// Location returns the seller's point, or false if it is incomplete.
func (c Candidate) Location() (Point, bool) {
	if c.Latitude == nil || c.Longitude == nil {
		return Point{}, false
	}
	return Point{Lat: *c.Latitude, Lon: *c.Longitude}, true
}

// Order is the part of an order event the matcher looks at.
type Order struct {
	ProductID string
	Delivery  Point
}

// Distance is the haversine great-circle distance in kilometres between two
// points given in degrees.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// InStock reports whether the candidate carries productID with stock left.
func (c Candidate) InStock(productID string) bool {
	for _, p := range c.Products {
		if p.ID == productID && p.Stock > 0 {
			return true
		}
	}
	return false
}

func Eligible(order Order, c Candidate) bool {
	if !c.IsActive || !c.IsVerified {
		return false
	}
	if !c.InStock(order.ProductID) {
		return false
	}
	loc, ok := c.Location()
	if !ok {
		return false
	}
	return Distance(loc, order.Delivery) <= MaxDistanceKm
}

// Select returns the eligible subset of candidates. It keeps input order but
// callers should not depend on it.
func Select(order Order, candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if Eligible(order, c) {
			out = append(out, c)
		}
	}
	return out
}
