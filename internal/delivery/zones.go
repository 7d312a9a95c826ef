// Package delivery prices delivery by service zone.
package delivery

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed zones.yaml
var defaultZones []byte

const earthRadiusKm = 6371.0

type Zone struct {
	Name string  `yaml:"name" json:"name"`
	Fee  float64 `yaml:"fee" json:"fee"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lng  float64 `yaml:"lng" json:"lng"`
}

type Quote struct {
	Zone       string  `json:"zone"`
	Fee        float64 `json:"fee"`
	Known      bool    `json:"known"`
	DistanceKm float64 `json:"distanceKm,omitempty"`
}

type Zones struct {
	zones      []Zone
	defaultFee float64
}

type zoneFile struct {
	Zones []Zone `yaml:"zones"`
}

// Load reads zones from path, or the built-in table when path is empty.
func Load(path string, defaultFee float64) (*Zones, error) {
	data := defaultZones
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read zones file: %w", err)
		}
		data = b
	}
	return Parse(data, defaultFee)
}

func Parse(data []byte, defaultFee float64) (*Zones, error) {
	var f zoneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	if len(f.Zones) == 0 {
		return nil, errors.New("zones: at least one zone is required")
	}
	for _, z := range f.Zones {
		if z.Name == "" || z.Fee < 0 {
			return nil, fmt.Errorf("zones: invalid zone %+v", z)
		}
	}
	return &Zones{zones: f.Zones, defaultFee: defaultFee}, nil
}

func (z *Zones) All() []Zone {
	out := make([]Zone, len(z.zones))
	copy(out, z.zones)
	return out
}

func (z *Zones) Lookup(name string) (Zone, bool) {
	for _, zone := range z.zones {
		if strings.EqualFold(zone.Name, strings.TrimSpace(name)) {
			return zone, true
		}
	}
	return Zone{}, false
}

// Fee returns the zone fee, or the default fee for places outside every zone.
func (z *Zones) Fee(name string) float64 {
	if zone, ok := z.Lookup(name); ok {
		return zone.Fee
	}
	return z.defaultFee
}

func (z *Zones) QuoteByName(name string) Quote {
	if zone, ok := z.Lookup(name); ok {
		return Quote{Zone: zone.Name, Fee: zone.Fee, Known: true}
	}
	return Quote{Zone: name, Fee: z.defaultFee}
}

// Nearest returns the zone closest to the coordinate and its great-circle distance.
func (z *Zones) Nearest(lat, lng float64) (Zone, float64) {
	nearest := z.zones[0]
	best := math.MaxFloat64
	for _, zone := range z.zones {
		d := Haversine(lat, lng, zone.Lat, zone.Lng)
		if d < best {
			best = d
			nearest = zone
		}
	}
	return nearest, best
}

func (z *Zones) QuoteByCoordinates(lat, lng float64) Quote {
	zone, dist := z.Nearest(lat, lng)
	return Quote{Zone: zone.Name, Fee: zone.Fee, Known: true, DistanceKm: math.Round(dist*10) / 10}
}

// Haversine returns the distance in kilometres between two coordinates.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
