package kvdb

import (
	"errors"
	"reflect"
	"testing"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// coordinate converts itself instead of exposing struct fields.
type coordinate struct {
	lat, lon float64
}

func (c coordinate) ToJSON() any {
	return map[string]any{"lat": c.lat, "lon": c.lon}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "a", "a"},
		{"bool", true, true},
		{"float", float64(1.5), float64(1.5)},
		{"int", 3, float64(3)},
		{"struct", point{X: 1, Y: 2}, map[string]any{"x": float64(1), "y": float64(2)}},
		{"slice", []int{1, 2}, []any{float64(1), float64(2)}},
		{"map", map[string]int{"a": 1}, map[string]any{"a": float64(1)}},
		{"jsoner", coordinate{lat: 1, lon: 2}, map[string]any{"lat": float64(1), "lon": float64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%#v) failed: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeUnsupported(t *testing.T) {
	_, err := Normalize(make(chan int))
	if err == nil {
		t.Fatal("Normalize(chan) succeeded")
	}
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Code() != CodeSerialization {
		t.Errorf("Normalize error = %v, want StoreError with %s", err, CodeSerialization)
	}
}
