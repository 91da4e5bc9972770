package utils

import (
	"fmt"
	"math"
)

// IsValidCoordinate checks if latitude and longitude values are valid
func IsValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// FormatCoordinate renders a fix the way the live view prints it.
func FormatCoordinate(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}
