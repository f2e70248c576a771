// Package metadata writes capture time and GPS tags into exported images
// and reads them back from source images.
package metadata

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/bereel/internal/export"
)

// DateLayout is the EXIF date format.
const DateLayout = "2006:01:02 15:04:05"

// Record is what gets written into one artifact.
type Record struct {
	// Time is the capture time in its resolved local zone
	Time time.Time

	// Location is the GPS fix, nil when unknown
	Location *export.Location
}

// Writer tags the file at path in place.
type Writer interface {
	Write(ctx context.Context, path string, rec Record) error
}

// IsJPEG reports whether path has a JPEG extension.
func IsJPEG(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// Tags returns the tag set for path. JPEGs get DateTimeOriginal,
// CreateDate, and ModifyDate; other formats only DateTimeOriginal.
// The minimal set is DateTimeOriginal for every format. GPS tags are
// added whenever rec has a location. Values are string or float64.
func Tags(path string, rec Record, minimal bool) map[string]any {
	stamp := rec.Time.Format(DateLayout)
	tags := map[string]any{"DateTimeOriginal": stamp}
	if !minimal && IsJPEG(path) {
		tags["CreateDate"] = stamp
		tags["ModifyDate"] = stamp
	}

	if rec.Location.Valid() {
		lat, lon := rec.Location.Latitude, rec.Location.Longitude
		tags["GPSLatitude"] = abs(lat)
		tags["GPSLongitude"] = abs(lon)
		tags["GPSLatitudeRef"] = hemisphere(lat, "N", "S")
		tags["GPSLongitudeRef"] = hemisphere(lon, "E", "W")
	}
	return tags
}

func hemisphere(v float64, pos, neg string) string {
	if v >= 0 {
		return pos
	}
	return neg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
