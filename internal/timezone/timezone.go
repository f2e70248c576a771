package timezone

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ringsaturn/tzf"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
	"github.com/hpungsan/bereel/internal/export"
)

// DefaultZone is applied when a capture has no usable GPS fix.
const DefaultZone = "America/New_York"

// Source records how a capture's zone was derived.
type Source string

const (
	SourceGPS            Source = "gps"
	SourceDefaultNoGPS   Source = "default-no-gps"
	SourceDefaultNoMatch Source = "default-no-match"
)

// Finder maps a coordinate to an IANA zone name, "" when no polygon matches.
type Finder interface {
	GetTimezoneName(lng, lat float64) string
}

// Resolution is a capture time placed in its local zone.
type Resolution struct {
	// UTC is the parsed capture instant
	UTC time.Time

	// Local is UTC in the resolved zone
	Local time.Time

	// Moment is the BeReal moment in the same zone, zero when absent
	Moment time.Time

	// Zone is the IANA zone name
	Zone string

	Source Source
}

// Resolver converts export timestamps to local time. Safe for concurrent use.
type Resolver struct {
	finder   Finder
	fallback *time.Location
	logger   *zap.Logger

	mu    sync.RWMutex
	zones map[string]*time.Location
}

// NewResolver creates a resolver backed by the embedded timezone polygons.
func NewResolver(defaultZone string, logger *zap.Logger) (*Resolver, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("load timezone polygons: %w", err))
	}
	return NewResolverWithFinder(finder, defaultZone, logger)
}

// NewResolverWithFinder creates a resolver using finder for GPS lookups.
func NewResolverWithFinder(finder Finder, defaultZone string, logger *zap.Logger) (*Resolver, error) {
	if defaultZone == "" {
		defaultZone = DefaultZone
	}
	fallback, err := time.LoadLocation(defaultZone)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown default timezone %q", defaultZone))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		finder:   finder,
		fallback: fallback,
		logger:   logger,
		zones:    map[string]*time.Location{fallback.String(): fallback},
	}, nil
}

// Fallback returns the default zone name.
func (r *Resolver) Fallback() string {
	return r.fallback.String()
}

// Resolve parses taken (and moment, when present) and converts them to the
// zone of gps, or the default zone when gps is nil or matches no polygon.
// A malformed taken timestamp is a PARSE_ERROR; a malformed moment is dropped.
func (r *Resolver) Resolve(taken, moment string, gps *export.Location) (Resolution, error) {
	utc, err := ParseTimestamp(taken)
	if err != nil {
		return Resolution{}, err
	}

	loc, source := r.zoneFor(gps)
	res := Resolution{
		UTC:    utc,
		Local:  utc.In(loc),
		Zone:   loc.String(),
		Source: source,
	}
	if moment != "" {
		if m, err := ParseTimestamp(moment); err == nil {
			res.Moment = m.In(loc)
		}
	}

	r.logger.Debug("timezone resolved",
		zap.String("taken", taken),
		zap.String("zone", res.Zone),
		zap.String("source", string(source)),
		zap.String("local", res.Local.Format("2006-01-02 15:04:05 -07:00")))
	return res, nil
}

func (r *Resolver) zoneFor(gps *export.Location) (*time.Location, Source) {
	if gps == nil || r.finder == nil {
		return r.fallback, SourceDefaultNoGPS
	}

	name := r.finder.GetTimezoneName(gps.Longitude, gps.Latitude)
	if name == "" {
		return r.fallback, SourceDefaultNoMatch
	}

	loc, err := r.load(name)
	if err != nil {
		r.logger.Warn("timezone not in tz database, using default", zap.String("zone", name), zap.Error(err))
		return r.fallback, SourceDefaultNoMatch
	}
	return loc, SourceGPS
}

func (r *Resolver) load(name string) (*time.Location, error) {
	r.mu.RLock()
	loc, ok := r.zones[name]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.zones[name] = loc
	r.mu.Unlock()
	return loc, nil
}

// naiveLayouts are accepted when the timestamp carries no zone; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an RFC 3339 timestamp (fractional seconds optional) or
// numeric epoch seconds. The result is UTC truncated to milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.NewParse(s, fmt.Errorf("empty timestamp"))
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return time.Time{}, errors.NewParse(s, fmt.Errorf("not a finite epoch"))
		}
		whole, frac := math.Modf(secs)
		t := time.Unix(int64(whole), int64(math.Round(frac*1e3))*int64(time.Millisecond))
		return t.UTC().Truncate(time.Millisecond), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Truncate(time.Millisecond), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, errors.NewParse(s, fmt.Errorf("expected RFC 3339 or epoch seconds"))
}
