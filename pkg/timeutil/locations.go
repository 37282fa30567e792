package timeutil

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultLocationCacheSize = 128

// Locations resolves IANA zone names with a bounded cache. Concurrent loads
// of the same name share one time.LoadLocation call.
type Locations struct {
	fallback *time.Location
	cache    *lru.Cache[string, *time.Location]
	group    singleflight.Group
}

// NewLocations returns a loader whose fallback zone is defaultZone.
func NewLocations(defaultZone string, size int) (*Locations, error) {
	if size <= 0 {
		size = defaultLocationCacheSize
	}
	cache, err := lru.New[string, *time.Location](size)
	if err != nil {
		return nil, fmt.Errorf("location cache init: %w", err)
	}
	l := &Locations{cache: cache, fallback: time.UTC}
	if strings.TrimSpace(defaultZone) != "" {
		loc, err := l.Load(defaultZone)
		if err != nil {
			return nil, err
		}
		l.fallback = loc
	}
	return l, nil
}

// Default returns the configured fallback zone.
func (l *Locations) Default() *time.Location {
	if l == nil || l.fallback == nil {
		return time.UTC
	}
	return l.fallback
}

// Load resolves name. Unknown names return an error wrapping ErrInvalidFormat.
func (l *Locations) Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty timezone", ErrInvalidFormat)
	}
	if loc, ok := l.cache.Get(name); ok {
		return loc, nil
	}
	v, err, _ := l.group.Do(name, func() (any, error) {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q", ErrInvalidFormat, name)
		}
		l.cache.Add(name, loc)
		return loc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*time.Location), nil
}

// Resolve loads name and falls back to Default when name is empty or unknown.
func (l *Locations) Resolve(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return l.Default()
	}
	loc, err := l.Load(name)
	if err != nil {
		return l.Default()
	}
	return loc
}
