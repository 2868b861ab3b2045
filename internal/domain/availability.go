package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFetchFailure matches every error returned by an AvailabilityFetcher.
var ErrFetchFailure = errors.New("availability fetch failed")

// DefaultMinAgeLimit applies to sessions that do not publish an age limit.
const DefaultMinAgeLimit = 45

// FetchErrorKind classifies availability source failures.
type FetchErrorKind string

const (
	FetchGatewayTimeout FetchErrorKind = "gateway_timeout"
	FetchInternalError  FetchErrorKind = "internal_error"
	FetchUpstreamStatus FetchErrorKind = "upstream_status"
)

// FetchError is returned when the calendar for a location could not be read.
type FetchError struct {
	Location   Location
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.Location, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Location, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every FetchError match ErrFetchFailure.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailure }

// Session is one vaccination session offered by a center on a given day.
type Session struct {
	SessionID         string   `json:"session_id"`
	Date              string   `json:"date"`
	AvailableCapacity int      `json:"available_capacity"`
	MinAgeLimit       *int     `json:"min_age_limit,omitempty"`
	Vaccine           string   `json:"vaccine"`
	Slots             []string `json:"slots"`
}

// MinAge returns the published age limit, or DefaultMinAgeLimit when absent.
func (s Session) MinAge() int {
	if s.MinAgeLimit == nil {
		return DefaultMinAgeLimit
	}
	return *s.MinAgeLimit
}

// Center is a vaccination center with its upcoming sessions.
type Center struct {
	CenterID     int       `json:"center_id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	DistrictName string    `json:"district_name"`
	Pincode      int       `json:"pincode"`
	FeeType      string    `json:"fee_type"`
	Sessions     []Session `json:"sessions"`
}

// AvailabilitySnapshot is the normalized calendar of one location for one day.
type AvailabilitySnapshot struct {
	Location Location `json:"location"`
	Date     string   `json:"date"`
	Centers  []Center `json:"centers"`
}

// AvailabilityFetcher reads the appointment calendar for a location.
type AvailabilityFetcher interface {
	FetchByLocation(ctx context.Context, location Location, date time.Time) (AvailabilitySnapshot, error)
}
