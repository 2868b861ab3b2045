package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for registry operations.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRegistryFailure = errors.New("registry failure")
)

// Age limits that drive tier eligibility.
const (
	MinAlertAge           = 18
	SeniorTierAge         = 45
	DefaultAlertThreshold = 5
)

// LocationKind tells the availability source which calendar to query.
type LocationKind string

const (
	LocationPincode  LocationKind = "pincode"
	LocationDistrict LocationKind = "district"
)

// Location identifies the area a bucket of users is registered under.
type Location struct {
	Kind LocationKind `json:"kind"`
	Code string       `json:"code"`
}

// PincodeLocation returns a pincode based Location.
func PincodeLocation(code string) Location {
	return Location{Kind: LocationPincode, Code: code}
}

// DistrictLocation returns a district based Location.
func DistrictLocation(id string) Location {
	return Location{Kind: LocationDistrict, Code: id}
}

// String renders the location as used in logs and failure reports.
func (l Location) String() string {
	if l.Kind == LocationDistrict {
		return "district:" + l.Code
	}
	return l.Code
}

// IsZero reports whether the location carries no code.
func (l Location) IsZero() bool {
	return l.Code == ""
}

// UserRecord is a registered alert subscriber.
// AlertCount counts consecutive failed deliveries; users at or above the
// alert threshold are no longer returned by the registry.
type UserRecord struct {
	Email         string     `json:"email"`
	AgeYears      int        `json:"age"`
	LocationCode  string     `json:"pincode"`
	DistrictID    string     `json:"district_id"`
	Active        bool       `json:"active"`
	AlertCount    int        `json:"alert_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastAlertedAt *time.Time `json:"last_alerted_at,omitempty"`
}

// Location returns the key the user is bucketed under: the pincode when
// present, otherwise the district.
func (u UserRecord) Location() Location {
	if u.LocationCode != "" {
		return PincodeLocation(u.LocationCode)
	}
	return DistrictLocation(u.DistrictID)
}

// LocationBucket holds the users registered under one location, most
// recently updated first.
type LocationBucket struct {
	Location Location     `json:"location"`
	Users    []UserRecord `json:"users"`
}

// Registry is the user store consumed by the alert pipeline.
type Registry interface {
	// ActiveBuckets returns active users below the alert threshold grouped by location.
	ActiveBuckets(ctx context.Context) ([]LocationBucket, error)
	// RecordAlertSent resets the failed alert counter after a successful delivery.
	RecordAlertSent(ctx context.Context, email string) error
	// IncrementFailedAlert bumps the failed alert counter after a failed delivery.
	IncrementFailedAlert(ctx context.Context, email string) error
	// Deactivate stops all future alerts for the user.
	Deactivate(ctx context.Context, email string) error
}
