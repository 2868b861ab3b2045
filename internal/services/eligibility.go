package services

import (
	"strings"

	"vaccinealert/internal/domain"
)

// PartitionByAge splits a bucket's users into the 18-44 and 45+ recipient
// lists. Minors are dropped and an address listed twice is kept once, at its
// first position.
func PartitionByAge(users []domain.UserRecord) (tier18to44, tier45plus []string) {
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.AgeYears < domain.MinAlertAge {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(u.Email))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if u.AgeYears >= domain.SeniorTierAge {
			tier45plus = append(tier45plus, u.Email)
		} else {
			tier18to44 = append(tier18to44, u.Email)
		}
	}
	return tier18to44, tier45plus
}

// OpenCenters derives the centers worth alerting each tier about. A center
// qualifies for the 18-44 tier when it has an open session admitting 18 year
// olds, and for the 45+ tier when it has any open session. Only the
// qualifying sessions are kept on the returned copies.
func OpenCenters(snapshot domain.AvailabilitySnapshot) (centers18, centers45 []domain.Center) {
	for _, center := range snapshot.Centers {
		var open18, open45 []domain.Session
		for _, s := range center.Sessions {
			if s.AvailableCapacity <= 0 {
				continue
			}
			open45 = append(open45, s)
			if s.MinAge() <= domain.MinAlertAge {
				open18 = append(open18, s)
			}
		}
		if len(open18) > 0 {
			c := center
			c.Sessions = open18
			centers18 = append(centers18, c)
		}
		if len(open45) > 0 {
			c := center
			c.Sessions = open45
			centers45 = append(centers45, c)
		}
	}
	return centers18, centers45
}
