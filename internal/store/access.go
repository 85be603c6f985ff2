package store

import "github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"

// ZoneService is one row of the reader's zone/service join. ServiceID is
// empty for a zone that no service owns.
type ZoneService struct {
	ZoneID      string
	ServiceID   string
	IsPrincipal bool
}

// UserService is one currently active work assignment of the badging user.
type UserService struct {
	ServiceID   string
	IsPrincipal bool
}

// AccessDecision is the outcome of resolving a reader against a user's
// active services.
type AccessDecision struct {
	Accessible  bool
	ServiceType string
}

// ClassifyReader derives a reader's service type from its zone/service
// rows. A zone counts as principal when at least one of its owning
// services is principal. The result is recomputed on every read so zone
// or service edits take effect immediately.
func ClassifyReader(zones []ZoneService) (string, error) {
	if len(zones) == 0 {
		return "", ErrNoZonesConfigured
	}
	principalByZone := make(map[string]bool)
	for _, zs := range zones {
		if _, ok := principalByZone[zs.ZoneID]; !ok {
			principalByZone[zs.ZoneID] = false
		}
		if zs.IsPrincipal {
			principalByZone[zs.ZoneID] = true
		}
	}
	principal := 0
	for _, isPrincipal := range principalByZone {
		if isPrincipal {
			principal++
		}
	}
	switch {
	case principal == len(principalByZone):
		return models.ReaderTypePrincipal, nil
	case principal == 0:
		return models.ReaderTypeSecondary, nil
	default:
		return models.ReaderTypeMixed, nil
	}
}

// ResolveAccess decides whether the user's active services grant entry to
// any of the reader's zones. Pure over the rows passed in.
func ResolveAccess(zones []ZoneService, userServices []UserService) (AccessDecision, error) {
	serviceType, err := ClassifyReader(zones)
	if err != nil {
		return AccessDecision{}, err
	}

	hasPrincipal := false
	userServiceSet := make(map[string]bool, len(userServices))
	for _, us := range userServices {
		userServiceSet[us.ServiceID] = true
		if us.IsPrincipal {
			hasPrincipal = true
		}
	}
	if !hasPrincipal {
		return AccessDecision{}, ErrNoPrincipalService
	}

	for _, zs := range zones {
		if zs.ServiceID != "" && userServiceSet[zs.ServiceID] {
			return AccessDecision{Accessible: true, ServiceType: serviceType}, nil
		}
	}
	return AccessDecision{ServiceType: serviceType}, ErrZoneAccessDenied
}
