package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Activity names produced by the normalizer.
const (
	ActivityInVehicle = "in_vehicle"
	ActivityOnBicycle = "on_bicycle"
	ActivityOnFoot    = "on_foot"
	ActivityStill     = "still"
	ActivityWalking   = "walking"
	ActivityRunning   = "running"
	ActivitySleeping  = "sleeping"
)

// ActivityCatalog maps provider activity-type codes to activity names.
// Codes missing from the catalog are dropped during normalisation.
type ActivityCatalog map[int]string

// DefaultActivityCatalog returns the provider codes tracked out of the box.
func DefaultActivityCatalog() ActivityCatalog {
	return ActivityCatalog{
		0:  ActivityInVehicle,
		1:  ActivityOnBicycle,
		2:  ActivityOnFoot,
		3:  ActivityStill,
		7:  ActivityWalking,
		8:  ActivityRunning,
		72: ActivitySleeping,
	}
}

// Name resolves a provider code.
func (c ActivityCatalog) Name(code int) (string, bool) {
	name, ok := c[code]
	return name, ok
}

// ParseActivityCatalog builds a catalog from string keys, as read from configuration.
func ParseActivityCatalog(raw map[string]string) (ActivityCatalog, error) {
	out := make(ActivityCatalog, len(raw))
	for key, name := range raw {
		code, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("activity code %q: %w", key, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("activity code %d has empty name", code)
		}
		out[code] = name
	}
	return out, nil
}
