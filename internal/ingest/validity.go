package ingest

import "time"

// PRNs with a hardcoded validity window regardless of secondary key.
const (
	prnAIS        = 126996
	prnSonicHub   = 130816
	aisWindow     = 3600 * time.Second
	sonicWindow   = 2678400 * time.Second // ~31 days, effectively permanent
	defaultWindow = 120 * time.Second
)

var secondaryKeyWindows = map[string]time.Duration{
	"Instance":       120 * time.Second,
	"Reference":      120 * time.Second,
	"Message ID":     3600 * time.Second,
	"User ID":        3600 * time.Second,
	"Proprietary ID": 120 * time.Second,
}

// ValidityWindow computes the seconds added to now to compute
// expires_at. field is the canonical secondary-key field
// name that matched (empty if none did).
func ValidityWindow(prn uint32, field string) time.Duration {
	switch prn {
	case prnAIS:
		return aisWindow
	case prnSonicHub:
		return sonicWindow
	}
	if w, ok := secondaryKeyWindows[field]; ok {
		return w
	}
	return defaultWindow
}
