package models

import (
	"fmt"
	"strings"
)

// Platform identifies which retail site a target belongs to.
type Platform string

const (
	PlatformAmazon  Platform = "amazon"
	PlatformPopmart Platform = "popmart"
)

// ParsePlatform normalizes and validates a platform string.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformAmazon:
		return PlatformAmazon, nil
	case PlatformPopmart:
		return PlatformPopmart, nil
	default:
		return "", fmt.Errorf("unknown platform: %q", s)
	}
}

// AllowedHostnames returns the explicit hostname allow-list for the platform.
// Any fetch for a hostname outside this list must fail before touching the
// network.
func (p Platform) AllowedHostnames() []string {
	switch p {
	case PlatformAmazon:
		return []string{"www.amazon.com", "amazon.com", "smile.amazon.com"}
	case PlatformPopmart:
		return []string{"www.popmart.com", "popmart.com"}
	default:
		return nil
	}
}

// MonitoredTarget is a single product page tracked under one platform.
// Targets are immutable once created; callers replace the whole record on
// update rather than mutating fields.
type MonitoredTarget struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name" validate:"required"`
	URL        string   `json:"url" validate:"required,url"`
	Platform   Platform `json:"platform" validate:"required,oneof=amazon popmart"`
	PlatformID string   `json:"platform_id,omitempty"` // e.g. ASIN or SKU
}

// TargetStatus is the operator-facing view of one scheduling entry.
type TargetStatus struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Platform          Platform `json:"platform"`
	IntervalSeconds   int      `json:"interval_seconds"`
	ConsecutiveErrors int      `json:"consecutive_errors"`
	NextRunAt         string   `json:"next_run_at,omitempty"`
	Queued            bool     `json:"queued"`
}
