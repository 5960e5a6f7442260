package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shelfwatch/shelfwatch/internal/models"
)

// ErrInvalidTarget marks configuration-level failures: bad URL, disallowed
// hostname, wrong scheme. These never reach the network and never adjust the
// scheduler's backoff.
type ErrInvalidTarget struct {
	Reason string
}

func (e *ErrInvalidTarget) Error() string {
	return e.Reason
}

// ValidateTargetURL enforces the per-platform hostname allow-list before any
// request is built. Everything else about the URL (path, query) is the
// platform's business.
func ValidateTargetURL(rawURL string, platform models.Platform) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ErrInvalidTarget{Reason: fmt.Sprintf("unparseable url: %v", err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrInvalidTarget{Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	if u.User != nil {
		return &ErrInvalidTarget{Reason: "userinfo in url is not allowed"}
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return &ErrInvalidTarget{Reason: "url has no hostname"}
	}

	for _, allowed := range platform.AllowedHostnames() {
		if hostname == allowed {
			return nil
		}
	}

	return &ErrInvalidTarget{Reason: fmt.Sprintf("hostname %q is not allowed for platform %s", hostname, platform)}
}
