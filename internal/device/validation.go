package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 100

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validate checks a device definition before it is stored.
//
// Adapter construction performs the protocol-specific config
// validation; this covers the protocol-neutral parts.
func Validate(d *Device) error {
	if d.Name == "" || len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	}
	if d.Slug != "" && !slugPattern.MatchString(d.Slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, d.Slug)
	}
	if !d.Protocol.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, d.Protocol)
	}
	if d.PollInterval < 0 {
		return fmt.Errorf("device: negative poll interval %d", d.PollInterval)
	}

	addrs := make(map[string]struct{}, len(d.Points))
	for _, pt := range d.Points {
		if err := pt.Validate(); err != nil {
			return fmt.Errorf("point %q: %w", pt.Name, err)
		}
		if _, dup := addrs[pt.Address]; dup {
			return fmt.Errorf("point %q: duplicate address %q", pt.Name, pt.Address)
		}
		addrs[pt.Address] = struct{}{}
	}
	return nil
}

// GenerateID returns a new unique device or point identifier.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateSlug derives a URL-safe slug from a display name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}

	slug = result.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}
