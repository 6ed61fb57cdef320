package twitch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseClipRef extracts a clip slug from a bare slug or a clip URL:
//
//	AwkwardHelplessSalamanderSwiftRage
//	https://clips.twitch.tv/AwkwardHelplessSalamanderSwiftRage
//	https://www.twitch.tv/streamer/clip/AwkwardHelplessSalamanderSwiftRage?filter=clips
//	https://clips.twitch.tv/embed?clip=AwkwardHelplessSalamanderSwiftRage
func ParseClipRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidClipRef
	}
	if !strings.Contains(ref, "/") && !strings.Contains(ref, "?") {
		return checkSlug(ref)
	}

	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidClipRef, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch host {
	case "clips.twitch.tv":
		if len(parts) == 1 && parts[0] == "embed" {
			return checkSlug(u.Query().Get("clip"))
		}
		if len(parts) == 1 {
			return checkSlug(parts[0])
		}
	case "twitch.tv", "m.twitch.tv":
		if len(parts) == 3 && parts[1] == "clip" {
			return checkSlug(parts[2])
		}
		if len(parts) == 2 && parts[0] == "clip" {
			return checkSlug(parts[1])
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidClipRef, ref)
}

func checkSlug(s string) (string, error) {
	if !slugPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidClipRef, s)
	}
	return s, nil
}
