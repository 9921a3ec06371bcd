package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a random (version 4) UUID.
func NewSessionID() string {
	return uuid.NewString()
}

// NewLinkID names the link at position index within one email. Link ids
// are only unique inside their session.
func NewLinkID(index int) string {
	return fmt.Sprintf("link_%d", index)
}

// PixelURL is the tracking pixel address embedded in an outgoing email.
func PixelURL(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/pixel/" + url.PathEscape(sessionID)
}

// TrackedLinkURL is the redirect address that replaces the link at index.
func TrackedLinkURL(baseURL, sessionID string, index int, target string) string {
	return fmt.Sprintf("%s/link/%s/%s?url=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(sessionID), NewLinkID(index), url.QueryEscape(target))
}

// Trackable reports whether link can be routed through the click redirect:
// an absolute http or https URL with a host.
func Trackable(link string) bool {
	if link == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RewriteLinks returns the tracked address for each link, in order. Links
// that are not Trackable, such as mailto: or empty ones, come back
// unchanged. Numbering follows the input position either way.
func RewriteLinks(baseURL, sessionID string, links []string) []string {
	out := make([]string, len(links))
	for i, l := range links {
		if !Trackable(l) {
			out[i] = l
			continue
		}
		out[i] = TrackedLinkURL(baseURL, sessionID, i, l)
	}
	return out
}
