package enrichment

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// ClassifyDevice derives browser, OS and form factor from a user-agent
// string. Anything that cannot be determined is reported as "unknown".
func ClassifyDevice(ua string) domain.Device {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return domain.Device{Browser: domain.Unknown, OS: domain.Unknown, FormFactor: domain.Unknown}
	}

	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	if browser == "" {
		browser = domain.Unknown
	}
	os := osName(parsed.OSInfo().Name)
	if lower := strings.ToLower(ua); strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") {
		os = "iOS"
	}
	return domain.Device{
		Browser:    browser,
		OS:         os,
		FormFactor: formFactor(ua, parsed),
	}
}

func osName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case lower == "":
		return domain.Unknown
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ios"):
		return "iOS"
	case strings.Contains(lower, "mac os"):
		return "MacOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "windows"):
		return "Windows"
	case strings.Contains(lower, "linux"):
		return "Linux"
	}
	return name
}

// Tablets are checked first: iPad and Android tablet agents often also
// carry a mobile token.
func formFactor(ua string, parsed *useragent.UserAgent) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		return domain.FormFactorTablet
	case parsed.Mobile(), strings.Contains(lower, "mobile"), strings.Contains(lower, "iphone"):
		return domain.FormFactorMobile
	}
	return domain.FormFactorDesktop
}
