// Package device turns a User-Agent header into the label shown next to a
// session.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// Info is what the session status reports about the browser.
type Info struct {
	Label  string `json:"label"`
	Mobile bool   `json:"mobile"`
}

// Describe parses ua. Mobile browsers are labelled by platform ("Safari on
// iPhone"), others by operating system ("Chrome on Mac OS X").
func Describe(ua string) Info {
	if strings.TrimSpace(ua) == "" {
		return Info{Label: unknownDevice}
	}
	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	where := parsed.OS()
	if parsed.Mobile() && parsed.Platform() != "" {
		where = parsed.Platform()
	}
	if where == "" {
		where = "Unknown OS"
	}
	return Info{
		Label:  strings.TrimSpace(browser + " on " + where),
		Mobile: parsed.Mobile(),
	}
}

// Label is Describe(ua).Label.
func Label(ua string) string {
	return Describe(ua).Label
}
