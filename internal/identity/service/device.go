package service

import (
	"fmt"

	"github.com/mssola/useragent"
)

// deviceDisplayName turns a User-Agent string into a human readable session
// label ("Chrome on Mac OS X"). Shown in the session list so users can spot
// a login that is not theirs.
func deviceDisplayName(ua string) string {
	if ua == "" {
		return "Unknown Device"
	}
	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	os := parsed.OSInfo().Name
	switch {
	case browser != "" && os != "":
		return fmt.Sprintf("%s on %s", browser, os)
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "Unknown Device"
	}
}
