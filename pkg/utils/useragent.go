package utils

import (
	"fmt"
	"strings"

	"github.com/avct/uasurfer"
)

// UserAgentInfo summarizes a parsed user-agent string.
type UserAgentInfo struct {
	Device  string
	OS      string
	Browser string
}

// BrowserFamily reduces a user-agent string to its browser family name
// for metric roll-ups. Empty or unparseable strings land in "unknown" so
// aggregation keys stay bounded.
func BrowserFamily(uaString string) string {
	if uaString == "" {
		return "unknown"
	}
	ua := uasurfer.Parse(uaString)
	if ua.Browser.Name == uasurfer.BrowserUnknown {
		return "unknown"
	}
	return strings.TrimPrefix(ua.Browser.Name.String(), "Browser")
}

// ParseUserAgent expands a user-agent string into device, OS and browser
// descriptions.
func ParseUserAgent(uaString string) *UserAgentInfo {
	ua := uasurfer.Parse(uaString)

	device := "Unknown"
	switch ua.DeviceType {
	case uasurfer.DeviceComputer:
		device = "Computer"
	case uasurfer.DeviceTablet:
		device = "Tablet"
	case uasurfer.DevicePhone:
		device = "Phone"
	case uasurfer.DeviceTV:
		device = "TV"
	}

	return &UserAgentInfo{
		Device:  device,
		OS:      fmt.Sprintf("%s %d.%d", strings.TrimPrefix(ua.OS.Name.String(), "OS"), ua.OS.Version.Major, ua.OS.Version.Minor),
		Browser: fmt.Sprintf("%s %d.%d", strings.TrimPrefix(ua.Browser.Name.String(), "Browser"), ua.Browser.Version.Major, ua.Browser.Version.Minor),
	}
}
