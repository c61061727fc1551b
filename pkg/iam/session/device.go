package session

import "strings"

// DeviceFromUserAgent pulls a coarse device/browser/os triple out of the
// User-Agent header. It only needs to be good enough for the "your devices"
// list, not for fingerprinting.
func DeviceFromUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{Device: "Desktop", Browser: "Unknown", OS: "Unknown"}

	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android") && strings.Contains(ua, "Mobile"):
		info.Device = "Mobile"
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		info.Device = "Tablet"
	}

	switch {
	case strings.Contains(ua, "Edg/"):
		info.Browser = "Edge"
	case strings.Contains(ua, "Chrome/"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "Firefox/"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "Safari/"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		info.OS = "macOS"
	case strings.Contains(ua, "Android"):
		info.OS = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		info.OS = "iOS"
	case strings.Contains(ua, "Linux"):
		info.OS = "Linux"
	}

	return info
}
