package adb

import (
	"strings"
)

const StateDevice = "device"

// Device is one line of "adb devices": a serial (host:port for network devices) and its
// state, e.g. "device", "offline" or "unauthorized".
type Device struct {
	Serial string
	State  string
}

func ParseDevices(output string) []Device {
	var devices []Device

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}

	return devices
}

// Find returns the device whose serial equals address.
func Find(devices []Device, address string) (Device, bool) {
	for _, d := range devices {
		if d.Serial == address {
			return d, true
		}
	}
	return Device{}, false
}
