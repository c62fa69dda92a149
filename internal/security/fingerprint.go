package security

import "strings"

// DeviceInfo is caller-supplied terminal metadata. It is only ever stored or
// embedded as a keyed digest.
type DeviceInfo struct {
	DeviceID string
	Model    string
	Platform string
}

func (d DeviceInfo) Empty() bool {
	return strings.TrimSpace(d.DeviceID) == "" && strings.TrimSpace(d.Model) == "" && strings.TrimSpace(d.Platform) == ""
}

func FingerprintDevice(info *DeviceInfo, secret []byte) string {
	if info == nil || info.Empty() {
		return ""
	}
	canonical := strings.Join([]string{
		normalizeDeviceField(info.DeviceID),
		normalizeDeviceField(info.Model),
		normalizeDeviceField(info.Platform),
	}, "|")
	return SignHMAC([]byte("device:"+canonical), secret)
}

func normalizeDeviceField(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
