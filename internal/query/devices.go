package query

// DeviceType describes a family of devices shown on the admin dashboard
type DeviceType struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

var deviceTypes = map[string]DeviceType{
	DefaultDeviceType: {
		Type:        DefaultDeviceType,
		Name:        "Top Off Water",
		Description: "Auto Top Off Aquarium Water System",
		Color:       "#3498db",
	},
	"doser_system": {
		Type:        "doser_system",
		Name:        "Doser",
		Description: "Aquarium Dosing System",
		Color:       "#27ae60",
	},
}

// LookupDeviceType returns the description of a known device type
func LookupDeviceType(deviceType string) (DeviceType, bool) {
	dt, ok := deviceTypes[deviceType]
	return dt, ok
}

// DeviceTypeNames returns the known device type identifiers
func DeviceTypeNames() []string {
	names := make([]string, 0, len(deviceTypes))
	for name := range deviceTypes {
		names = append(names, name)
	}
	return names
}
