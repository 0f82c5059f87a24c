package discovery

import (
	"encoding/xml"
	"strings"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
)

// parseDeviceDesc parses a UPnP device description document into a
// DeviceDesc. This is the "description collaborator"
// — a generic device-description parser, distinct from the in-scope
// DIDL-Lite parser (internal/didl). Malformed XML returns a ParseError;
// callers must discard the device and keep processing others.
func parseDeviceDesc(xmlPayload []byte) (DeviceDesc, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(xmlPayload)))

	var desc DeviceDesc
	var path []string
	var current service

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			path = append(path, se.Name.Local)
			if se.Name.Local == "service" {
				current = service{}
			}
		case xml.EndElement:
			if len(path) == 0 {
				continue
			}
			name := path[len(path)-1]
			path = path[:len(path)-1]

			if name == "service" {
				if current.serviceType != "" {
					desc.Services = append(desc.Services, ServiceDesc{
						ServiceType: current.serviceType,
						ServiceID:   current.serviceID,
						ControlURL:  current.controlURL,
						EventSubURL: current.eventSubURL,
					})
				}
				continue
			}
		case xml.CharData:
			if len(path) == 0 {
				continue
			}
			value := strings.TrimSpace(string(se))
			if value == "" {
				continue
			}
			parent := ""
			if len(path) >= 2 {
				parent = path[len(path)-2]
			}
			assignField(&desc, &current, parent, path[len(path)-1], value)
		}
	}

	if desc.UDN == "" && desc.FriendlyName == "" {
		return DeviceDesc{}, apperrors.NewParseErrorRenderer("discovery: device description has no UDN or friendlyName")
	}

	desc.UDN = strings.TrimPrefix(desc.UDN, "uuid:")
	desc.OK = true
	return desc, nil
}

type service struct {
	serviceType string
	serviceID   string
	controlURL  string
	eventSubURL string
}

func assignField(desc *DeviceDesc, current *service, parent, name, value string) {
	switch parent {
	case "service":
		switch name {
		case "serviceType":
			current.serviceType = value
		case "serviceId":
			current.serviceID = value
		case "controlURL":
			current.controlURL = value
		case "eventSubURL":
			current.eventSubURL = value
		}
		return
	case "device":
		switch name {
		case "deviceType":
			desc.DeviceType = value
		case "friendlyName":
			desc.FriendlyName = value
		case "UDN":
			if desc.UDN == "" {
				desc.UDN = value
			}
		case "manufacturer":
			desc.Manufacturer = value
		case "modelName":
			desc.ModelName = value
		}
		return
	case "root":
		if name == "URLBase" {
			desc.URLBase = value
		}
	}
}
