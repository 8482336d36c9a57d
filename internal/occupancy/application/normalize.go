package application

import (
	"encoding/json"
	"fmt"
	"regexp"

	occupancy "zone-tracker/internal/occupancy/domain"
)

// Publish topic shape: site/{siteId}/device/{deviceId}/location.
var topicPattern = regexp.MustCompile(`^site/([^/]+)/device/([^/]+)/location$`)

type locationPayload struct {
	DeviceID      string `json:"deviceId"`
	DeviceIDSnake string `json:"device_id"`
	ZoneID        string `json:"zoneId"`
	ZoneIDSnake   string `json:"zone_id"`
	SiteID        string `json:"siteId"`
	SiteIDSnake   string `json:"site_id"`
}

// NormalizeEvent canonicalizes a raw payload plus its topic into a
// LocationEvent. Identifiers fall back from payload to topic-derived values;
// the site additionally falls back to defaultSiteID. A missing device or zone
// after fallback yields ErrMalformedEvent.
func NormalizeEvent(payload []byte, topic, defaultSiteID string) (occupancy.LocationEvent, error) {
	var body locationPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return occupancy.LocationEvent{}, fmt.Errorf("%w: invalid json: %v", occupancy.ErrMalformedEvent, err)
	}

	topicSite, topicDevice := parseTopic(topic)

	event := occupancy.LocationEvent{
		SiteID:   firstNonEmpty(body.SiteID, body.SiteIDSnake, topicSite, defaultSiteID),
		DeviceID: firstNonEmpty(body.DeviceID, body.DeviceIDSnake, topicDevice),
		ZoneID:   firstNonEmpty(body.ZoneID, body.ZoneIDSnake),
	}

	if event.DeviceID == "" || event.ZoneID == "" {
		return occupancy.LocationEvent{}, fmt.Errorf("%w: missing deviceId/device_id or zoneId/zone_id", occupancy.ErrMalformedEvent)
	}
	if event.SiteID == "" {
		return occupancy.LocationEvent{}, fmt.Errorf("%w: missing siteId and no default site configured", occupancy.ErrMalformedEvent)
	}
	return event, nil
}

func parseTopic(topic string) (siteID, deviceID string) {
	match := topicPattern.FindStringSubmatch(topic)
	if match == nil {
		return "", ""
	}
	return match[1], match[2]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
