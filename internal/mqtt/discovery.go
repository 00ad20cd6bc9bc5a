//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the "device" block in HA discovery. One GreenBox per
// bridge, so the identifier is fixed.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Min               *int     `json:"min,omitempty"`
	Max               *int     `json:"max,omitempty"`
	Device            haDevice `json:"device"`
}

const haNodeID = "greenbox"

// buildDiscovery generates HA discovery messages for the appliance:
// a light switch, three lamp level numbers, and a water level sensor.
func buildDiscovery(prefix string) []discoveryMsg {
	avail := prefix + "/availability"
	stateTopic := prefix + "/state"
	setTopic := prefix + "/set"

	dev := haDevice{
		Identifiers:  []string{haNodeID},
		Manufacturer: "Berlin Green",
		Model:        "GreenBox",
		Name:         "GreenBox",
	}

	var msgs []discoveryMsg
	add := func(component, object string, payload haDiscovery) {
		topic := fmt.Sprintf("homeassistant/%s/%s/%s/config", component, haNodeID, object)
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msgs = append(msgs, discoveryMsg{Topic: topic, Payload: data})
	}

	add("switch", "light", haDiscovery{
		Name:              "GreenBox Light",
		UniqueID:          haNodeID + "_light",
		StateTopic:        stateTopic,
		CommandTopic:      setTopic,
		CommandTemplate:   `{"light": "{{ value }}"}`,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ 'ON' if value_json.light_on == 'on' else 'OFF' }}",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            dev,
	})

	zero, hundred := 0, 100
	for i := 0; i < 3; i++ {
		add("number", fmt.Sprintf("lamp_%d", i), haDiscovery{
			Name:              fmt.Sprintf("GreenBox Lamp %d", i),
			UniqueID:          fmt.Sprintf("%s_lamp_%d", haNodeID, i),
			StateTopic:        stateTopic,
			CommandTopic:      setTopic,
			CommandTemplate:   fmt.Sprintf(`{"lamp": %d, "level": {{ value }}}`, i),
			AvailabilityTopic: avail,
			ValueTemplate:     fmt.Sprintf("{{ value_json.lamp_lvl[%d] }}", i),
			Min:               &zero,
			Max:               &hundred,
			Device:            dev,
		})
	}

	add("sensor", "water_lvl", haDiscovery{
		Name:              "GreenBox Water Level",
		UniqueID:          haNodeID + "_water_lvl",
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.water_lvl }}",
		UnitOfMeasurement: "%",
		Device:            dev,
	})

	return msgs
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery")
}
