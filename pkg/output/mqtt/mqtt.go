package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"github.com/ericogr/soil-temp-sampler/pkg/output"
	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStateTopic = "soil-temp-sampler/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplate          = "{{ value_json.value }}"
)

// discoveryClass maps each source to its Home Assistant device class and unit.
var discoveryClass = map[sensor.Source][2]string{
	sensor.SourceTemperature: {"temperature", "°C"},
	sensor.SourceMoisture:    {"moisture", "%"},
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

type payload struct {
	Value     float64 `json:"value"`
	Raw       uint32  `json:"raw"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}

func NewMQTT(cfg config.MQTTConfig, sources []sensor.Source) (output.Output, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := newMQTT(client, cfg.StateTopic)

	// Publish Home Assistant discovery payloads if requested
	if cfg.DiscoveryTopic != "" {
		for _, src := range sources {
			dTopic := formatTopic(cfg.DiscoveryTopic, src)
			p := baseDiscoveryPayload(discoveryName(cfg, src), m.topicFor(src), discoveryUniqueID(cfg, src), src)
			if err := publishJSON(client, dTopic, true, p); err != nil {
				log.Warn().Err(err).Str("topic", dTopic).Msg("mqtt discovery publish error")
			}
		}
	}

	return m, nil
}

func newMQTT(client mqtt.Client, stateTopic string) *MQTTOutput {
	if stateTopic == "" {
		stateTopic = DefaultStateTopic
	}
	return &MQTTOutput{client: client, stateTopic: stateTopic}
}

func (m *MQTTOutput) Publish(ms []sensor.Measurement) error {
	for _, r := range ms {
		b, err := json.Marshal(payload{
			Value:     r.Value,
			Raw:       r.Raw,
			Unit:      r.Unit,
			Timestamp: r.Timestamp.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		token := m.client.Publish(m.topicFor(r.Source), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func (m *MQTTOutput) topicFor(src sensor.Source) string {
	return formatTopic(m.stateTopic, src)
}

// formatTopic substitutes the source name for a %s formatter, or appends it
// as the last level when the base has none.
func formatTopic(base string, src sensor.Source) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, src)
	}
	return strings.TrimSuffix(base, "/") + "/" + src.String()
}

func discoveryName(cfg config.MQTTConfig, src sensor.Source) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Sampler %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, src)
}

func discoveryUniqueID(cfg config.MQTTConfig, src sensor.Source) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, src)
}

func baseDiscoveryPayload(name, stateTopic, uniqueID string, src sensor.Source) map[string]interface{} {
	class := discoveryClass[src]
	p := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   class[1],
		keyDeviceClass:         class[0],
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplate,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		p[keyUniqueID] = uniqueID
	}
	return p
}

func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
