package telemetry

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Janta-Power/Janta-Power/internal/debug"
)

const connectTimeout = 10 * time.Second

// MQTT publishes at QoS 1 over a paho client.
type MQTT struct {
	client mqtt.Client
}

// Dial connects to the broker. The client identifier embeds the tower
// id plus a random suffix so a half-closed previous session cannot
// lock out the reconnect.
func Dial(broker string, towerID uint32, username, password string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("tracker-%X-%s", towerID, uuid.New().String())).
		SetConnectTimeout(connectTimeout)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}
	debug.Info("Telemetry: connected to %s", broker)
	return &MQTT{client: c}, nil
}

// Publish sends payload at QoS 1 and waits for the broker ack.
func (m *MQTT) Publish(topic, payload string) error {
	debug.Publish(topic)
	token := m.client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight messages to drain.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// LogPublisher writes payloads to the debug log instead of a broker,
// for bench rigs without network access.
type LogPublisher struct{}

func (LogPublisher) Publish(topic, payload string) error {
	debug.Printf("Telemetry: %s <- %s", topic, payload)
	return nil
}
