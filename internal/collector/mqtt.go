package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	telemetry "plant-edge/internal/telemetry/domain"
)

// MQTTOptions configures the MQTT collector.
type MQTTOptions struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       byte   `yaml:"qos"`
}

// MQTTCollector subscribes to a broker topic and decodes JSON point
// payloads. Sequence numbers are assigned per collector when the
// payload carries none.
type MQTTCollector struct {
	opts   MQTTOptions
	seq    atomic.Uint64
	logger *log.Logger
}

// NewMQTTCollector constructs an MQTT collector.
func NewMQTTCollector(opts MQTTOptions, logger *log.Logger) (*MQTTCollector, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("collector: empty mqtt broker url")
	}
	if opts.Topic == "" {
		return nil, errors.New("collector: empty mqtt topic")
	}
	if opts.ClientID == "" {
		opts.ClientID = "plant-edge-collector"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MQTTCollector{opts: opts, logger: logger}, nil
}

// Name implements Collector.
func (c *MQTTCollector) Name() string { return "mqtt:" + c.opts.Topic }

// Run connects, subscribes and publishes decoded points until the
// context is cancelled. Reconnects are handled by the paho client.
func (c *MQTTCollector) Run(ctx context.Context, pub Publisher) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL).
		SetClientID(c.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if c.opts.Username != "" {
		opts.SetUsername(c.opts.Username)
		opts.SetPassword(c.opts.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("collector: mqtt connect: %w", token.Error())
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		points, err := c.decode(msg.Payload())
		if err != nil {
			c.logger.Printf("collector %s: bad payload: %v", c.Name(), err)
			return
		}
		for _, point := range points {
			pub.Publish(point)
		}
	}
	if token := client.Subscribe(c.opts.Topic, c.opts.QoS, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("collector: mqtt subscribe: %w", token.Error())
	}

	<-ctx.Done()
	return nil
}

// decode accepts a single point object or an array of them.
func (c *MQTTCollector) decode(payload []byte) ([]telemetry.Point, error) {
	var points []telemetry.Point
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &points); err != nil {
			return nil, err
		}
	} else {
		var point telemetry.Point
		if err := json.Unmarshal(payload, &point); err != nil {
			return nil, err
		}
		points = []telemetry.Point{point}
	}

	out := points[:0]
	for _, point := range points {
		if point.TS <= 0 {
			point.TS = time.Now().UnixMilli()
		}
		if point.Sequence == 0 {
			point.Sequence = c.seq.Add(1)
		}
		if point.Quality == "" {
			point.Quality = telemetry.QualityGood
		}
		if err := point.Validate(); err != nil {
			c.logger.Printf("collector %s: skipping point: %v", c.Name(), err)
			continue
		}
		out = append(out, point)
	}
	return out, nil
}
