// Package mqtt bridges the core bus onto an MQTT broker so off-host
// dashboards can follow telemetry and job activity without polling the API.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"watchpost.core/internal/core/bus"
)

// Publisher consumes the bus and publishes to MQTT
type Publisher struct {
	client mqtt.Client
	bus    *bus.Bus
	prefix string
}

// NewPublisher initializes the MQTT publisher
func NewPublisher(b *bus.Bus, brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("watchpost-core-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	slog.Info("connected to MQTT broker", "url", brokerURL)
	return &Publisher{
		client: client,
		bus:    b,
		prefix: "watchpost",
	}, nil
}

// Start consumes the bus until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	go p.consume(ctx)
}

func (p *Publisher) consume(ctx context.Context) {
	sub := p.bus.Subscribe()
	defer sub.Close()

	slog.Info("MQTT bus consumer started")

	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			payload, _ := json.Marshal(snap)
			// Topic: watchpost/telemetry
			p.client.Publish(p.prefix+"/telemetry", 0, false, payload)
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			topic := p.prefix + "/events"
			if ev.RelatedJobID != "" {
				// Topic: watchpost/job/{job_id}
				topic = fmt.Sprintf("%s/job/%s", p.prefix, ev.RelatedJobID)
			}
			p.client.Publish(topic, 0, false, payload)
		}
	}
}
