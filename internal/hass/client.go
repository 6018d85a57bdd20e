package hass

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flowbike/ebike-monitor/internal/log"
)

// ClientConfig holds MQTT connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// WillTopic receives "offline" when the connection drops unexpectedly.
	WillTopic string
}

// Connect opens an auto-reconnecting MQTT connection.
func Connect(cfg ClientConfig, logger log.Logger) (mqtt.Client, error) {
	l := log.OrNop(logger).WithName("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, payloadOffline, 1, true)
	}
	opts.SetOnConnectHandler(onConnect(cfg, l))
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// onConnect runs after the first connect and after every automatic reconnect.
// The broker keeps the retained last will of a dropped connection, so the
// status topic is set back online each time.
func onConnect(cfg ClientConfig, l log.Logger) mqtt.OnConnectHandler {
	return func(c mqtt.Client) {
		l.Info("connected to broker", "broker", cfg.Broker)
		if cfg.WillTopic == "" {
			return
		}
		token := c.Publish(cfg.WillTopic, 1, true, []byte(payloadOnline))
		if !token.WaitTimeout(publishTimeout) {
			l.Warn("timed out restoring online status", "topic", cfg.WillTopic)
			return
		}
		if err := token.Error(); err != nil {
			l.Error(err, "failed to restore online status", "topic", cfg.WillTopic)
		}
	}
}
