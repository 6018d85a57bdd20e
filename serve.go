package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowbike/ebike-monitor/internal/hass"
	"github.com/flowbike/ebike-monitor/internal/metrics"
	"github.com/flowbike/ebike-monitor/internal/scheduler"
	"github.com/flowbike/ebike-monitor/internal/server"
	"github.com/flowbike/ebike-monitor/tui"
)

// runServe is the long-running daemon: a first refresh that must succeed,
// then a refresh every interval with metrics, the HTTP status API and
// optionally Home Assistant MQTT discovery fed by every cycle.
func runServe(ctx context.Context, interval time.Duration) error {
	s, err := openSession(tui.NoopDisplayer{})
	if err != nil {
		return err
	}
	l := logger.WithValues("bike", s.bike.ID)

	m := metrics.New()
	s.coord.OnUpdate(m.Observe)

	if mqttBroker != "" {
		client, err := hass.Connect(hass.ClientConfig{
			Broker:    mqttBroker,
			ClientID:  "ebike-monitor-" + uuid.NewString()[:8],
			Username:  mqttUsername,
			Password:  mqttPassword,
			WillTopic: hass.StatusTopic(hass.DefaultBaseTopic, s.bike.ID),
		}, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		bridge := hass.NewBridge(client, hass.Config{
			DiscoveryPrefix: mqttPrefix,
			BikeID:          s.bike.ID,
			BikeName:        s.bike.Name,
		}, logger)
		if err := bridge.Announce(); err != nil {
			return fmt.Errorf("failed to announce entities: %w", err)
		}
		defer func() {
			if err := bridge.Offline(); err != nil {
				l.Warn("failed to mark bridge offline", "error", err)
			}
		}()
		s.coord.OnUpdate(bridge.Observe)
	}

	sched := scheduler.New(s.coord, interval, scheduler.WithLogger(logger))

	l.Info("performing first refresh")
	if err := sched.FirstRefresh(ctx); err != nil {
		return fmt.Errorf("first refresh failed: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if listenAddr != "" {
		srv := server.New(listenAddr, s.coord, m.Handler(), logger)
		go func() {
			if err := srv.Start(runCtx); err != nil {
				cancel(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	_ = sched.Run(runCtx)
	if ctx.Err() != nil {
		l.Info("shutting down")
		return nil
	}
	return context.Cause(runCtx)
}
