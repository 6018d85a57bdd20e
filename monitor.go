package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/flowapi"
	"github.com/flowbike/ebike-monitor/internal/oauth"
	"github.com/flowbike/ebike-monitor/internal/reading"
	"github.com/flowbike/ebike-monitor/internal/scheduler"
	"github.com/flowbike/ebike-monitor/tui"
)

// session is the per-run wiring for one stored bike.
type session struct {
	store  *oauth.Store
	client *flowapi.Client
	coord  *coordinator.Coordinator
	bike   tui.Bike
}

// openSession loads the stored credentials and builds the client stack.
// Renewed credentials are written back to the token file.
func openSession(d tui.Displayer) (*session, error) {
	storage, err := loadTokens(tokenFile, bikeID)
	if errors.Is(err, ErrNoTokens) {
		d.TokensNotFound(tokenFile)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	d.TokensFound(tokenFile)

	bike := tui.Bike{ID: storage.BikeID, Name: storage.BikeName}
	if bikeName != "" {
		bike.Name = bikeName
	}
	if bike.Name == "" {
		bike.Name = bike.ID
	}

	store := oauth.NewStore(storage.Token())
	store.OnChange(func(t *oauth2.Token) {
		// Detached: a refresh finishing during shutdown must still be saved.
		if err := saveTokens(context.Background(), tokenFile, newTokenStorage(t, bike.ID, storage.BikeName)); err != nil {
			logger.Error(err, "failed to save refreshed tokens")
			d.TokenSaveFailed(err)
			return
		}
		d.TokenRefreshed(time.Until(t.Expiry))
	})

	_, client := newClient(store)
	coord := coordinator.New(client, bike.ID, bike.Name, coordinator.WithLogger(logger))

	return &session{store: store, client: client, coord: coord, bike: bike}, nil
}

// statusRecord is the JSON document written to the status files.
type statusRecord struct {
	Timestamp time.Time `json:"timestamp"`
	BikeID    string    `json:"bike_id"`
	BikeName  string    `json:"bike_name,omitempty"`
	*reading.Reading
}

// timestampedStatusFile returns the per-reading file written next to the
// latest status file whenever live data is available.
func timestampedStatusFile(at time.Time) string {
	name := "battery_status_" + at.Format("20060102_150405") + ".json"
	return filepath.Join(filepath.Dir(statusFile), name)
}

func writeStatus(ctx context.Context, path string, snap coordinator.Snapshot) error {
	data, err := json.MarshalIndent(statusRecord{
		Timestamp: snap.LastSuccess,
		BikeID:    snap.BikeID,
		BikeName:  snap.BikeName,
		Reading:   snap.Reading,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return writeFileAtomic(ctx, path, data, 0o644)
}

// report shows a finished cycle and writes the status files. The timestamped
// copy is only written when saveLive is set and the reading carries live data.
func report(ctx context.Context, d tui.Displayer, snap coordinator.Snapshot, saveLive bool) {
	if snap.Err != nil {
		d.CycleFailed(snap.Err)
		return
	}

	d.Reading(snap.Reading, snap.LastSuccess)
	live := snap.Reading.LiveDataAvailable

	if err := writeStatus(ctx, statusFile, snap); err != nil {
		d.StatusSaveFailed(err)
	} else {
		d.StatusSaved(statusFile, live)
	}

	if saveLive && live {
		path := timestampedStatusFile(snap.LastSuccess)
		if err := writeStatus(ctx, path, snap); err != nil {
			d.StatusSaveFailed(err)
		} else {
			d.StatusSaved(path, true)
		}
	}
}

// runCheck performs a single cycle.
func runCheck(ctx context.Context, d tui.Displayer) error {
	s, err := openSession(d)
	if err != nil {
		return err
	}
	d.BikeSelected(s.bike)

	d.Fetching()
	if err := s.coord.Refresh(ctx); err != nil {
		return err
	}
	report(ctx, d, s.coord.Snapshot(), false)
	return nil
}

// monitorTarget announces each cycle before delegating to the coordinator.
type monitorTarget struct {
	coord *coordinator.Coordinator
	d     tui.Displayer
}

func (t monitorTarget) Refresh(ctx context.Context) error {
	t.d.Fetching()
	return t.coord.Refresh(ctx)
}

// runMonitor polls until interrupted. Failed cycles are shown and polling
// continues, except for authentication failures which need a new login.
func runMonitor(ctx context.Context, d tui.Displayer, interval time.Duration) error {
	s, err := openSession(d)
	if err != nil {
		return err
	}
	d.BikeSelected(s.bike)
	d.Monitoring(interval)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.coord.OnUpdate(func(snap coordinator.Snapshot) {
		report(runCtx, d, snap, true)
		if coordinator.KindOf(snap.Err) == coordinator.KindAuth {
			cancel(snap.Err)
			return
		}
		d.NextCycle(time.Now().Add(interval))
	})

	target := monitorTarget{coord: s.coord, d: d}
	sched := scheduler.New(target, interval, scheduler.WithLogger(logger))

	_ = target.Refresh(runCtx)
	_ = sched.Run(runCtx)

	if ctx.Err() == nil {
		// Polling only stops on its own after an authentication failure.
		return context.Cause(runCtx)
	}
	d.Stopped()
	return nil
}
