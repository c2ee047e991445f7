package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/motor-valve/internal/config"
	"github.com/sweeney/motor-valve/internal/controller"
	"github.com/sweeney/motor-valve/internal/gpio"
	"github.com/sweeney/motor-valve/internal/logger"
	"github.com/sweeney/motor-valve/internal/logic"
	"github.com/sweeney/motor-valve/internal/mqtt"
	"github.com/sweeney/motor-valve/internal/status"
	"github.com/sweeney/motor-valve/internal/web"
)

// commandQueueSize bounds commands waiting for the run loop. Producers never
// block; a full queue rejects the command.
const commandQueueSize = 16

func run(cfg *config.Config) error {
	log := logger.Named("main")

	outputs, err := openOutputs(cfg)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	defer func() {
		if err := closeOutputs(outputs); err != nil {
			log.Warnf("%v", err)
		}
	}()

	clock := logic.SystemClock{}
	ctrl, err := buildController(cfg, outputs, clock)
	if err != nil {
		return err
	}

	tracker := status.NewTracker(clock, status.Config{
		PollMs:              cfg.Poll.Milliseconds(),
		HeartbeatMs:         cfg.Heartbeat.Milliseconds(),
		CalibrationInterval: cfg.Calibration.Interval,
		Broker:              cfg.MQTT.Broker,
		TopicPrefix:         cfg.MQTT.TopicPrefix,
		HTTPAddr:            cfg.HTTP,
	})
	tracker.UpdateValves(ctrl.Snapshots())
	tracker.SetNetwork(status.NetworkFromEnv(os.Getenv))

	commands := make(chan controller.Command, commandQueueSize)
	submit := queueSubmitter(commands)

	var (
		publisher  mqtt.Publisher        = mqtt.NopPublisher{}
		mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topics:     mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
			BufferSize: cfg.MQTT.BufferSize,
			OnCommand:  mqttCommandHandler(submit, tracker),
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	} else {
		log.Infof("mqtt disabled")
	}

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	startup := mqtt.SystemEvent{
		Timestamp:  clock.Now(),
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logPublishError(log, "startup event", err)
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, submit)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infof("http server listening on %s", cfg.HTTP)
	}

	log.Infof("started: valves=%v poll=%v heartbeat=%v calibration=%+v",
		ctrl.Names(), cfg.Poll, cfg.Heartbeat, cfg.Calibration)
	ctrl.Start()

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d := &daemon{
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat,
		network:    func() *status.Network { return status.NetworkFromEnv(os.Getenv) },
		clock:      clock,
		log:        log,
	}
	return runLoop(d, ticker.C, commands, sigCh)
}

func buildController(cfg *config.Config, outputs map[string]gpio.Writer, clock logic.Clock) (*controller.Controller, error) {
	ctrl := controller.New(clock, controller.Options{
		CalibrateOnStart:    cfg.Calibration.OnStart,
		CalibrationInterval: cfg.Calibration.Interval,
		Reanchor:            cfg.Calibration.Reanchor,
	}, logger.Named("controller"))

	diag := logger.Named("valve")
	for _, vc := range cfg.Valves {
		out, ok := outputs[vc.Output]
		if !ok {
			return nil, fmt.Errorf("valve %q: output %q not open", vc.Name, vc.Output)
		}
		v, err := logic.NewValve(vc.Logic(), out, clock, diag)
		if err != nil {
			return nil, fmt.Errorf("valve %q: %w", vc.Name, err)
		}
		if err := ctrl.Add(vc.Name, v); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

func queueSubmitter(commands chan<- controller.Command) web.Submitter {
	return func(cmd controller.Command) bool {
		select {
		case commands <- cmd:
			return true
		default:
			return false
		}
	}
}

func mqttCommandHandler(submit web.Submitter, tracker *status.Tracker) mqtt.CommandHandler {
	log := logger.Named("mqtt")
	return func(valve, payload string) {
		cmd, err := controller.ParseCommand(valve, payload)
		if err != nil {
			log.Warnf("rejected command for %s: %v", valve, err)
			tracker.RecordCommand(false)
			return
		}
		cmd.Source = "mqtt"
		if !submit(cmd) {
			log.Warnf("command queue full, dropping %s", cmd)
			tracker.RecordCommand(false)
		}
	}
}

// daemon holds what the run loop works on. Its handlers run on the loop
// goroutine only.
type daemon struct {
	ctrl       *controller.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	clock      logic.Clock
	log        *zap.SugaredLogger

	// network, if set, is re-read before every heartbeat.
	network func() *status.Network
}

func runLoop(d *daemon, tick <-chan time.Time, commands <-chan controller.Command, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.onSignal(s)
			return nil
		case cmd := <-commands:
			d.onCommand(cmd)
		case <-tick:
			d.onTick()
		}
	}
}

func (d *daemon) onSignal(s os.Signal) {
	d.log.Infof("received %v, shutting down", s)
	d.publishEvents(d.ctrl.Shutdown())
	d.tracker.UpdateValves(d.ctrl.Snapshots())
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())

	reason := signalName(s)
	event := mqtt.SystemEvent{
		Timestamp:  d.clock.Now(),
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), mqtt.EventShutdown, reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		logPublishError(d.log, "shutdown event", err)
	} else {
		d.log.Infof("published shutdown event")
	}
}

func (d *daemon) onCommand(cmd controller.Command) {
	if err := d.ctrl.Apply(cmd); err != nil {
		d.log.Warnf("command %s rejected: %v", cmd, err)
		d.tracker.RecordCommand(false)
		return
	}
	d.tracker.RecordCommand(true)
}

func (d *daemon) onTick() {
	d.publishEvents(d.ctrl.Tick())
	d.tracker.UpdateValves(d.ctrl.Snapshots())
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())

	if !d.ctrl.CheckHeartbeat(d.heartbeat) {
		return
	}
	if d.network != nil {
		d.tracker.SetNetwork(d.network())
	}
	snap := d.tracker.Snapshot()
	d.log.Debugf("heartbeat: uptime=%v commands=%d events=%d",
		snap.Uptime().Truncate(time.Second), snap.Counts.Commands, snap.Counts.Events)
	hb := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
	}
	if err := d.publisher.PublishSystem(hb); err != nil {
		logPublishError(d.log, "heartbeat", err)
	}
}

func (d *daemon) publishEvents(events []logic.Event) {
	for _, e := range events {
		v := e.Valve
		d.log.Infof("event: %s %s (status=%s angle=%d target=%d)", v.Label, e.Type, v.Status, v.CurrentAngle, v.TargetAngle)
		if err := d.publisher.Publish(e); err != nil {
			// Don't crash on publish failure
			logPublishError(d.log, "valve event", err)
		}
	}
	d.tracker.RecordEvents(len(events))
}

func logPublishError(log logic.Diagnostics, what string, err error) {
	if errors.Is(err, mqtt.ErrBuffered) {
		log.Debugf("%s buffered until mqtt reconnects", what)
		return
	}
	log.Warnf("failed to publish %s: %v", what, err)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
