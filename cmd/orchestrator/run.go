package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientRoom/internal/api"
	"github.com/AaronLay10/SentientRoom/internal/config"
	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/media"
	"github.com/AaronLay10/SentientRoom/internal/mqtt"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
	"github.com/AaronLay10/SentientRoom/internal/room"
	"github.com/AaronLay10/SentientRoom/internal/storage/postgres"
	"github.com/AaronLay10/SentientRoom/internal/version"
)

const (
	shutdownStopTimeout = 10 * time.Second
	alertCheckInterval  = 10 * time.Second
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the room: bus connection, scene engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRoom(ctx, runOptions{
				roomPath:  viper.GetString("room"),
				autostart: viper.GetBool("autostart"),
				playback:  viper.GetDuration("playback"),
			})
		},
	}
	cmd.Flags().Bool("autostart", false, "start the default scene once connected")
	cmd.Flags().Duration("playback", 0, "simulated media length; 0 means files never end")
	_ = viper.BindPFlag("autostart", cmd.Flags().Lookup("autostart"))
	_ = viper.BindPFlag("playback", cmd.Flags().Lookup("playback"))
	return cmd
}

type runOptions struct {
	roomPath  string
	autostart bool
	playback  time.Duration
}

func runRoom(ctx context.Context, opts runOptions) error {
	cfg, err := config.LoadRoomConfig(opts.roomPath)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "orchestrator starting", map[string]interface{}{
		"service":  "orchestrator",
		"room_id":  cfg.Room.ID,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.String(),
	})

	var store api.EventStore
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Room.ID)
		if err != nil {
			log.Printf("postgres unavailable, running without persistence: %v", err)
		} else {
			events.SetStore(pg)
			defer pg.Close()
			store = pg
		}
	}

	password, err := config.ResolveSecret("SENTIENT_MQTT_PASSWORD")
	if err != nil {
		return err
	}
	client := mqtt.NewClient(mqtt.ClientOptions{
		Broker:   cfg.BrokerURL(),
		ClientID: cfg.ClientID(),
		Username: cfg.MQTT.Username,
		Password: password,
	})

	registry := mqtt.NewDeviceRegistry(cfg.DeviceTimeout())
	tracker := mqtt.NewFeedbackTracker(cfg.FeedbackTimeout())
	alerter := api.NewAlerter(api.AlertConfigFromEnv(cfg.Room.Name), client, store)

	var o *orchestrator.Orchestrator
	ended := func(kind media.Kind, file string) { o.NotifyMediaEnded(kind, file) }
	audio := media.NewSimulatedAudio(opts.playback, ended)
	video := media.NewSimulatedVideo(opts.playback, ended)
	defer audio.Close()
	defer video.Close()

	o = orchestrator.New(orchestrator.Options{
		Executor: orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
			Publisher: client,
			Audio:     audio,
			Video:     video,
			Observer:  tracker,
		}),
		Audio:            audio,
		CacheWarmTimeout: cfg.CacheWarmTimeout(),
		SkipExitOnStop:   !cfg.StopOnExit(),
		OnStart:          func(orchestrator.Status) { tracker.Enable() },
		OnEnd: func(st orchestrator.Status) {
			tracker.Disable()
			alerter.SceneEnded(st)
		},
	})

	controller := room.NewController(o, room.Config{
		ScenesDir:    cfg.ScenesDir(),
		DefaultScene: cfg.DefaultScene(),
	})

	sub := mqtt.NewRoomSubscriber(client, mqtt.RoomSubscriberConfig{
		RoomID:    cfg.Room.ID,
		Registry:  registry,
		Tracker:   tracker,
		OnTrigger: controller.HandleTrigger,
		OnMessage: o.NotifyBusMessage,
	})
	if err := sub.SubscribeAll(); err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		log.Printf("mqtt connect failed, retrying in background: %v", err)
	}

	auth, err := api.LoadAuth()
	if err != nil {
		return err
	}
	srv, err := api.New(api.Deps{
		RoomID:   cfg.Room.ID,
		RoomName: cfg.Room.Name,
		Runner:   o,
		Starter:  controller,
		Devices:  registry,
		Bus:      client,
		Store:    store,
		Auth:     auth,
		TLS:      api.TLSFromEnv(),
	})
	if err != nil {
		return err
	}
	if !auth.Enabled() {
		log.Printf("API auth disabled: set SENTIENT_ADMIN_USER and SENTIENT_ADMIN_PASS to enable")
	}

	if opts.autostart {
		if _, err := controller.StartDefault(ctx); err != nil {
			log.Printf("autostart failed: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.UIPort()) })
	g.Go(func() error { return mqtt.NewMonitor(registry, cfg.DeviceSweepInterval()).Run(gctx) })
	g.Go(func() error { return alerter.Run(gctx, alertCheckInterval) })
	g.Go(func() error {
		<-gctx.Done()
		shutdown(o, client)
		return nil
	})

	err = g.Wait()
	events.Emit("info", "system.shutdown", "orchestrator stopped", map[string]interface{}{
		"room_id": cfg.Room.ID,
	})
	return err
}

// shutdown stops a running scene while the bus is still up, then
// disconnects.
func shutdown(o *orchestrator.Orchestrator, client *mqtt.Client) {
	if o.Active() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
		if err := o.Stop(ctx, "shutdown"); err != nil {
			log.Printf("scene stop on shutdown: %v", err)
		}
		cancel()
	}
	client.Disconnect()
	events.CloseAllSubscribers()
}
