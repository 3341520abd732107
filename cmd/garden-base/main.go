// Command garden-base runs the base station: it relays frames from the field
// unit through the LoRa bridge, reconciles actuator state with the operator
// panel and exports fused sensor readings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/garden/pkg/bridge"
	"github.com/itohio/garden/pkg/config"
	"github.com/itohio/garden/pkg/fusion"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/itohio/garden/pkg/sim"
	"github.com/itohio/garden/pkg/sink"
	"github.com/itohio/garden/pkg/station"
	"github.com/itohio/garden/pkg/watch"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		portFlag   = flag.String("p", "", "Bridge serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Simulate the field unit instead of using the bridge")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		ports, err := bridge.Ports()
		if err != nil {
			log.Fatalf("%v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Base.Bridge.Port = *portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := sink.Build(ctx, cfg.Base.Sinks)
	if err != nil {
		log.Fatalf("Failed to set up metrics sinks: %v", err)
	}
	defer sinks.Close()

	exporter := fusion.NewExporter(cfg.Base.Fusion, sinks)
	desired := station.NewDesired()
	status := watch.New[protocol.DeviceStatus]()
	srv := &server{desired: desired, status: status, exporter: exporter}

	errc := make(chan error, 4)

	var link radio.Link
	if *mockFlag {
		air := sim.NewAir(cfg.Base.Mock)
		field := sim.NewField(cfg.Base.Mock, air.FieldUnit())
		link = air.BaseStation()
		go func() { errc <- sim.Run(ctx, cfg.Field, field) }()
		log.Printf("Using simulated field unit")
	} else {
		dev := bridge.New(cfg.Base.Bridge.Port, cfg.Base.Bridge.BaudRate, bridge.DefaultBufferSize)
		if err := dev.Connect(); err != nil {
			log.Fatalf("Failed to connect to bridge: %v", err)
		}
		defer dev.Close()
		link = dev
		srv.signal = dev.Signal
		srv.connected = dev.IsConnected
		go func() { errc <- dev.Supervise(ctx, bridge.ReconnectBackOff()) }()
		log.Printf("Connected to bridge on %s", cfg.Base.Bridge.Port)
	}

	st := station.New(cfg.Base.Station, link, desired, exporter, status)
	go func() { errc <- st.Run(ctx) }()

	httpSrv := &http.Server{
		Addr:              cfg.Base.HTTP.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Printf("Serving operator panel on %s", cfg.Base.HTTP.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
	case err := <-errc:
		if err != nil {
			log.Printf("Stopping: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}
}
