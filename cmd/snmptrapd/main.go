// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Command snmptrapd receives SNMP notifications over UDP and, optionally,
// DTLS, logging each one and counting them as Prometheus metrics.
//
//	snmptrapd -config trapd.yaml -listen :162 -http :9162
//
// The YAML config supplies the communities, USM users, VACM views and
// certificate mappings used to accept notifications.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pion/dtls/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gosnmp/snmpengine"
	"github.com/gosnmp/snmpengine/transport"
)

var (
	configFile = flag.String("config", "", "YAML configuration file")
	listenAddr = flag.String("listen", ":162", "UDP address to receive notifications on")
	dtlsAddr   = flag.String("dtls-listen", "", "DTLS address to receive notifications on, empty disables")
	certFile   = flag.String("cert", "", "PEM certificate for the DTLS listener")
	keyFile    = flag.String("key", "", "PEM private key for the DTLS listener")
	caFile     = flag.String("ca", "", "PEM CA bundle used to verify DTLS peers")
	httpAddr   = flag.String("http", ":9162", "address serving /metrics and /healthz, empty disables")
	replayFile = flag.String("replay", "", "pcap or pcapng capture to replay into the UDP engine")
	replayPort = flag.Int("replay-port", 162, "UDP destination port replayed from the capture, 0 for all")
	bootsDir   = flag.String("boots", "", "directory persisting snmpEngineBoots")
	verbose    = flag.Bool("v", false, "log every notification and protocol event")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "snmptrapd: ", log.LstdFlags)
	if *configFile == "" {
		logger.Print("-config is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, logger); err != nil {
		logger.Fatal(err)
	}
}

type daemon struct {
	logger        *log.Logger
	registry      *prometheus.Registry
	notifications *prometheus.CounterVec
	healthy       atomic.Bool
}

func run(ctx context.Context, logger *log.Logger) error {
	d := &daemon{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snmptrapd_notifications_total",
			Help: "Notifications accepted, by transport and PDU type.",
		}, []string{"transport", "type"}),
	}
	d.registry.MustRegister(d.notifications, collectors.NewGoCollector())

	var engineLogger snmpengine.Logger
	if *verbose {
		engineLogger = snmpengine.NewLogger(logger)
	}
	opts := transport.Options{Logger: engineLogger}

	udp := transport.NewUDPDispatcher(opts)
	defer udp.Close()
	if _, err := udp.Listen(*listenAddr); err != nil {
		return fmt.Errorf("listening on %s: %w", *listenAddr, err)
	}
	if _, err := d.engine("udp", udp, engineLogger, d.registry); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return udp.Run(gctx) })

	if *dtlsAddr != "" {
		dtlsDispatcher, err := d.dtlsDispatcher(opts)
		if err != nil {
			return err
		}
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"transport": "dtls"}, d.registry)
		if _, err := d.engine("dtls", dtlsDispatcher, engineLogger, reg); err != nil {
			return err
		}
		g.Go(func() error { return dtlsDispatcher.Run(gctx) })
	}

	if *httpAddr != "" {
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           d.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *replayFile != "" {
		g.Go(func() error {
			f, err := os.Open(*replayFile)
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := transport.ReplayCapture(gctx, udp, f, *replayPort)
			if err != nil {
				return fmt.Errorf("replaying %s: %w", *replayFile, err)
			}
			d.logger.Printf("replayed %d messages from %s", n, *replayFile)
			return nil
		})
	}

	d.healthy.Store(true)
	d.logger.Printf("receiving notifications on %s", *listenAddr)
	err := g.Wait()
	d.healthy.Store(false)
	return err
}

// engine loads a fresh copy of the config and starts an engine with a
// notification receiver on td.
func (d *daemon) engine(name string, td snmpengine.TransportDispatcher, logger snmpengine.Logger, reg prometheus.Registerer) (*snmpengine.Engine, error) {
	config, err := loadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	var store snmpengine.BootStore = snmpengine.FileBootStore{Dir: *bootsDir}
	if name == "dtls" {
		// the UDP engine owns the persisted boot counter
		store = snmpengine.NewMemoryBootStore()
	}
	e, err := snmpengine.NewEngine(snmpengine.EngineOptions{
		Config:     config,
		BootStore:  store,
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", name, err)
	}
	if err := e.RegisterTransportDispatcher(td); err != nil {
		return nil, err
	}
	_, err = snmpengine.NewNotificationReceiver(e, "", func(e *snmpengine.Engine, in *snmpengine.IncomingPdu) {
		d.notifications.WithLabelValues(name, in.PDU.Type.String()).Inc()
		d.logger.Printf("%s from %v (%s %q): %s", in.PDU.Type, in.TransportAddress, in.SecurityModel, in.SecurityName, in.PDU.SafeString())
	})
	if err != nil {
		return nil, err
	}
	d.logger.Printf("%s engine %x ready", name, e.EngineID())
	return e, nil
}

func (d *daemon) dtlsDispatcher(opts transport.Options) (*transport.DTLSDispatcher, error) {
	if *certFile == "" || *keyFile == "" || *caFile == "" {
		return nil, errors.New("-dtls-listen needs -cert, -key and -ca")
	}
	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		return nil, err
	}
	pem, err := os.ReadFile(*caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", *caFile)
	}

	config, err := loadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	td := transport.NewDTLSDispatcher(opts, &dtls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ClientCAs:    pool,
	}, config.CertMappings())
	if _, err := td.Listen(*dtlsAddr); err != nil {
		return nil, fmt.Errorf("listening on %s: %w", *dtlsAddr, err)
	}
	return td, nil
}

func (d *daemon) router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !d.healthy.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}).Methods("GET")
	return router
}

func loadConfig(path string) (*snmpengine.LCD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	config, err := snmpengine.LoadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return config, nil
}
