// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Command snmpnotify sends one notification to the targets selected by a
// notification entry of a YAML config and reports the outcome.
//
//	snmpnotify -config notify.yaml -notify alarms -oid .1.3.6.1.6.3.1.1.5.3 \
//		-var .1.3.6.1.2.1.2.2.1.1.3=i:3 -var .1.3.6.1.2.1.2.2.1.2.3=s:eth2
//
// It exits non-zero when no target received the notification.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/snmpengine"
	"github.com/gosnmp/snmpengine/transport"
)

const snmpTrapOID = ".1.3.6.1.6.3.1.1.4.1.0"

// varFlag collects -var oid=type:value arguments.
type varFlag []snmpengine.VarBind

func (v *varFlag) String() string {
	return fmt.Sprint(len(*v), " variables")
}

func (v *varFlag) Set(s string) error {
	vb, err := parseVarBind(s)
	if err != nil {
		return err
	}
	*v = append(*v, vb)
	return nil
}

// parseVarBind parses oid=type:value where type is one of i (Integer),
// u (Gauge32), c (Counter32), t (TimeTicks), s (OctetString), o (OID) or
// a (IPAddress).
func parseVarBind(s string) (snmpengine.VarBind, error) {
	oid, rest, ok := strings.Cut(s, "=")
	if !ok {
		return snmpengine.VarBind{}, fmt.Errorf("%q: want oid=type:value", s)
	}
	typ, value, ok := strings.Cut(rest, ":")
	if !ok {
		return snmpengine.VarBind{}, fmt.Errorf("%q: want oid=type:value", s)
	}
	vb := snmpengine.VarBind{Name: oid}
	switch typ {
	case "i":
		n, err := strconv.Atoi(value)
		if err != nil {
			return vb, err
		}
		vb.Type, vb.Value = snmpengine.Integer, n
	case "u", "c", "t":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return vb, err
		}
		vb.Type, vb.Value = map[string]snmpengine.Asn1BER{
			"u": snmpengine.Gauge32,
			"c": snmpengine.Counter32,
			"t": snmpengine.TimeTicks,
		}[typ], uint32(n)
	case "s":
		vb.Type, vb.Value = snmpengine.OctetString, []byte(value)
	case "o":
		vb.Type, vb.Value = snmpengine.ObjectIdentifier, value
	case "a":
		vb.Type, vb.Value = snmpengine.IPAddress, value
	default:
		return vb, fmt.Errorf("%q: unknown type %q", s, typ)
	}
	return vb, nil
}

func main() {
	var vars varFlag
	configFile := flag.String("config", "", "YAML configuration file")
	notifyName := flag.String("notify", "", "notification entry selecting the targets")
	trapOID := flag.String("oid", "", "snmpTrapOID.0 value identifying the notification")
	contextEngineID := flag.String("context-engine-id", "", "hex contextEngineID, required for TSM targets")
	contextName := flag.String("context", "", "context name")
	listenAddr := flag.String("listen", ":0", "local UDP address")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	verbose := flag.Bool("v", false, "log protocol events")
	flag.Var(&vars, "var", "additional variable binding, oid=type:value (repeatable)")
	flag.Parse()

	logger := log.New(os.Stderr, "snmpnotify: ", 0)
	if *configFile == "" || *notifyName == "" || *trapOID == "" {
		logger.Print("-config, -notify and -oid are required")
		flag.Usage()
		os.Exit(2)
	}

	ctxEngineID, err := parseHex(*contextEngineID)
	if err != nil {
		logger.Fatalf("-context-engine-id: %v", err)
	}
	varBinds := append([]snmpengine.VarBind{{
		Name:  snmpTrapOID,
		Type:  snmpengine.ObjectIdentifier,
		Value: *trapOID,
	}}, vars...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var engineLogger snmpengine.Logger
	if *verbose {
		engineLogger = snmpengine.NewLogger(logger)
	}
	if err := send(ctx, *configFile, *listenAddr, *notifyName, ctxEngineID, *contextName, varBinds, engineLogger); err != nil {
		logger.Fatal(err)
	}
	fmt.Println("notification delivered")
}

func send(ctx context.Context, configFile, listenAddr, notifyName, ctxEngineID, ctxName string,
	varBinds []snmpengine.VarBind, logger snmpengine.Logger,
) error {
	f, err := os.Open(configFile)
	if err != nil {
		return err
	}
	config, err := snmpengine.LoadConfig(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("loading %s: %w", configFile, err)
	}

	td := transport.NewUDPDispatcher(transport.Options{Logger: logger})
	defer td.Close()
	if _, err := td.Listen(listenAddr); err != nil {
		return err
	}
	e, err := snmpengine.NewEngine(snmpengine.EngineOptions{
		Config:    config,
		BootStore: snmpengine.NewMemoryBootStore(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.RegisterTransportDispatcher(td); err != nil {
		return err
	}

	var (
		finished bool
		outcome  error
	)
	_, err = snmpengine.NewNotificationOriginator().SendNotification(e, notifyName, ctxEngineID, ctxName, varBinds,
		func(_ *snmpengine.Engine, handle uint32, err error, resp *snmpengine.PDU) {
			finished, outcome = true, err
			if err == nil && resp != nil {
				fmt.Printf("notification %d acknowledged: %s\n", handle, resp.SafeString())
			}
		})
	if err != nil {
		return err
	}
	if err := td.RunUntilIdle(ctx); err != nil {
		return err
	}
	if !finished {
		if ctx.Err() != nil {
			return fmt.Errorf("notification not finished: %w", ctx.Err())
		}
		return errors.New("notification not finished")
	}
	return outcome
}

func parseHex(s string) (string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	return string(b), err
}
