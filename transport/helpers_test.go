// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosnmp/snmpengine"
)

const (
	testTimeout = 10 * time.Second

	sysDescrOID = ".1.3.6.1.2.1.1.1.0"
)

func testOptions(name string) Options {
	opts := Options{TimerResolution: 50 * time.Millisecond}
	if testing.Verbose() {
		opts.Logger = snmpengine.NewLogger(log.New(os.Stderr, fmt.Sprintf("[%s] ", name), 0))
	}
	return opts
}

func newEngine(t *testing.T, engineID string, config *snmpengine.LCD, td snmpengine.TransportDispatcher) *snmpengine.Engine {
	t.Helper()
	opts := snmpengine.EngineOptions{
		EngineID:  engineID,
		Config:    config,
		BootStore: snmpengine.NewMemoryBootStore(),
	}
	if testing.Verbose() {
		opts.Logger = snmpengine.NewLogger(log.New(os.Stderr, fmt.Sprintf("[%s] ", engineID), 0))
	}
	e, err := snmpengine.NewEngine(opts)
	require.NoError(t, err)
	require.NoError(t, e.RegisterTransportDispatcher(td))
	return e
}

// scalarMIB serves read-only scalars.
type scalarMIB map[string]snmpengine.VarBind

func (m scalarMIB) Get(_ string, oid string) snmpengine.VarBind {
	if vb, ok := m[oid]; ok {
		return vb
	}
	return snmpengine.VarBind{Name: oid, Type: snmpengine.NoSuchObject}
}

func (m scalarMIB) GetNext(_ string, oid string) snmpengine.VarBind {
	return snmpengine.VarBind{Name: oid, Type: snmpengine.EndOfMibView}
}

func (m scalarMIB) Set(string, []snmpengine.VarBind) (snmpengine.SNMPError, int) {
	return snmpengine.NotWritable, 1
}

func sysDescr(value string) scalarMIB {
	return scalarMIB{sysDescrOID: {Name: sysDescrOID, Type: snmpengine.OctetString, Value: []byte(value)}}
}

// communityConfigs returns the LCDs of a SNMPv2c manager whose target
// "agent" is at agentAddr and of the agent it polls.
func communityConfigs(t *testing.T, agentAddr string) (mgr, agent *snmpengine.LCD) {
	t.Helper()
	entry := snmpengine.CommunityEntry{Community: "public", SecurityName: "monitor"}
	mgr = snmpengine.NewLCD()
	require.NoError(t, mgr.AddCommunity(entry))
	require.NoError(t, mgr.AddTargetParams(snmpengine.TargetParams{
		Name:                   "v2c",
		MessageProcessingModel: snmpengine.Version2c,
		SecurityName:           "monitor",
	}))
	addr, err := net.ResolveUDPAddr("udp", agentAddr)
	require.NoError(t, err)
	require.NoError(t, mgr.AddTargetAddr(snmpengine.TargetAddr{
		Name:       "agent",
		Address:    addr,
		Timeout:    time.Second,
		RetryCount: 2,
		Params:     "v2c",
	}))
	require.NoError(t, mgr.Validate())

	agent = snmpengine.NewLCD()
	require.NoError(t, agent.AddCommunity(entry))
	require.NoError(t, agent.AddVacmUser(snmpengine.SNMPv2cSecurityModel, "monitor", snmpengine.NoAuthNoPriv, "", ".1.3.6.1.2.1", "", ""))
	return mgr, agent
}

// runner runs a dispatcher in the background until stopped.
type runner struct {
	cancel context.CancelFunc
	done   chan error
}

func start(ctx context.Context, run func(context.Context) error) *runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- run(ctx) }()
	return r
}

func (r *runner) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	require.NoError(t, <-r.done)
}

// getResult records the outcome of one Get.
type getResult struct {
	calls int
	err   error
	resp  *snmpengine.PDU
}

func (g *getResult) record(_ *snmpengine.Engine, _ snmpengine.SendHandle, err error, resp *snmpengine.PDU) {
	g.calls++
	g.err, g.resp = err, resp
}
