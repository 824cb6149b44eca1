// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// communityPair returns a manager with SNMPv1 and SNMPv2c targets "v1" and
// "v2c" and an agent serving systemMIB to community "public".
func communityPair(t *testing.T, n *testNet) (*Engine, *Engine, *CommandResponder) {
	t.Helper()
	mgrConfig := NewLCD()
	require.NoError(t, mgrConfig.AddCommunity(CommunityEntry{Name: "pub", Community: "public", SecurityName: "pub"}))
	addTarget(t, mgrConfig, "v1", testAgentAddr, Version1, "pub", NoAuthNoPriv)
	addTarget(t, mgrConfig, "v2c", testAgentAddr, Version2c, "pub", NoAuthNoPriv)
	require.NoError(t, mgrConfig.Validate())

	agentConfig := NewLCD()
	require.NoError(t, agentConfig.AddCommunity(CommunityEntry{Name: "pub", Community: "public", SecurityName: "pub"}))
	for _, model := range []SecurityModelID{SNMPv1SecurityModel, SNMPv2cSecurityModel} {
		require.NoError(t, agentConfig.AddVacmUser(model, "pub", NoAuthNoPriv, "", ".1.3.6.1.2.1", ".1.3.6.1.2.1.1", ""))
	}

	mgr, _ := n.engine(testManagerAddr, "cmd-manager", mgrConfig)
	agent, _ := n.engine(testAgentAddr, "cmd-agent", agentConfig)
	rsp, err := NewCommandResponder(agent, "", systemMIB())
	require.NoError(t, err)
	return mgr, agent, rsp
}

func TestCommandResponderGet(t *testing.T) {
	n := newTestNet(t)
	mgr, _, _ := communityPair(t, n)

	var r result
	_, err := CommandGenerator{}.Get(mgr, "v2c", "", []string{
		"1.3.6.1.2.1.1.1.0",
		".1.3.6.1.2.1.1.99.0",
		".1.3.6.1.4.1.9.1.0",
	}, r.record)
	require.NoError(t, err)
	n.pump()

	require.Equal(t, 1, r.calls)
	require.NoError(t, r.err)
	want := []VarBind{
		{Name: ".1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("test agent")},
		{Name: ".1.3.6.1.2.1.1.99.0", Type: NoSuchObject},
		{Name: ".1.3.6.1.4.1.9.1.0", Type: NoSuchObject},
	}
	if diff := cmp.Diff(want, r.pdu.Variables); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandResponderGetV1(t *testing.T) {
	n := newTestNet(t)
	mgr, _, _ := communityPair(t, n)

	var r result
	_, err := CommandGenerator{}.Get(mgr, "v1", "", []string{".1.3.6.1.2.1.1.5.0", ".1.3.6.1.2.1.1.99.0"}, r.record)
	require.NoError(t, err)
	n.pump()

	require.Equal(t, 1, r.calls)
	require.NoError(t, r.err)
	// SNMPv1 has no exceptions, the agent answers noSuchName
	assert.Equal(t, NoSuchName, r.pdu.ErrorStatus)
	assert.Equal(t, 2, r.pdu.ErrorIndex)
	assert.Equal(t, NoSuchObject, r.pdu.Variables[1].Type)
}

func TestCommandResponderGetNext(t *testing.T) {
	n := newTestNet(t)
	mgr, _, _ := communityPair(t, n)

	var r result
	_, err := CommandGenerator{}.GetNext(mgr, "v2c", "", []string{".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.2.1.0"}, r.record)
	require.NoError(t, err)
	n.pump()

	require.NoError(t, r.err)
	want := []VarBind{
		{Name: ".1.3.6.1.2.1.1.3.0", Type: TimeTicks, Value: uint32(4200)},
		// .1.3.6.1.4.1.9.1.0 follows but is outside the view
		{Name: ".1.3.6.1.2.1.2.1.0", Type: EndOfMibView},
	}
	if diff := cmp.Diff(want, r.pdu.Variables); diff != "" {
		t.Errorf("GetNext mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandResponderGetBulk(t *testing.T) {
	n := newTestNet(t)
	mgr, agent, _ := communityPair(t, n)

	var r result
	_, err := CommandGenerator{}.GetBulk(mgr, "v2c", "", []string{".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.1"}, 1, 3, r.record)
	require.NoError(t, err)
	n.pump()

	require.NoError(t, r.err)
	names := make([]string, len(r.pdu.Variables))
	for i, vb := range r.pdu.Variables {
		names[i] = vb.Name
	}
	assert.Equal(t, []string{
		".1.3.6.1.2.1.1.3.0",
		".1.3.6.1.2.1.1.1.0",
		".1.3.6.1.2.1.1.3.0",
		".1.3.6.1.2.1.1.5.0",
	}, names)

	// repetitions stop at the end of the view
	_, err = CommandGenerator{}.GetBulk(mgr, "v2c", "", []string{".1.3.6.1.2.1.2"}, 0, 10, r.record)
	require.NoError(t, err)
	n.pump()
	require.NoError(t, r.err)
	require.Len(t, r.pdu.Variables, 2)
	assert.Equal(t, VarBind{Name: ".1.3.6.1.2.1.2.1.0", Type: EndOfMibView}, r.pdu.Variables[1])

	// a small message size truncates the response
	agent.maxMessageSize = responseOverhead + 30
	_, err = CommandGenerator{}.GetBulk(mgr, "v2c", "", []string{".1.3.6.1.2.1.1"}, 0, 10, r.record)
	require.NoError(t, err)
	n.pump()
	require.NoError(t, r.err)
	assert.Len(t, r.pdu.Variables, 1)
	assert.Equal(t, NoError, r.pdu.ErrorStatus)

	// a non-repeater that does not fit is tooBig
	agent.maxMessageSize = responseOverhead + 8
	_, err = CommandGenerator{}.GetBulk(mgr, "v2c", "", []string{".1.3.6.1.2.1.1"}, 1, 10, r.record)
	require.NoError(t, err)
	n.pump()
	require.NoError(t, r.err)
	assert.Equal(t, TooBig, r.pdu.ErrorStatus)
}

func TestCommandResponderSet(t *testing.T) {
	n := newTestNet(t)
	mgr, _, rsp := communityPair(t, n)
	mib := rsp.mib.(*mapMIB)

	tests := []struct {
		name       string
		vbs        []VarBind
		wantStatus SNMPError
		wantIndex  int
	}{
		{
			name: "sysName",
			vbs:  []VarBind{{Name: ".1.3.6.1.2.1.1.5.0", Type: OctetString, Value: []byte("renamed")}},
		},
		{
			name:       "outside write view",
			vbs:        []VarBind{{Name: ".1.3.6.1.2.1.1.6.0", Type: OctetString, Value: []byte("x")}, {Name: ".1.3.6.1.2.1.2.1.0", Type: Integer, Value: 3}},
			wantStatus: NoAccess,
			wantIndex:  2,
		},
		{
			name:       "wrong type",
			vbs:        []VarBind{{Name: ".1.3.6.1.2.1.1.6.0", Type: Integer, Value: 1}},
			wantStatus: WrongType,
			wantIndex:  1,
		},
		{
			name:       "no creation",
			vbs:        []VarBind{{Name: ".1.3.6.1.2.1.1.9.0", Type: Integer, Value: 1}},
			wantStatus: NoCreation,
			wantIndex:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r result
			_, err := CommandGenerator{}.Set(mgr, "v2c", "", tt.vbs, r.record)
			require.NoError(t, err)
			n.pump()
			require.Equal(t, 1, r.calls)
			require.NoError(t, r.err)
			assert.Equal(t, tt.wantStatus, r.pdu.ErrorStatus)
			assert.Equal(t, tt.wantIndex, r.pdu.ErrorIndex)
		})
	}
	assert.Equal(t, []byte("renamed"), mib.Get("", ".1.3.6.1.2.1.1.5.0").Value)
	assert.Equal(t, []byte("lab"), mib.Get("", ".1.3.6.1.2.1.1.6.0").Value, "failed sets change nothing")
}

func TestCommandResponderDenied(t *testing.T) {
	n := newTestNet(t)
	mgr, agent, _ := communityPair(t, n)
	require.NoError(t, agent.config.AddCommunity(CommunityEntry{Name: "guest", Community: "guest", SecurityName: "guest"}))
	require.NoError(t, mgr.config.AddCommunity(CommunityEntry{Name: "guest", Community: "guest", SecurityName: "guest"}))
	addTarget(t, mgr.config, "guest", testAgentAddr, Version2c, "guest", NoAuthNoPriv)

	var r result
	_, err := CommandGenerator{}.Get(mgr, "guest", "", []string{".1.3.6.1.2.1.1.5.0"}, r.record)
	require.NoError(t, err)
	n.pump()
	require.NoError(t, r.err)
	assert.Equal(t, AuthorizationError, r.pdu.ErrorStatus)
	assert.Equal(t, 1, r.pdu.ErrorIndex)
}

func TestCommandResponderClose(t *testing.T) {
	n := newTestNet(t)
	mgr, agent, rsp := communityPair(t, n)
	rsp.Close(agent)

	var r result
	_, err := CommandGenerator{}.Get(mgr, "v2c", "", []string{".1.3.6.1.2.1.1.5.0"}, r.record)
	require.NoError(t, err)
	n.advance(3 * time.Second)
	require.Equal(t, 1, r.calls)
	assert.ErrorIs(t, r.err, ErrRequestTimedOut)
	assert.Equal(t, uint32(2), agent.Stats().UnknownPDUHandlers)
}

func TestWalk(t *testing.T) {
	for _, target := range []string{"v1", "v2c"} {
		t.Run(target, func(t *testing.T) {
			n := newTestNet(t)
			mgr, _, _ := communityPair(t, n)

			var got []string
			done := 0
			var doneErr error
			err := CommandGenerator{}.Walk(mgr, target, "", ".1.3.6.1.2.1.1", func(vb VarBind) error {
				got = append(got, vb.Name)
				return nil
			}, func(_ *Engine, err error) {
				done++
				doneErr = err
			})
			require.NoError(t, err)
			n.pump()

			require.Equal(t, 1, done)
			require.NoError(t, doneErr)
			assert.Equal(t, []string{".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.1.3.0", ".1.3.6.1.2.1.1.5.0", ".1.3.6.1.2.1.1.6.0"}, got)
		})
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	n := newTestNet(t)
	mgr, _, _ := communityPair(t, n)

	stop := assert.AnError
	var doneErr error
	seen := 0
	err := CommandGenerator{}.Walk(mgr, "v2c", "", ".1.3.6.1.2.1", func(VarBind) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	}, func(_ *Engine, err error) { doneErr = err })
	require.NoError(t, err)
	n.pump()
	assert.ErrorIs(t, doneErr, stop)
	assert.Equal(t, 2, seen)

	err = CommandGenerator{}.Walk(mgr, "v2c", "", "not-an-oid", nil, nil)
	assert.Error(t, err)
}

func TestWalkConsume(t *testing.T) {
	root, err := parseOIDString(".1.3.6.1.2.1.1")
	require.NoError(t, err)
	w := &walk{root: root, last: root, fn: func(VarBind) error { return nil }}

	next, err := w.consume(&PDU{Variables: []VarBind{{Name: ".1.3.6.1.2.1.1.1.0", Type: Integer, Value: 1}}})
	require.NoError(t, err)
	assert.Equal(t, ".1.3.6.1.2.1.1.1.0", next)

	// an agent going backwards is an error rather than a loop
	_, err = w.consume(&PDU{Variables: []VarBind{{Name: ".1.3.6.1.2.1.1.1.0", Type: Integer, Value: 1}}})
	assert.Error(t, err)

	next, err = w.consume(&PDU{Variables: []VarBind{{Name: ".1.3.6.1.2.1.2.1.0", Type: Integer, Value: 1}}})
	require.NoError(t, err)
	assert.Empty(t, next)

	next, err = w.consume(&PDU{ErrorStatus: NoSuchName})
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = w.consume(&PDU{ErrorStatus: GenErr, ErrorIndex: 1})
	assert.ErrorIs(t, err, ErrErrorStatus)
}

func TestMapMIBOrdersNumerically(t *testing.T) {
	m := newMapMIB(
		VarBind{Name: ".1.3.6.1.2.1.1.10.0", Type: Integer, Value: 10},
		VarBind{Name: "1.3.6.1.2.1.1.9.0", Type: Integer, Value: 9},
		VarBind{Name: ".1.3.6.1.2.1.1", Type: Integer, Value: 0},
	)
	var names []string
	for _, vb := range m.vars {
		names = append(names, vb.Name)
	}
	assert.Equal(t, []string{".1.3.6.1.2.1.1", ".1.3.6.1.2.1.1.9.0", ".1.3.6.1.2.1.1.10.0"}, names)
	assert.Equal(t, ".1.3.6.1.2.1.1.10.0", m.GetNext("", ".1.3.6.1.2.1.1.9.0").Name)
	assert.Equal(t, EndOfMibView, m.GetNext("", ".1.3.6.1.2.1.1.10.0").Type)
}
