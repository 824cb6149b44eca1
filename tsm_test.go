// Copyright 2025 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, engineID string) *Engine {
	t.Helper()
	e, err := NewEngine(EngineOptions{
		EngineID:  engineID,
		BootStore: NewMemoryBootStore(),
		Clock:     clock.NewMock(),
	})
	require.NoError(t, err)
	return e
}

func TestTSMConstants(t *testing.T) {
	assert.Equal(t, SecurityModelID(4), TransportSecurityModel)
	assert.Equal(t, "tsm", TransportSecurityModel.String())

	e := newTestEngine(t, "tsm-engine")
	sm, err := e.SecurityModel(TransportSecurityModel)
	require.NoError(t, err)
	assert.Equal(t, TransportSecurityModel, sm.ID())
}

func TestTSMValidateLevel(t *testing.T) {
	m := newTSM()
	assert.NoError(t, m.validate(AuthPriv))
	assert.ErrorIs(t, m.validate(NoAuthNoPriv), ErrUnknownSecurityLevel)
	assert.ErrorIs(t, m.validate(AuthNoPriv), ErrUnknownSecurityLevel)
}

func TestTSMRequiresSecureDomain(t *testing.T) {
	e := newTestEngine(t, "tsm-engine")
	m := newTSM()

	out := &OutgoingMessage{
		MessageProcessingModel: Version3,
		SecurityLevel:          AuthPriv,
		SecurityName:           "mgr",
		TransportDomain:        UDPIPv4Domain,
	}
	_, _, err := m.GenerateRequestMsg(e, out)
	assert.ErrorIs(t, err, ErrUnsecuredTransport)
	assert.Zero(t, m.names.size(), "no state kept for a failed request")

	out.SecurityLevel = AuthNoPriv
	out.TransportDomain = DTLSUDPDomain
	_, _, err = m.GenerateRequestMsg(e, out)
	assert.ErrorIs(t, err, ErrUnknownSecurityLevel)
}

func TestTSMProcessIncoming(t *testing.T) {
	udp := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 10161}

	tests := []struct {
		name    string
		in      IncomingMessage
		wantErr error
		want    string
	}{
		{
			name: "security parameters present",
			in: IncomingMessage{
				SecurityLevel:      AuthPriv,
				SecurityParameters: []byte{0x01},
				TransportAddress:   testSecureAddr{UDPAddr: udp, name: "mgr"},
			},
			wantErr: ErrParse,
		},
		{
			name: "plain udp address",
			in: IncomingMessage{
				SecurityLevel:    AuthPriv,
				TransportAddress: udp,
			},
			wantErr: ErrUnsecuredTransport,
		},
		{
			name: "no tmSecurityName",
			in: IncomingMessage{
				SecurityLevel:    AuthPriv,
				TransportAddress: testSecureAddr{UDPAddr: udp},
			},
			wantErr: ErrUnknownSecurityName,
		},
		{
			name: "level below authPriv",
			in: IncomingMessage{
				SecurityLevel:    AuthNoPriv,
				TransportAddress: testSecureAddr{UDPAddr: udp, name: "mgr"},
			},
			wantErr: ErrUnknownSecurityLevel,
		},
		{
			name: "accepted",
			in: IncomingMessage{
				SecurityLevel:    AuthPriv,
				MaxMessageSize:   1400,
				Reportable:       true,
				ScopedPDUData:    []byte{0x30, 0x00},
				TransportAddress: testSecureAddr{UDPAddr: udp, name: "mgr"},
			},
			want: "mgr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "tsm-engine")
			m := newTSM()
			res, err := m.ProcessIncomingMsg(e, &tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.SecurityName)
			assert.Equal(t, e.EngineID(), res.SecurityEngineID)
			assert.Equal(t, 1400, res.MaxSizeResponse)
			assert.NotZero(t, res.SecurityStateReference)
			assert.Equal(t, 1, m.names.size())
		})
	}
}

func TestTSMParseErrorCounted(t *testing.T) {
	e := newTestEngine(t, "tsm-engine")
	m := newTSM()
	_, err := m.ProcessIncomingMsg(e, &IncomingMessage{SecurityLevel: AuthPriv, Encrypted: true})
	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, uint32(1), e.Stats().InASNParseErrs)
}

func TestTSMStateLifecycle(t *testing.T) {
	e := newTestEngine(t, "tsm-engine")
	m := newTSM()
	addr := testSecureAddr{UDPAddr: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 10161}, name: "mgr"}

	res, err := m.ProcessIncomingMsg(e, &IncomingMessage{
		SecurityLevel:    AuthPriv,
		Reportable:       true,
		TransportAddress: addr,
	})
	require.NoError(t, err)

	_, err = m.GenerateResponseMsg(e, &OutgoingMessage{
		SecurityLevel:   AuthPriv,
		TransportDomain: DTLSUDPDomain,
		GlobalData:      []byte{0x30, 0x00},
		ScopedPDU:       []byte{0x30, 0x00},
	}, res.SecurityStateReference)
	require.NoError(t, err)
	assert.Zero(t, m.names.size())

	_, err = m.GenerateResponseMsg(e, &OutgoingMessage{TransportDomain: DTLSUDPDomain}, res.SecurityStateReference)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// unanswered state expires
	res, err = m.ProcessIncomingMsg(e, &IncomingMessage{
		SecurityLevel:    AuthPriv,
		Reportable:       true,
		TransportAddress: addr,
	})
	require.NoError(t, err)
	m.ReceiveTimerTick(e, e.Clock().Now().Add(responseStateTTL+time.Second))
	assert.Zero(t, m.names.size())

	// request state lives until the dispatcher releases it
	_, ref, err := m.GenerateRequestMsg(e, &OutgoingMessage{
		SecurityLevel:   AuthPriv,
		SecurityName:    "mgr",
		TransportDomain: DTLSUDPDomain,
		GlobalData:      []byte{0x30, 0x00},
		ScopedPDU:       []byte{0x30, 0x00},
	})
	require.NoError(t, err)
	m.ReceiveTimerTick(e, e.Clock().Now().Add(responseStateTTL+time.Hour))
	assert.Equal(t, 1, m.names.size())
	m.ReleaseStateInformation(ref)
	assert.Zero(t, m.names.size())
}

// TestTSMGetOverSecureTransport runs a Get between two engines whose
// transports present certificate-derived names.
func TestTSMGetOverSecureTransport(t *testing.T) {
	n := newTestNet(t)

	mgrConfig := NewLCD()
	require.NoError(t, mgrConfig.AddTargetParams(TargetParams{
		Name:                   "tsm",
		MessageProcessingModel: Version3,
		SecurityModel:          TransportSecurityModel,
		SecurityName:           "mgr",
		SecurityLevel:          AuthPriv,
	}))
	require.NoError(t, mgrConfig.AddTargetAddr(TargetAddr{
		Name:    "agent",
		Domain:  DTLSUDPDomain,
		Address: mustUDPAddr(t, "127.0.0.1:10161"),
		Timeout: time.Second,
		Params:  "tsm",
	}))
	require.NoError(t, mgrConfig.Validate())

	agentConfig := NewLCD()
	require.NoError(t, agentConfig.AddVacmUser(TransportSecurityModel, "mgr", AuthPriv, "", ".1.3.6.1.2.1.1", "", ""))

	mgr, mgrNet := n.engine("127.0.0.1:10162", "tsm-manager", mgrConfig)
	agent, agentNet := n.engine("127.0.0.1:10161", "tsm-agent", agentConfig)
	// each side sees the other under the name its certificate maps to
	mgrNet.tmName = "mgr"
	agentNet.tmName = "agent.example.org"

	_, err := NewCommandResponder(agent, "", newMapMIB(
		VarBind{Name: ".1.3.6.1.2.1.1.5.0", Type: OctetString, Value: []byte("agent")},
	))
	require.NoError(t, err)

	var got *PDU
	var gotErr error
	calls := 0
	_, err = CommandGenerator{}.SendVarBinds(mgr, "agent", agent.EngineID(), "",
		&PDU{Type: GetRequest, Variables: nullVarBinds([]string{".1.3.6.1.2.1.1.5.0"})},
		func(_ *Engine, _ SendHandle, err error, resp *PDU) {
			calls++
			got, gotErr = resp, err
		})
	require.NoError(t, err)
	n.pump()

	require.Equal(t, 1, calls)
	require.NoError(t, gotErr)
	require.Len(t, got.Variables, 1)
	assert.Equal(t, []byte("agent"), got.Variables[0].Value)
	assert.Zero(t, mgr.Dispatcher().Pending())

	// a name outside every VACM group is refused
	agentNet.tmName = "intruder"
	mgrNet.tmName = "intruder"
	calls = 0
	_, err = CommandGenerator{}.SendVarBinds(mgr, "agent", agent.EngineID(), "",
		&PDU{Type: GetRequest, Variables: nullVarBinds([]string{".1.3.6.1.2.1.1.5.0"})},
		func(_ *Engine, _ SendHandle, err error, resp *PDU) {
			calls++
			got, gotErr = resp, err
		})
	require.NoError(t, err)
	n.pump()
	require.Equal(t, 1, calls)
	require.NoError(t, gotErr)
	assert.Equal(t, AuthorizationError, got.ErrorStatus)
}
