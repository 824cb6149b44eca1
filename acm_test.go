// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVacmEngine(t *testing.T, config *LCD) (*Engine, AccessControlModel) {
	t.Helper()
	e, err := NewEngine(EngineOptions{EngineID: "vacm-engine", Config: config, BootStore: NewMemoryBootStore()})
	require.NoError(t, err)
	acm, err := e.AccessControlModel(ViewBasedAccessModel)
	require.NoError(t, err)
	return e, acm
}

func TestVacmIsAccessAllowed(t *testing.T) {
	c := NewLCD()
	c.AddContext("bridge1")
	require.NoError(t, c.AddVacmGroup(UserSecurityModel, "alice", "admins"))
	require.NoError(t, c.AddVacmGroup(SNMPv2cSecurityModel, "public", "readers"))
	require.NoError(t, c.AddVacmAccess(VacmAccess{
		GroupName:     "admins",
		SecurityModel: UserSecurityModel,
		SecurityLevel: AuthNoPriv,
		ReadView:      "all",
		WriteView:     "system",
		NotifyView:    "all",
	}))
	require.NoError(t, c.AddVacmAccess(VacmAccess{
		GroupName:     "readers",
		ContextPrefix: "bridge",
		ContextMatch:  ContextMatchPrefix,
		ReadView:      "system",
	}))
	require.NoError(t, c.AddVacmView(VacmViewEntry{ViewName: "all", Subtree: ".1", Included: true}))
	require.NoError(t, c.AddVacmView(VacmViewEntry{ViewName: "system", Subtree: ".1.3.6.1.2.1.1", Included: true}))
	require.NoError(t, c.AddVacmView(VacmViewEntry{ViewName: "system", Subtree: ".1.3.6.1.2.1.1.6", Included: false}))
	require.NoError(t, c.Validate())

	e, acm := newVacmEngine(t, c)

	tests := []struct {
		name    string
		model   SecurityModelID
		secName string
		level   SecurityLevel
		view    ViewType
		context string
		oid     string
		wantErr error
	}{
		{"read anything", UserSecurityModel, "alice", AuthPriv, ReadView, "", ".1.3.6.1.4.1.9.1", nil},
		{"write system", UserSecurityModel, "alice", AuthNoPriv, WriteView, "", ".1.3.6.1.2.1.1.5.0", nil},
		{"write outside system", UserSecurityModel, "alice", AuthNoPriv, WriteView, "", ".1.3.6.1.2.1.2.1.0", ErrNotInView},
		{"level too low", UserSecurityModel, "alice", NoAuthNoPriv, ReadView, "", ".1.3.6.1.2.1.1.5.0", ErrNoAccessEntry},
		{"wrong model", SNMPv2cSecurityModel, "alice", NoAuthNoPriv, ReadView, "", ".1.3.6.1.2.1.1.5.0", ErrNoGroupName},
		{"unknown context", UserSecurityModel, "alice", AuthPriv, ReadView, "nowhere", ".1.3.6.1.2.1.1.5.0", ErrNoSuchContext},
		{"prefix context", SNMPv2cSecurityModel, "public", NoAuthNoPriv, ReadView, "bridge1", ".1.3.6.1.2.1.1.5.0", nil},
		{"exact context required", SNMPv2cSecurityModel, "public", NoAuthNoPriv, ReadView, "", ".1.3.6.1.2.1.1.5.0", ErrNoAccessEntry},
		{"excluded subtree", SNMPv2cSecurityModel, "public", NoAuthNoPriv, ReadView, "bridge1", ".1.3.6.1.2.1.1.6.0", ErrNotInView},
		{"no notify view", SNMPv2cSecurityModel, "public", NoAuthNoPriv, NotifyView, "bridge1", ".1.3.6.1.2.1.1.5.0", ErrNoSuchView},
		{"view configured", SNMPv2cSecurityModel, "public", NoAuthNoPriv, ReadView, "bridge1", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := acm.IsAccessAllowed(e, tt.model, tt.secName, tt.level, tt.view, tt.context, tt.oid)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrAccessDenied)
		})
	}
}

func TestVacmBestAccess(t *testing.T) {
	c := NewLCD()
	c.AddContext("ctx-a")
	require.NoError(t, c.AddVacmGroup(UserSecurityModel, "alice", "g"))
	require.NoError(t, c.AddVacmAccess(VacmAccess{GroupName: "g", ContextPrefix: "ctx", ContextMatch: ContextMatchPrefix, ReadView: "any-model"}))
	require.NoError(t, c.AddVacmAccess(VacmAccess{GroupName: "g", ContextPrefix: "ctx", ContextMatch: ContextMatchPrefix, SecurityModel: UserSecurityModel, ReadView: "usm-prefix"}))
	require.NoError(t, c.AddVacmAccess(VacmAccess{GroupName: "g", ContextPrefix: "ctx-a", SecurityModel: UserSecurityModel, ReadView: "usm-exact"}))
	require.NoError(t, c.AddVacmAccess(VacmAccess{GroupName: "g", ContextPrefix: "ctx-a", SecurityModel: UserSecurityModel, SecurityLevel: AuthPriv, ReadView: "usm-exact-priv"}))

	a, ok := c.bestAccess("g", UserSecurityModel, AuthPriv, "ctx-a")
	require.True(t, ok)
	assert.Equal(t, "usm-exact-priv", a.ReadView)

	a, ok = c.bestAccess("g", UserSecurityModel, AuthNoPriv, "ctx-a")
	require.True(t, ok)
	assert.Equal(t, "usm-exact", a.ReadView)

	a, ok = c.bestAccess("g", UserSecurityModel, NoAuthNoPriv, "ctx-b")
	require.True(t, ok)
	assert.Equal(t, "usm-prefix", a.ReadView)

	a, ok = c.bestAccess("g", TransportSecurityModel, AuthPriv, "ctx-b")
	require.True(t, ok)
	assert.Equal(t, "any-model", a.ReadView)

	_, ok = c.bestAccess("g", UserSecurityModel, AuthPriv, "other")
	assert.False(t, ok)
}

func TestVacmViewMask(t *testing.T) {
	c := NewLCD()
	// ifEntry columns for interface 2 only: the column position is a wildcard
	require.NoError(t, c.AddVacmView(VacmViewEntry{
		ViewName: "if2",
		Subtree:  ".1.3.6.1.2.1.2.2.1.1.2",
		Mask:     []byte{0xff, 0xa0},
		Included: true,
	}))

	in := func(oid string) bool {
		subids, err := parseOIDString(oid)
		require.NoError(t, err)
		return c.inView("if2", subids)
	}
	assert.True(t, in(".1.3.6.1.2.1.2.2.1.1.2"))
	assert.True(t, in(".1.3.6.1.2.1.2.2.1.10.2"))
	assert.False(t, in(".1.3.6.1.2.1.2.2.1.10.3"))
	assert.False(t, in(".1.3.6.1.2.1.2.2"))
	assert.False(t, c.inView("missing", []uint32{1, 3}))
}

func TestVoidAccessModel(t *testing.T) {
	e, err := NewEngine(EngineOptions{EngineID: "void-engine", BootStore: NewMemoryBootStore()})
	require.NoError(t, err)
	acm, err := e.AccessControlModel(VoidAccessModel)
	require.NoError(t, err)
	assert.NoError(t, acm.IsAccessAllowed(e, UserSecurityModel, "anyone", NoAuthNoPriv, WriteView, "", ".1.3"))

	_, err = e.AccessControlModel(AccessModelID(99))
	assert.ErrorIs(t, err, ErrUnsupportedAccessModel)
}

func TestAddVacmUser(t *testing.T) {
	c := NewLCD()
	require.NoError(t, c.AddVacmUser(SNMPv2cSecurityModel, "public", NoAuthNoPriv, "", ".1.3.6.1.2.1", "", ".1.3.6.1.6.3.1.1.5"))
	require.NoError(t, c.Validate())
	e, acm := newVacmEngine(t, c)

	assert.NoError(t, acm.IsAccessAllowed(e, SNMPv2cSecurityModel, "public", NoAuthNoPriv, ReadView, "", ".1.3.6.1.2.1.1.1.0"))
	assert.ErrorIs(t, acm.IsAccessAllowed(e, SNMPv2cSecurityModel, "public", NoAuthNoPriv, WriteView, "", ".1.3.6.1.2.1.1.1.0"), ErrNoSuchView)
	assert.NoError(t, acm.IsAccessAllowed(e, SNMPv2cSecurityModel, "public", NoAuthNoPriv, NotifyView, "", ".1.3.6.1.6.3.1.1.5.1"))
}
