// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// defaultMaxMessageSize is the largest UDP payload over IPv4.
	defaultMaxMessageSize = 65507

	// engineIDEnterprise is the private enterprise number used to build
	// engine IDs that were not configured explicitly.
	engineIDEnterprise = 20408

	maxEngineBoots = math.MaxInt32
)

// EngineOptions configures NewEngine. Every field is optional.
type EngineOptions struct {
	// EngineID is the local snmpEngineID. When empty the engine ID from
	// Config is used, and failing that one derived from the host name.
	EngineID string

	// MaxMessageSize bounds outgoing messages and is advertised to peers
	// as msgMaxSize. Defaults to 65507.
	MaxMessageSize int

	// BootStore persists snmpEngineBoots. Defaults to a FileBootStore.
	BootStore BootStore

	// Config is the local configuration datastore. Defaults to an empty one.
	Config *LCD

	Logger Logger

	// Clock drives snmpEngineTime and sysUpTime. Defaults to the wall clock.
	Clock clock.Clock

	// Registerer, when set, receives the engine's protocol counters.
	Registerer prometheus.Registerer
}

// Engine is an SNMP engine: the identity shared by every message it sends
// or receives, plus the registries of message processing, security and
// access control models and the dispatcher that ties them to a transport.
//
// An Engine is not safe for concurrent use. All calls, including transport
// callbacks, must come from one goroutine, which is what the transport
// dispatchers in the transport package provide.
type Engine struct {
	Logger Logger

	engineID       string
	boots          uint32
	startTime      time.Time
	maxMessageSize int
	clock          clock.Clock
	config         *LCD
	stats          *engineStats
	registerer     prometheus.Registerer

	dispatcher     *Dispatcher
	mpModels       map[SnmpVersion]MessageProcessingModel
	securityModels map[SecurityModelID]SecurityModel
	accessModels   map[AccessModelID]AccessControlModel
	transport      TransportDispatcher

	userContext map[string]any
}

// NewEngine creates an engine, bumping and persisting its boot counter.
func NewEngine(opts EngineOptions) (*Engine, error) {
	e := &Engine{
		Logger:         opts.Logger,
		maxMessageSize: opts.MaxMessageSize,
		clock:          opts.Clock,
		config:         opts.Config,
	}
	if e.maxMessageSize <= 0 {
		e.maxMessageSize = defaultMaxMessageSize
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.config == nil {
		e.config = NewLCD()
	}

	switch {
	case opts.EngineID != "":
		e.engineID = opts.EngineID
	case e.config.EngineID != "":
		e.engineID = e.config.EngineID
	default:
		e.engineID = DefaultEngineID()
	}
	if len(e.engineID) < 5 || len(e.engineID) > 32 {
		return nil, fmt.Errorf("%w: length %d, must be 5 to 32 octets", ErrInvalidEngineID, len(e.engineID))
	}

	store := opts.BootStore
	if store == nil {
		store = FileBootStore{}
	}
	e.boots = e.nextBoots(store)
	e.startTime = e.clock.Now()

	e.stats = newEngineStats(e.engineID)
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(e.stats); err != nil {
			return nil, fmt.Errorf("registering engine metrics: %w", err)
		}
		e.registerer = opts.Registerer
	}

	e.dispatcher = newDispatcher()
	e.mpModels = map[SnmpVersion]MessageProcessingModel{
		Version1:  newCommunityMPModel(Version1),
		Version2c: newCommunityMPModel(Version2c),
		Version3:  newV3MPModel(),
	}
	e.securityModels = map[SecurityModelID]SecurityModel{
		SNMPv1SecurityModel:    newCommunitySecurityModel(SNMPv1SecurityModel),
		SNMPv2cSecurityModel:   newCommunitySecurityModel(SNMPv2cSecurityModel),
		UserSecurityModel:      newUSM(),
		TransportSecurityModel: newTSM(),
	}
	e.accessModels = map[AccessModelID]AccessControlModel{
		VoidAccessModel:      voidAccessModel{},
		ViewBasedAccessModel: vacm{},
	}

	e.Logger.Printf("engine %x started, boots %d", e.engineID, e.boots)
	return e, nil
}

// nextBoots loads, increments and stores the boot counter. A counter that
// cannot be persisted is not trusted and the engine runs with 1 instead.
func (e *Engine) nextBoots(store BootStore) uint32 {
	boots, err := store.LoadBoots(e.engineID)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		e.Logger.Printf("WARNING: unable to load engine boots: %v", err)
	}
	if boots < maxEngineBoots {
		boots++
	}
	if err := store.StoreBoots(e.engineID, boots); err != nil {
		e.Logger.Printf("WARNING: unable to persist engine boots, using 1: %v", err)
		return 1
	}
	return boots
}

// DefaultEngineID builds an RFC 3411 engine ID in the administratively
// assigned octets format from a name-based UUID of the host name, so it is
// stable across restarts on the same host.
func DefaultEngineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host))

	out := make([]byte, 5, 5+len(id))
	binary.BigEndian.PutUint32(out, 0x80000000|engineIDEnterprise)
	out[4] = 5
	return string(append(out, id[:]...))
}

func (e *Engine) EngineID() string {
	return e.engineID
}

// EngineBoots returns snmpEngineBoots.
func (e *Engine) EngineBoots() uint32 {
	return e.boots
}

// EngineTime returns snmpEngineTime, the seconds since the engine started.
func (e *Engine) EngineTime() uint32 {
	return uint32(e.clock.Since(e.startTime) / time.Second)
}

// SysUpTime returns the hundredths of a second since the engine started.
func (e *Engine) SysUpTime() uint32 {
	return uint32(e.clock.Since(e.startTime) / (10 * time.Millisecond))
}

func (e *Engine) MaxMessageSize() int {
	return e.maxMessageSize
}

// Config returns the local configuration datastore.
func (e *Engine) Config() *LCD {
	return e.config
}

func (e *Engine) Clock() clock.Clock {
	return e.clock
}

func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Stats returns a snapshot of the protocol counters.
func (e *Engine) Stats() Statistics {
	return e.stats.snapshot()
}

// MessageProcessingModel returns the model registered for version.
func (e *Engine) MessageProcessingModel(version SnmpVersion) (MessageProcessingModel, error) {
	m, ok := e.mpModels[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMPModel, version)
	}
	return m, nil
}

// SecurityModel returns the model registered under id.
func (e *Engine) SecurityModel(id SecurityModelID) (SecurityModel, error) {
	m, ok := e.securityModels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSecurityModels, id)
	}
	return m, nil
}

// AccessControlModel returns the model registered under id.
func (e *Engine) AccessControlModel(id AccessModelID) (AccessControlModel, error) {
	m, ok := e.accessModels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAccessModel, id)
	}
	return m, nil
}

// TransportDispatcher returns the registered transport, or nil.
func (e *Engine) TransportDispatcher() TransportDispatcher {
	return e.transport
}

// RegisterTransportDispatcher attaches the engine to a transport. Attaching
// the transport that is already registered is a no-op.
func (e *Engine) RegisterTransportDispatcher(t TransportDispatcher) error {
	if e.transport != nil {
		if e.transport == t {
			return nil
		}
		return ErrTransportAlreadyAttached
	}
	t.RegisterRecvCallback(e.receiveMessage)
	t.RegisterTimerCallback(e.receiveTimerTick)
	e.transport = t
	return nil
}

// UnregisterTransportDispatcher detaches the current transport, if any.
func (e *Engine) UnregisterTransportDispatcher() {
	if e.transport == nil {
		return
	}
	e.transport.UnregisterRecvCallback()
	e.transport.UnregisterTimerCallback()
	e.transport = nil
}

// Close detaches the transport and withdraws the engine's metrics.
func (e *Engine) Close() {
	e.UnregisterTransportDispatcher()
	if e.registerer != nil {
		e.registerer.Unregister(e.stats)
		e.registerer = nil
	}
}

func (e *Engine) receiveMessage(domain TransportDomain, addr net.Addr, msg []byte) {
	e.dispatcher.ReceiveMessage(e, domain, addr, msg)
}

// receiveTimerTick fans one tick out to the dispatcher and every model, in
// a fixed order.
func (e *Engine) receiveTimerTick(now time.Time) {
	e.dispatcher.ReceiveTimerTick(e, now)

	for _, id := range sortedKeys(e.mpModels) {
		e.mpModels[id].ReceiveTimerTick(e, now)
	}
	for _, id := range sortedKeys(e.securityModels) {
		e.securityModels[id].ReceiveTimerTick(e, now)
	}
}

func sortedKeys[K ~int | ~uint8, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
