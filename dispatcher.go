// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"
)

const (
	// defaultTimeout applies to confirmed requests that do not set one.
	defaultTimeout = time.Second

	dispatcherJobID = "dispatcher"
)

// SendHandle identifies one logical request for its whole life, across
// discovery, retries and resends.
type SendHandle uint32

// ResponseFunc receives the outcome of a confirmed request: either the
// response or an error indication, exactly once.
type ResponseFunc func(e *Engine, handle SendHandle, resp *IncomingPdu, err error)

// SendRequest is a PDU to be sent along with its addressing, security
// and retry parameters.
type SendRequest struct {
	TransportDomain        TransportDomain
	TransportAddress       net.Addr
	MessageProcessingModel SnmpVersion
	SecurityModel          SecurityModelID
	SecurityName           string
	SecurityLevel          SecurityLevel
	ContextEngineID        string
	ContextName            string
	PDU                    *PDU

	// Timeout and Retries apply to confirmed PDUs only.
	Timeout time.Duration
	Retries int

	Callback ResponseFunc
}

// IncomingPdu is a decoded PDU with everything known about how it arrived.
type IncomingPdu struct {
	TransportDomain        TransportDomain
	TransportAddress       net.Addr
	MessageProcessingModel SnmpVersion
	SecurityModel          SecurityModelID
	SecurityName           string
	SecurityLevel          SecurityLevel
	SecurityEngineID       string
	ContextEngineID        string
	ContextName            string
	PDU                    *PDU
	MaxSizeResponse        int

	// StateReference identifies the state needed to answer a confirmed PDU.
	StateReference uint32
}

// PduHandler is implemented by applications that accept incoming PDUs.
type PduHandler interface {
	ProcessPdu(e *Engine, in *IncomingPdu)
}

// PduHandlerFunc adapts a function to PduHandler.
type PduHandlerFunc func(e *Engine, in *IncomingPdu)

func (f PduHandlerFunc) ProcessPdu(e *Engine, in *IncomingPdu) {
	f(e, in)
}

type continuation int

const (
	awaitingResponse continuation = iota
	awaitingDiscovery
)

type pendingRequest struct {
	handle       SendHandle
	req          SendRequest
	state        continuation
	timeoutTicks int
	ticksLeft    int
	retriesLeft  int

	discoveryAnswered bool
	resentForTime     bool
	rediscovered      bool
}

type appKey struct {
	contextEngineID string
	pduType         PDUType
}

// Dispatcher routes outgoing PDUs to message processing models and
// incoming ones to applications, and drives request timeouts from the
// transport's timer ticks.
type Dispatcher struct {
	lastHandle SendHandle
	pending    map[SendHandle]*pendingRequest
	apps       map[appKey]PduHandler
}

func newDispatcher() *Dispatcher {
	return &Dispatcher{
		pending: make(map[SendHandle]*pendingRequest),
		apps:    make(map[appKey]PduHandler),
	}
}

func (d *Dispatcher) nextHandle() SendHandle {
	for {
		d.lastHandle++
		if d.lastHandle == 0 {
			continue
		}
		if _, busy := d.pending[d.lastHandle]; !busy {
			return d.lastHandle
		}
	}
}

// RegisterContextEngineID routes incoming PDUs of the given types for
// contextEngineID to h. An empty contextEngineID matches any context
// engine not registered explicitly.
func (d *Dispatcher) RegisterContextEngineID(contextEngineID string, pduTypes []PDUType, h PduHandler) error {
	for _, t := range pduTypes {
		if _, ok := d.apps[appKey{contextEngineID, t}]; ok {
			return fmt.Errorf("%w: %s for context engine %x", ErrApplicationRegistered, t, contextEngineID)
		}
	}
	for _, t := range pduTypes {
		d.apps[appKey{contextEngineID, t}] = h
	}
	return nil
}

func (d *Dispatcher) UnregisterContextEngineID(contextEngineID string, pduTypes []PDUType) {
	for _, t := range pduTypes {
		delete(d.apps, appKey{contextEngineID, t})
	}
}

func (d *Dispatcher) lookupApp(contextEngineID string, t PDUType) PduHandler {
	if h, ok := d.apps[appKey{contextEngineID, t}]; ok {
		return h
	}
	return d.apps[appKey{"", t}]
}

// Pending returns the number of confirmed requests awaiting an outcome.
func (d *Dispatcher) Pending() int {
	return len(d.pending)
}

// SendPdu sends req.PDU. For a confirmed PDU the outcome, including any
// failure to encode or send it, is delivered to req.Callback and the
// returned handle identifies it there. For other PDUs errors are returned
// directly and the handle is zero. Either way an error is returned when no
// transport is registered.
func (d *Dispatcher) SendPdu(e *Engine, req SendRequest) (SendHandle, error) {
	if e.transport == nil {
		return 0, ErrTransportUnavailable
	}
	if req.PDU == nil {
		return 0, fmt.Errorf("%w: nil PDU", ErrUnsupportedPDUType)
	}

	mpm, err := e.MessageProcessingModel(req.MessageProcessingModel)
	if !req.PDU.Type.Confirmed() {
		if err != nil {
			return 0, err
		}
		msg, err := mpm.PrepareOutgoingMessage(e, 0, &req)
		if err != nil {
			return 0, err
		}
		return 0, e.transport.SendMessage(msg, req.TransportDomain, req.TransportAddress)
	}

	pr := &pendingRequest{
		handle:       d.nextHandle(),
		req:          req,
		timeoutTicks: timeoutTicks(req.Timeout, e.transport.TimerResolution()),
		retriesLeft:  req.Retries,
	}
	if err != nil {
		if req.Callback != nil {
			req.Callback(e, pr.handle, nil, err)
		}
		return pr.handle, nil
	}

	d.pending[pr.handle] = pr
	e.stats.pending.Add(1)
	e.transport.JobStarted(dispatcherJobID)

	if err := d.transmit(e, mpm, pr); err != nil {
		d.finish(e, pr, nil, err)
	}
	return pr.handle, nil
}

// timeoutTicks converts a timeout into whole timer ticks, rounding up.
func timeoutTicks(timeout, resolution time.Duration) int {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if resolution <= 0 {
		return 1
	}
	ticks := int((timeout + resolution - 1) / resolution)
	return max(ticks, 1)
}

// transmit sends the next message for pr: a discovery probe while the
// remote engine is unknown, the request itself afterwards.
func (d *Dispatcher) transmit(e *Engine, mpm MessageProcessingModel, pr *pendingRequest) error {
	req := &pr.req
	pr.state = awaitingResponse
	if probe := mpm.DiscoveryRequest(e, req); probe != nil {
		if pr.discoveryAnswered {
			return fmt.Errorf("%w: peer did not reveal its engine id", ErrUnknownEngineID)
		}
		pr.state = awaitingDiscovery
		req = probe
	}

	msg, err := mpm.PrepareOutgoingMessage(e, pr.handle, req)
	if err != nil {
		return err
	}
	if err = e.transport.SendMessage(msg, req.TransportDomain, req.TransportAddress); err != nil {
		return err
	}
	pr.ticksLeft = pr.timeoutTicks
	if e.Logger.Enabled() {
		e.Logger.Printf("dispatcher: handle %d sent %d bytes to %v (discovery %t)", pr.handle, len(msg), req.TransportAddress, pr.state == awaitingDiscovery)
	}
	return nil
}

// retransmit resends pr without consuming a retry.
func (d *Dispatcher) retransmit(e *Engine, mpm MessageProcessingModel, pr *pendingRequest) {
	if err := d.transmit(e, mpm, pr); err != nil {
		d.finish(e, pr, nil, err)
	}
}

// finish ends pr and delivers its outcome.
func (d *Dispatcher) finish(e *Engine, pr *pendingRequest, resp *IncomingPdu, err error) {
	if _, ok := d.pending[pr.handle]; !ok {
		return
	}
	delete(d.pending, pr.handle)
	e.stats.pending.Add(-1)

	if mpm, mErr := e.MessageProcessingModel(pr.req.MessageProcessingModel); mErr == nil {
		mpm.ReleaseStateInformation(e, pr.handle)
	}
	if e.transport != nil {
		e.transport.JobFinished(dispatcherJobID)
	}
	if pr.req.Callback != nil {
		pr.req.Callback(e, pr.handle, resp, err)
	}
}

// ReceiveTimerTick counts down every pending request, retrying or failing
// the ones whose timeout expired.
func (d *Dispatcher) ReceiveTimerTick(e *Engine, _ time.Time) {
	handles := make([]SendHandle, 0, len(d.pending))
	for h := range d.pending {
		handles = append(handles, h)
	}
	slices.Sort(handles)

	for _, h := range handles {
		pr, ok := d.pending[h]
		if !ok {
			continue
		}
		pr.ticksLeft--
		if pr.ticksLeft > 0 {
			continue
		}

		mpm, err := e.MessageProcessingModel(pr.req.MessageProcessingModel)
		if err != nil {
			d.finish(e, pr, nil, err)
			continue
		}
		if pr.retriesLeft <= 0 {
			e.stats.inc(cntRequestTimeouts)
			d.finish(e, pr, nil, ErrRequestTimedOut)
			continue
		}
		pr.retriesLeft--
		e.Logger.Printf("dispatcher: handle %d timed out, %d retries left", pr.handle, pr.retriesLeft)
		d.retransmit(e, mpm, pr)
	}
}

// ReceiveMessage processes one message delivered by the transport.
func (d *Dispatcher) ReceiveMessage(e *Engine, domain TransportDomain, addr net.Addr, msg []byte) {
	e.stats.inc(cntInPkts)

	version, err := peekVersion(msg)
	if err != nil {
		e.stats.inc(cntInASNParseErrs)
		e.Logger.Printf("dispatcher: dropping message from %v: %v", addr, err)
		return
	}
	mpm, err := e.MessageProcessingModel(version)
	if err != nil {
		e.stats.inc(cntInBadVersions)
		e.Logger.Printf("dispatcher: dropping message from %v: %v", addr, err)
		return
	}

	de, err := mpm.PrepareDataElements(e, domain, addr, msg)
	if de != nil && len(de.Report) > 0 && e.transport != nil {
		if sendErr := e.transport.SendMessage(de.Report, domain, addr); sendErr != nil {
			e.Logger.Printf("dispatcher: sending report to %v: %v", addr, sendErr)
		}
	}
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			e.stats.inc(cntCacheMisses)
		}
		if de != nil && de.SendHandle != 0 {
			if pr, ok := d.pending[de.SendHandle]; ok {
				d.finish(e, pr, nil, err)
				return
			}
		}
		e.Logger.Printf("dispatcher: dropping message from %v: %v", addr, err)
		return
	}

	if de.PDU.Type.IsResponse() {
		d.handleResponse(e, mpm, de)
		return
	}

	h := d.lookupApp(de.ContextEngineID, de.PDU.Type)
	if h == nil {
		e.stats.inc(cntUnknownPDUHandlers)
		e.Logger.Printf("dispatcher: no application for %s in context engine %x", de.PDU.Type, de.ContextEngineID)
		return
	}
	h.ProcessPdu(e, &de.IncomingPdu)
}

func (d *Dispatcher) handleResponse(e *Engine, mpm MessageProcessingModel, de *DataElements) {
	pr, ok := d.pending[de.SendHandle]
	if !ok {
		e.stats.inc(cntCacheMisses)
		e.Logger.Printf("dispatcher: response for unknown handle %d", de.SendHandle)
		return
	}

	if de.PDU.Type == Report {
		d.handleReport(e, mpm, pr, de)
		return
	}
	if pr.state == awaitingDiscovery {
		// a peer may answer the probe with a plain response
		pr.discoveryAnswered = true
		d.retransmit(e, mpm, pr)
		return
	}
	d.finish(e, pr, &de.IncomingPdu, nil)
}

// handleReport classifies a REPORT PDU and determines how to proceed.
// Discovery and clock synchronisation are resolved by resending; every
// other report ends the request with the matching error indication.
func (d *Dispatcher) handleReport(e *Engine, mpm MessageProcessingModel, pr *pendingRequest, de *DataElements) {
	if len(de.PDU.Variables) < 1 {
		d.finish(e, pr, &de.IncomingPdu, fmt.Errorf("%w: malformed REPORT with no variables", ErrUnknownReportPDU))
		return
	}
	oid := de.PDU.Variables[0].Name

	switch {
	case pr.state == awaitingDiscovery:
		e.Logger.Printf("dispatcher: handle %d discovered engine %x", pr.handle, de.SecurityEngineID)
		pr.discoveryAnswered = true
		d.retransmit(e, mpm, pr)

	case oid == usmStatsNotInTimeWindows && !pr.resentForTime:
		// The report carried the peer's clock, adopt it and resend once.
		e.Logger.Print("WARNING detected out-of-time-window ERROR")
		pr.resentForTime = true
		d.retransmit(e, mpm, pr)

	case oid == usmStatsUnknownEngineIDs && !pr.rediscovered:
		// The peer changed its engine ID since we last talked to it.
		e.Logger.Print("WARNING detected unknown engine id ERROR")
		pr.rediscovered = true
		pr.discoveryAnswered = false
		d.retransmit(e, mpm, pr)

	default:
		reportErr, ok := reportErrors[oid]
		if !ok {
			reportErr = ErrUnknownReportPDU
		}
		d.finish(e, pr, &de.IncomingPdu, fmt.Errorf("report %s: %w", oid, reportErr))
	}
}

// ReturnResponsePdu answers the confirmed PDU in with pdu.
func (d *Dispatcher) ReturnResponsePdu(e *Engine, in *IncomingPdu, pdu *PDU) error {
	if e.transport == nil {
		return ErrTransportUnavailable
	}
	mpm, err := e.MessageProcessingModel(in.MessageProcessingModel)
	if err != nil {
		return err
	}
	msg, err := mpm.PrepareResponseMessage(e, in, pdu)
	if err != nil {
		return err
	}
	return e.transport.SendMessage(msg, in.TransportDomain, in.TransportAddress)
}
