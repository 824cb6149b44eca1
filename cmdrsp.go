// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"errors"
)

const (
	// responseOverhead is reserved out of msgMaxSize for the message and
	// PDU headers when filling a GetBulk response.
	responseOverhead = 256

	// maxNextSkips bounds how many variables GetNext passes over while
	// looking for one inside the requester's view.
	maxNextSkips = 1000
)

// MibInstrumentation supplies the managed objects a CommandResponder
// serves. Names are dotted OIDs with a leading dot.
type MibInstrumentation interface {
	// Get returns the variable named oid, or one of type NoSuchObject or
	// NoSuchInstance.
	Get(contextName, oid string) VarBind

	// GetNext returns the first variable after oid in lexicographic
	// order, or one of type EndOfMibView.
	GetNext(contextName, oid string) VarBind

	// Set applies every binding or none. On failure it returns the error
	// status and the 1-based index of the offending binding.
	Set(contextName string, vbs []VarBind) (SNMPError, int)
}

var commandPDUTypes = []PDUType{GetRequest, GetNextRequest, GetBulkRequest, SetRequest}

// CommandResponder answers Get, GetNext, GetBulk and Set requests from a
// MibInstrumentation, subject to access control (RFC 3413 section 3.2).
type CommandResponder struct {
	AccessModel AccessModelID

	contextEngineID string
	mib             MibInstrumentation
}

// NewCommandResponder registers a responder for contextEngineID, which
// defaults to the engine's own ID.
func NewCommandResponder(e *Engine, contextEngineID string, mib MibInstrumentation) (*CommandResponder, error) {
	if contextEngineID == "" {
		contextEngineID = e.engineID
	}
	r := &CommandResponder{
		AccessModel:     ViewBasedAccessModel,
		contextEngineID: contextEngineID,
		mib:             mib,
	}
	if err := e.dispatcher.RegisterContextEngineID(contextEngineID, commandPDUTypes, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *CommandResponder) Close(e *Engine) {
	e.dispatcher.UnregisterContextEngineID(r.contextEngineID, commandPDUTypes)
}

func (r *CommandResponder) ProcessPdu(e *Engine, in *IncomingPdu) {
	acm, err := e.AccessControlModel(r.AccessModel)
	if err != nil {
		e.Logger.Printf("cmdrsp: %v", err)
		return
	}
	req := &commandRequest{e: e, in: in, acm: acm, mib: r.mib}

	var resp *PDU
	switch in.PDU.Type {
	case GetRequest:
		resp = req.get()
	case GetNextRequest:
		resp = req.getNext()
	case GetBulkRequest:
		resp = req.getBulk()
	case SetRequest:
		resp = req.set()
	default:
		return
	}
	if err := e.dispatcher.ReturnResponsePdu(e, in, resp); err != nil {
		e.Logger.Printf("cmdrsp: answering %s from %v: %v", in.PDU.Type, in.TransportAddress, err)
	}
}

type commandRequest struct {
	e   *Engine
	in  *IncomingPdu
	acm AccessControlModel
	mib MibInstrumentation
}

func (c *commandRequest) allowed(view ViewType, oid string) error {
	return c.acm.IsAccessAllowed(c.e, c.in.SecurityModel, c.in.SecurityName, c.in.SecurityLevel, view, c.in.ContextName, oid)
}

// failed answers with the request's bindings and an error status.
func (c *commandRequest) failed(status SNMPError, index int) *PDU {
	return &PDU{
		Type:        GetResponse,
		ErrorStatus: status,
		ErrorIndex:  index,
		Variables:   c.in.PDU.Variables,
	}
}

func (c *commandRequest) denied(err error, index int) *PDU {
	c.e.Logger.Printf("cmdrsp: %s from %q denied: %v", c.in.PDU.Type, c.in.SecurityName, err)
	return c.failed(AuthorizationError, index)
}

func (c *commandRequest) get() *PDU {
	out := make([]VarBind, len(c.in.PDU.Variables))
	for i, vb := range c.in.PDU.Variables {
		err := c.allowed(ReadView, vb.Name)
		switch {
		case err == nil:
			out[i] = c.mib.Get(c.in.ContextName, vb.Name)
		case errors.Is(err, ErrNotInView):
			out[i] = VarBind{Name: vb.Name, Type: NoSuchObject}
		default:
			return c.denied(err, i+1)
		}
	}
	return &PDU{Type: GetResponse, Variables: out}
}

// next returns the successor of oid inside the read view. An
// endOfMibView carries the requested name.
func (c *commandRequest) next(oid string) (VarBind, error) {
	end := VarBind{Name: oid, Type: EndOfMibView}
	for range maxNextSkips {
		vb := c.mib.GetNext(c.in.ContextName, oid)
		if vb.Type == EndOfMibView {
			return end, nil
		}
		err := c.allowed(ReadView, vb.Name)
		if err == nil {
			return vb, nil
		}
		if !errors.Is(err, ErrNotInView) {
			return VarBind{}, err
		}
		oid = vb.Name
	}
	return end, nil
}

func (c *commandRequest) getNext() *PDU {
	out := make([]VarBind, len(c.in.PDU.Variables))
	for i, vb := range c.in.PDU.Variables {
		next, err := c.next(vb.Name)
		if err != nil {
			return c.denied(err, i+1)
		}
		out[i] = next
	}
	return &PDU{Type: GetResponse, Variables: out}
}

// getBulk implements RFC 3416 section 4.2.3, stopping early when every
// repeater reached the end of the MIB view or the response would no
// longer fit the requester's maximum message size.
func (c *commandRequest) getBulk() *PDU {
	vbs := c.in.PDU.Variables
	nonRepeaters := min(max(c.in.PDU.NonRepeaters, 0), len(vbs))
	repetitions := max(c.in.PDU.MaxRepetitions, 0)

	budget := c.in.MaxSizeResponse - responseOverhead
	var out []VarBind
	fits := func(vb VarBind) bool {
		if c.in.MaxSizeResponse <= 0 {
			return true
		}
		enc, err := marshalVarbind(&vb)
		if err != nil {
			return false
		}
		budget -= len(enc)
		return budget >= 0
	}

	for i, vb := range vbs[:nonRepeaters] {
		next, err := c.next(vb.Name)
		if err != nil {
			return c.denied(err, i+1)
		}
		if !fits(next) {
			return c.failed(TooBig, 0)
		}
		out = append(out, next)
	}

	cursor := make([]string, len(vbs)-nonRepeaters)
	for i, vb := range vbs[nonRepeaters:] {
		cursor[i] = vb.Name
	}
	for range repetitions {
		done := true
		for i, oid := range cursor {
			next, err := c.next(oid)
			if err != nil {
				return c.denied(err, nonRepeaters+i+1)
			}
			if !fits(next) {
				return &PDU{Type: GetResponse, Variables: out}
			}
			out = append(out, next)
			if next.Type != EndOfMibView {
				done = false
			}
			cursor[i] = next.Name
		}
		if done || len(cursor) == 0 {
			break
		}
	}
	return &PDU{Type: GetResponse, Variables: out}
}

func (c *commandRequest) set() *PDU {
	for i, vb := range c.in.PDU.Variables {
		err := c.allowed(WriteView, vb.Name)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotInView):
			return c.failed(NoAccess, i+1)
		default:
			return c.denied(err, i+1)
		}
	}
	if status, index := c.mib.Set(c.in.ContextName, c.in.PDU.Variables); status != NoError {
		return c.failed(status, index)
	}
	return &PDU{Type: GetResponse, Variables: c.in.PDU.Variables}
}
