// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"slices"
)

const (
	// defaultMaxRepetitions is used by walks over GetBulkRequest.
	defaultMaxRepetitions = 25

	// maxWalkRequests bounds a walk against agents that never leave the
	// subtree.
	maxWalkRequests = 10000
)

// VarBindsFunc receives the response to a request sent by a
// CommandGenerator, or the error that ended it.
type VarBindsFunc func(e *Engine, handle SendHandle, err error, resp *PDU)

// CommandGenerator sends requests to targets of the LCD (RFC 3413
// section 3.1).
type CommandGenerator struct{}

// SendVarBinds sends pdu to targetName. Only the type, variables and the
// GetBulk fields of pdu are used.
func (CommandGenerator) SendVarBinds(e *Engine, targetName, contextEngineID, contextName string, pdu *PDU, cb VarBindsFunc) (SendHandle, error) {
	switch pdu.Type {
	case GetRequest, GetNextRequest, GetBulkRequest, SetRequest:
	default:
		return 0, fmt.Errorf("%w: %s is not a command", ErrUnsupportedPDUType, pdu.Type)
	}
	target, err := e.config.TargetAddr(targetName)
	if err != nil {
		return 0, err
	}
	params, err := e.config.TargetParams(target.Params)
	if err != nil {
		return 0, err
	}

	return e.dispatcher.SendPdu(e, SendRequest{
		TransportDomain:        target.Domain,
		TransportAddress:       target.Address,
		MessageProcessingModel: params.MessageProcessingModel,
		SecurityModel:          params.SecurityModel,
		SecurityName:           params.SecurityName,
		SecurityLevel:          params.SecurityLevel,
		ContextEngineID:        contextEngineID,
		ContextName:            contextName,
		PDU:                    pdu,
		Timeout:                target.Timeout,
		Retries:                target.RetryCount,
		Callback: func(e *Engine, handle SendHandle, resp *IncomingPdu, err error) {
			if cb == nil {
				return
			}
			if resp != nil && err == nil {
				cb(e, handle, nil, resp.PDU)
				return
			}
			cb(e, handle, err, nil)
		},
	})
}

// Get sends a GetRequest for oids.
func (g CommandGenerator) Get(e *Engine, targetName, contextName string, oids []string, cb VarBindsFunc) (SendHandle, error) {
	return g.SendVarBinds(e, targetName, "", contextName, &PDU{Type: GetRequest, Variables: nullVarBinds(oids)}, cb)
}

// GetNext sends a GetNextRequest for oids.
func (g CommandGenerator) GetNext(e *Engine, targetName, contextName string, oids []string, cb VarBindsFunc) (SendHandle, error) {
	return g.SendVarBinds(e, targetName, "", contextName, &PDU{Type: GetNextRequest, Variables: nullVarBinds(oids)}, cb)
}

// GetBulk sends a GetBulkRequest for oids.
func (g CommandGenerator) GetBulk(e *Engine, targetName, contextName string, oids []string, nonRepeaters, maxRepetitions int, cb VarBindsFunc) (SendHandle, error) {
	return g.SendVarBinds(e, targetName, "", contextName, &PDU{
		Type:           GetBulkRequest,
		NonRepeaters:   nonRepeaters,
		MaxRepetitions: maxRepetitions,
		Variables:      nullVarBinds(oids),
	}, cb)
}

// Set sends a SetRequest for varBinds.
func (g CommandGenerator) Set(e *Engine, targetName, contextName string, varBinds []VarBind, cb VarBindsFunc) (SendHandle, error) {
	return g.SendVarBinds(e, targetName, "", contextName, &PDU{Type: SetRequest, Variables: varBinds}, cb)
}

// WalkFunc is called for every variable found by Walk. Returning an error
// stops the walk and the error is passed to the done function.
type WalkFunc func(vb VarBind) error

// Walk retrieves the subtree rooted at rootOid with GetNextRequest for
// SNMPv1 targets and GetBulkRequest otherwise. done is called once when the
// subtree is exhausted or the walk fails.
func (g CommandGenerator) Walk(e *Engine, targetName, contextName, rootOid string, fn WalkFunc, done func(e *Engine, err error)) error {
	root, err := parseOIDString(rootOid)
	if err != nil {
		return err
	}
	target, err := e.config.TargetAddr(targetName)
	if err != nil {
		return err
	}
	params, err := e.config.TargetParams(target.Params)
	if err != nil {
		return err
	}
	w := &walk{
		gen:         g,
		targetName:  targetName,
		contextName: contextName,
		root:        root,
		fn:          fn,
		done:        done,
		bulk:        params.MessageProcessingModel != Version1,
		last:        root,
	}
	return w.next(e, formatOID(root))
}

type walk struct {
	gen         CommandGenerator
	targetName  string
	contextName string
	root        []uint32
	fn          WalkFunc
	done        func(e *Engine, err error)
	bulk        bool
	requests    int

	// last is the greatest name seen so far.
	last []uint32
}

func (w *walk) next(e *Engine, from string) error {
	w.requests++
	if w.requests > maxWalkRequests {
		return fmt.Errorf("walk of %s: gave up after %d requests", formatOID(w.root), maxWalkRequests)
	}
	oids := []string{from}
	if w.bulk {
		_, err := w.gen.GetBulk(e, w.targetName, w.contextName, oids, 0, defaultMaxRepetitions, w.receive)
		return err
	}
	_, err := w.gen.GetNext(e, w.targetName, w.contextName, oids, w.receive)
	return err
}

func (w *walk) receive(e *Engine, _ SendHandle, err error, resp *PDU) {
	if err == nil {
		var last string
		last, err = w.consume(resp)
		if err == nil && last != "" {
			err = w.next(e, last)
			if err == nil {
				return
			}
		}
	}
	if w.done != nil {
		w.done(e, err)
	}
}

// consume feeds the variables of resp inside the subtree to fn and returns
// the name to continue from, or "" when the walk is complete.
func (w *walk) consume(resp *PDU) (string, error) {
	if resp.ErrorStatus == NoSuchName {
		return "", nil
	}
	if resp.ErrorStatus != NoError {
		return "", fmt.Errorf("%w: %s at index %d", ErrErrorStatus, resp.ErrorStatus, resp.ErrorIndex)
	}
	advanced := false
	for _, vb := range resp.Variables {
		if vb.Type == EndOfMibView || vb.Type == NoSuchObject || vb.Type == NoSuchInstance {
			return "", nil
		}
		oid, err := parseOIDString(vb.Name)
		if err != nil {
			return "", err
		}
		if !oidHasPrefix(oid, w.root) {
			return "", nil
		}
		if slices.Compare(oid, w.last) <= 0 {
			return "", fmt.Errorf("walk of %s: OID %s is not increasing", formatOID(w.root), vb.Name)
		}
		if err := w.fn(vb); err != nil {
			return "", err
		}
		w.last = oid
		advanced = true
	}
	if !advanced {
		return "", nil
	}
	return formatOID(w.last), nil
}

func nullVarBinds(oids []string) []VarBind {
	vbs := make([]VarBind, len(oids))
	for i, oid := range oids {
		vbs[i] = VarBind{Name: oid, Type: Null}
	}
	return vbs
}
