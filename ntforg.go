// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"slices"
)

// NotificationFunc receives the outcome of a notification once every
// target has been dealt with. resp is an Inform acknowledgement when at
// least one target acknowledged, nil otherwise; err is set only when no
// target succeeded.
type NotificationFunc func(e *Engine, handle uint32, err error, resp *PDU)

// NotificationOriginator sends traps and informs to the targets selected
// by a notification entry of the LCD (RFC 3413 section 3.3).
type NotificationOriginator struct {
	// AccessModel decides which targets may receive each notification.
	AccessModel AccessModelID

	lastHandle uint32
	active     map[uint32]*logicalNotification
}

// logicalNotification tracks one SendNotification call across its targets.
type logicalNotification struct {
	handle   uint32
	tag      string
	callback NotificationFunc

	// pending counts informs awaiting an outcome. fanningOut is set while
	// SendNotification is still walking the targets, so an inform that
	// fails synchronously cannot end the notification early.
	pending    int
	fanningOut bool

	delivered int
	denied    int
	targets   int
	acked     *PDU
	firstErr  error
}

func NewNotificationOriginator() *NotificationOriginator {
	return &NotificationOriginator{
		AccessModel: ViewBasedAccessModel,
		active:      make(map[uint32]*logicalNotification),
	}
}

func (o *NotificationOriginator) nextHandle() uint32 {
	for {
		o.lastHandle = (o.lastHandle + 1) & 0x7fffffff
		if o.lastHandle == 0 {
			continue
		}
		if _, busy := o.active[o.lastHandle]; !busy {
			return o.lastHandle
		}
	}
}

// Pending returns the number of notifications whose outcome is not known
// yet.
func (o *NotificationOriginator) Pending() int {
	return len(o.active)
}

// SendNotification sends varBinds to every target tagged by the
// notification entry notificationName. sysUpTime.0 and snmpTrapOID.0 are
// moved to the front of varBinds, and sysUpTime.0 is added when missing.
//
// Errors resolving the notification entry or building the variable
// bindings are returned and cb is not called. Otherwise cb, when not nil,
// is called exactly once, possibly before SendNotification returns.
func (o *NotificationOriginator) SendNotification(e *Engine, notificationName, contextEngineID, contextName string,
	varBinds []VarBind, cb NotificationFunc,
) (uint32, error) {
	entry, err := e.config.Notify(notificationName)
	if err != nil {
		return 0, err
	}
	vbs, err := notificationVarBinds(e, varBinds)
	if err != nil {
		return 0, err
	}

	n := &logicalNotification{
		handle:     o.nextHandle(),
		tag:        entry.Tag,
		callback:   cb,
		fanningOut: true,
	}
	o.active[n.handle] = n
	if e.Logger.Enabled() {
		e.Logger.Printf("ntforg: notification %d %q tag %q type %s", n.handle, notificationName, entry.Tag, entry.Type)
	}

	for _, name := range e.config.TargetNamesByTag(entry.Tag) {
		n.targets++
		o.sendToTarget(e, n, name, entry.Type, contextEngineID, contextName, vbs)
	}
	n.fanningOut = false
	o.maybeFinish(e, n)
	return n.handle, nil
}

func (o *NotificationOriginator) sendToTarget(e *Engine, n *logicalNotification, targetName string, typ NotifyType,
	contextEngineID, contextName string, vbs []VarBind,
) {
	target, err := e.config.TargetAddr(targetName)
	if err != nil {
		n.record(nil, err)
		return
	}
	params, err := e.config.TargetParams(target.Params)
	if err != nil {
		n.record(nil, err)
		return
	}
	if err := o.checkAccess(e, params, contextName, vbs); err != nil {
		n.denied++
		e.Logger.Printf("ntforg: notification %d not sent to %q: %v", n.handle, targetName, err)
		return
	}

	req := SendRequest{
		TransportDomain:        target.Domain,
		TransportAddress:       target.Address,
		MessageProcessingModel: params.MessageProcessingModel,
		SecurityModel:          params.SecurityModel,
		SecurityName:           params.SecurityName,
		SecurityLevel:          params.SecurityLevel,
		ContextEngineID:        contextEngineID,
		ContextName:            contextName,
		PDU:                    &PDU{Type: SNMPv2Trap, Variables: vbs},
		Timeout:                target.Timeout,
		Retries:                target.RetryCount,
	}
	if typ == NotifyInform {
		req.PDU.Type = InformRequest
		req.Callback = func(e *Engine, _ SendHandle, resp *IncomingPdu, err error) {
			n.pending--
			if resp != nil {
				n.record(resp.PDU, err)
			} else {
				n.record(nil, err)
			}
			o.maybeFinish(e, n)
		}
		n.pending++
	}

	if _, err := e.dispatcher.SendPdu(e, req); err != nil {
		// SendPdu does not call back when it returns an error.
		if typ == NotifyInform {
			n.pending--
		}
		e.Logger.Printf("ntforg: notification %d to %q: %v", n.handle, targetName, err)
		n.record(nil, err)
		return
	}
	if typ == NotifyTrap {
		n.record(nil, nil)
	}
}

// checkAccess applies the target's notify view to every variable binding
// but the two leading ones.
func (o *NotificationOriginator) checkAccess(e *Engine, params *TargetParams, contextName string, vbs []VarBind) error {
	acm, err := e.AccessControlModel(o.AccessModel)
	if err != nil {
		return err
	}
	for _, vb := range vbs[2:] {
		err := acm.IsAccessAllowed(e, params.SecurityModel, params.SecurityName, params.SecurityLevel, NotifyView, contextName, vb.Name)
		if err != nil {
			return err
		}
	}
	return nil
}

// record notes the outcome for one target. A response whose error-status
// is set counts as a failure.
func (n *logicalNotification) record(resp *PDU, err error) {
	if err == nil && resp != nil && resp.ErrorStatus != NoError {
		err = fmt.Errorf("%w: %s at index %d", ErrErrorStatus, resp.ErrorStatus, resp.ErrorIndex)
	}
	if err != nil {
		if n.firstErr == nil {
			n.firstErr = err
		}
		return
	}
	n.delivered++
	if resp != nil {
		n.acked = resp
	}
}

func (o *NotificationOriginator) maybeFinish(e *Engine, n *logicalNotification) {
	if n.fanningOut || n.pending > 0 {
		return
	}
	if _, ok := o.active[n.handle]; !ok {
		return
	}
	delete(o.active, n.handle)

	var err error
	switch {
	case n.delivered > 0:
	case n.firstErr != nil:
		err = n.firstErr
	case n.denied > 0:
		err = fmt.Errorf("%w: every target of notification %d was denied", ErrAccessDenied, n.handle)
	default:
		err = fmt.Errorf("%w: no target tagged %q", ErrUnknownTarget, n.tag)
	}
	if e.Logger.Enabled() {
		e.Logger.Printf("ntforg: notification %d done, %d targets, %d delivered, %d denied, err %v",
			n.handle, n.targets, n.delivered, n.denied, err)
	}
	if n.callback != nil {
		n.callback(e, n.handle, err, n.acked)
	}
}

// notificationVarBinds returns varBinds led by sysUpTime.0 and
// snmpTrapOID.0, in that order.
func notificationVarBinds(e *Engine, varBinds []VarBind) ([]VarBind, error) {
	trapIdx := slices.IndexFunc(varBinds, func(vb VarBind) bool { return normalizeOID(vb.Name) == snmpTrapOID })
	if trapIdx < 0 {
		return nil, ErrMissingNotificationOID
	}
	upIdx := slices.IndexFunc(varBinds, func(vb VarBind) bool { return normalizeOID(vb.Name) == sysUpTimeOID })

	upTime := VarBind{Name: sysUpTimeOID, Type: TimeTicks, Value: e.SysUpTime()}
	if upIdx >= 0 {
		upTime = varBinds[upIdx]
	}
	out := make([]VarBind, 0, len(varBinds)+1)
	out = append(out, upTime, varBinds[trapIdx])
	for i, vb := range varBinds {
		if i != trapIdx && i != upIdx {
			out = append(out, vb)
		}
	}
	return out, nil
}
