// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

// NotificationHandler is called for every trap or inform accepted by a
// NotificationReceiver. SNMPv1 traps arrive translated to SNMPv2-Trap.
type NotificationHandler func(e *Engine, in *IncomingPdu)

var notificationPDUTypes = []PDUType{Trap, SNMPv2Trap, InformRequest}

// NotificationReceiver accepts notifications for one context engine ID
// and acknowledges informs (RFC 3413 section 3.4).
type NotificationReceiver struct {
	contextEngineID string
	handler         NotificationHandler
}

// NewNotificationReceiver registers a receiver with the engine's
// dispatcher. An empty contextEngineID accepts notifications for any
// context engine without a receiver of its own.
func NewNotificationReceiver(e *Engine, contextEngineID string, handler NotificationHandler) (*NotificationReceiver, error) {
	r := &NotificationReceiver{
		contextEngineID: contextEngineID,
		handler:         handler,
	}
	if err := e.dispatcher.RegisterContextEngineID(contextEngineID, notificationPDUTypes, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Close stops the receiver.
func (r *NotificationReceiver) Close(e *Engine) {
	e.dispatcher.UnregisterContextEngineID(r.contextEngineID, notificationPDUTypes)
}

func (r *NotificationReceiver) ProcessPdu(e *Engine, in *IncomingPdu) {
	if in.PDU.Type == InformRequest {
		ack := &PDU{
			Type:      GetResponse,
			RequestID: in.PDU.RequestID,
			Variables: in.PDU.Variables,
		}
		if err := e.dispatcher.ReturnResponsePdu(e, in, ack); err != nil {
			e.Logger.Printf("ntfrcv: acknowledging inform from %v: %v", in.TransportAddress, err)
		}
	}
	if e.Logger.Enabled() {
		e.Logger.Printf("ntfrcv: %s from %v securityName %q: %s", in.PDU.Type, in.TransportAddress, in.SecurityName, in.PDU.SafeString())
	}
	if r.handler != nil {
		r.handler(e, in)
	}
}
