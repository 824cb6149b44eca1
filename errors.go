// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"errors"
	"fmt"
)

// Report PDU counters as per https://tools.ietf.org/html/rfc3414 and
// https://tools.ietf.org/html/rfc3412
const (
	usmStatsUnsupportedSecLevels = ".1.3.6.1.6.3.15.1.1.1.0"
	usmStatsNotInTimeWindows     = ".1.3.6.1.6.3.15.1.1.2.0"
	usmStatsUnknownUserNames     = ".1.3.6.1.6.3.15.1.1.3.0"
	usmStatsUnknownEngineIDs     = ".1.3.6.1.6.3.15.1.1.4.0"
	usmStatsWrongDigests         = ".1.3.6.1.6.3.15.1.1.5.0"
	usmStatsDecryptionErrors     = ".1.3.6.1.6.3.15.1.1.6.0"
	snmpUnknownSecurityModels    = ".1.3.6.1.6.3.11.2.1.1.0"
	snmpInvalidMsgs              = ".1.3.6.1.6.3.11.2.1.2.0"
	snmpUnknownPDUHandlers       = ".1.3.6.1.6.3.11.2.1.3.0"
)

// Error indications. Callers should match with errors.Is; most of them reach
// application callbacks wrapped with detail about the failing exchange.
var (
	ErrParse                    = errors.New("parse error")
	ErrTooBig                   = errors.New("message too big")
	ErrUnsupportedMPModel       = errors.New("unsupported message processing model")
	ErrUnknownSecurityModels    = errors.New("unknown security models")
	ErrUnsupportedAccessModel   = errors.New("unsupported access control model")
	ErrInvalidMsgs              = errors.New("invalid messages")
	ErrUnknownPDUHandlers       = errors.New("unknown pdu handlers")
	ErrUnsupportedPDUType       = errors.New("unsupported pdu type")
	ErrNotTranslatable          = fmt.Errorf("pdu cannot be expressed in SNMPv1: %w", ErrUnsupportedPDUType)
	ErrErrorStatus              = errors.New("response carries an error status")
	ErrUnknownReportPDU         = errors.New("unknown report pdu")
	ErrRequestTimedOut          = errors.New("request timed out")
	ErrCacheMiss                = errors.New("cache miss")
	ErrDataMismatch             = errors.New("data mismatch")
	ErrUnknownCommunityName     = errors.New("unknown community name")
	ErrUnknownSecurityName      = errors.New("unknown security name")
	ErrUnknownUsername          = errors.New("unknown username")
	ErrUnknownEngineID          = errors.New("unknown engine id")
	ErrUnknownSecurityLevel     = errors.New("unknown security level")
	ErrNotInTimeWindow          = errors.New("not in time window")
	ErrAuthenticationFailure    = errors.New("authentication failure")
	ErrWrongDigest              = fmt.Errorf("wrong digest: %w", ErrAuthenticationFailure)
	ErrDecryption               = errors.New("decryption error")
	ErrEncryption               = errors.New("encryption error")
	ErrUnsecuredTransport       = errors.New("transport provides no security")
	ErrUnknownTarget            = errors.New("unknown target")
	ErrTransportUnavailable     = errors.New("transport dispatcher not registered")
	ErrTransportAlreadyAttached = errors.New("a different transport dispatcher is already registered")
	ErrApplicationRegistered    = errors.New("application already registered")
	ErrInvalidEngineID          = errors.New("invalid engine id")
	ErrMissingNotificationOID   = errors.New("notification has no snmpTrapOID")
	ErrAccessDenied             = errors.New("access denied")
	ErrNoSuchView               = fmt.Errorf("no such view: %w", ErrAccessDenied)
	ErrNoAccessEntry            = fmt.Errorf("no access entry: %w", ErrAccessDenied)
	ErrNoCertMapping            = errors.New("no matching certificate mapping")
	ErrNoGroupName              = fmt.Errorf("no group name: %w", ErrAccessDenied)
	ErrNoSuchContext            = fmt.Errorf("no such context: %w", ErrAccessDenied)
	ErrNotInView                = fmt.Errorf("not in view: %w", ErrAccessDenied)
)

// reportErrors maps the first variable of a Report PDU to the error
// indication it signals.
var reportErrors = map[string]error{
	usmStatsUnsupportedSecLevels: ErrUnknownSecurityLevel,
	usmStatsNotInTimeWindows:     ErrNotInTimeWindow,
	usmStatsUnknownUserNames:     ErrUnknownUsername,
	usmStatsUnknownEngineIDs:     ErrUnknownEngineID,
	usmStatsWrongDigests:         ErrWrongDigest,
	usmStatsDecryptionErrors:     ErrDecryption,
	snmpUnknownSecurityModels:    ErrUnknownSecurityModels,
	snmpInvalidMsgs:              ErrInvalidMsgs,
	snmpUnknownPDUHandlers:       ErrUnknownPDUHandlers,
}

// StatusInformation is returned by security and message processing models
// when an incoming message fails a check that the sender should hear about.
// It carries the counter to put in the Report together with the security
// data the Report must be generated with.
type StatusInformation struct {
	Err error

	// OID and Value form the single variable binding of the Report.
	OID   string
	Value uint32

	SecurityStateReference uint32
	SecurityEngineID       string
	SecurityName           string
	SecurityLevel          SecurityLevel
	ContextEngineID        string
	ContextName            string
	MaxSizeResponse        int
}

func (s *StatusInformation) Error() string {
	if s.OID == "" {
		return s.Err.Error()
	}
	return fmt.Sprintf("%s (%s=%d)", s.Err, s.OID, s.Value)
}

func (s *StatusInformation) Unwrap() error {
	return s.Err
}
