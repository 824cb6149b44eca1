// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"encoding/hex"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type counterID int

const (
	cntInPkts counterID = iota
	cntInBadVersions
	cntInBadCommunityNames
	cntInASNParseErrs
	cntUnknownSecurityModels
	cntInvalidMsgs
	cntUnknownPDUHandlers
	cntUnsupportedSecLevels
	cntNotInTimeWindows
	cntUnknownUserNames
	cntUnknownEngineIDs
	cntWrongDigests
	cntDecryptionErrors
	cntRequestTimeouts
	cntCacheMisses
	numCounters
)

// counterInfo describes each counter. The OID is set for counters that can
// be the subject of a Report PDU.
var counterInfo = [numCounters]struct {
	name string
	help string
	oid  string
}{
	cntInPkts:                {"in_pkts", "Messages delivered by the transport.", ".1.3.6.1.2.1.11.1.0"},
	cntInBadVersions:         {"in_bad_versions", "Messages for an unsupported SNMP version.", ".1.3.6.1.2.1.11.3.0"},
	cntInBadCommunityNames:   {"in_bad_community_names", "Community-based messages with an unknown community.", ".1.3.6.1.2.1.11.4.0"},
	cntInASNParseErrs:        {"in_asn_parse_errs", "Messages that failed to decode.", ".1.3.6.1.2.1.11.6.0"},
	cntUnknownSecurityModels: {"unknown_security_models", "Messages for an unsupported security model.", snmpUnknownSecurityModels},
	cntInvalidMsgs:           {"invalid_msgs", "Messages with inconsistent header fields.", snmpInvalidMsgs},
	cntUnknownPDUHandlers:    {"unknown_pdu_handlers", "PDUs no application was registered for.", snmpUnknownPDUHandlers},
	cntUnsupportedSecLevels:  {"usm_unsupported_sec_levels", "Messages at a security level the user cannot provide.", usmStatsUnsupportedSecLevels},
	cntNotInTimeWindows:      {"usm_not_in_time_windows", "Messages outside the authoritative time window.", usmStatsNotInTimeWindows},
	cntUnknownUserNames:      {"usm_unknown_user_names", "Messages for an unknown user.", usmStatsUnknownUserNames},
	cntUnknownEngineIDs:      {"usm_unknown_engine_ids", "Messages for an unknown authoritative engine.", usmStatsUnknownEngineIDs},
	cntWrongDigests:          {"usm_wrong_digests", "Messages that failed authentication.", usmStatsWrongDigests},
	cntDecryptionErrors:      {"usm_decryption_errors", "Messages that failed decryption.", usmStatsDecryptionErrors},
	cntRequestTimeouts:       {"request_timeouts", "Outstanding requests that ran out of retries.", ""},
	cntCacheMisses:           {"cache_misses", "Responses that matched no outstanding request.", ""},
}

// engineStats holds the engine's protocol counters and exposes them as a
// prometheus.Collector. Counters wrap at 2^32 like their MIB definitions.
type engineStats struct {
	values  [numCounters]atomic.Uint32
	pending atomic.Int64

	descs       [numCounters]*prometheus.Desc
	pendingDesc *prometheus.Desc
}

var _ prometheus.Collector = (*engineStats)(nil)

func newEngineStats(engineID string) *engineStats {
	labels := prometheus.Labels{"engine_id": hex.EncodeToString([]byte(engineID))}
	s := &engineStats{
		pendingDesc: prometheus.NewDesc("snmp_pending_requests",
			"Confirmed requests awaiting a response.", nil, labels),
	}
	for i := range s.descs {
		s.descs[i] = prometheus.NewDesc("snmp_"+counterInfo[i].name+"_total",
			counterInfo[i].help, nil, labels)
	}
	return s
}

func (s *engineStats) inc(id counterID) uint32 {
	return s.values[id].Add(1)
}

func (s *engineStats) get(id counterID) uint32 {
	return s.values[id].Load()
}

// byOID returns the current value of the counter reported under oid.
func (s *engineStats) byOID(oid string) (uint32, bool) {
	for i := range counterInfo {
		if counterInfo[i].oid == oid {
			return s.values[i].Load(), true
		}
	}
	return 0, false
}

func (s *engineStats) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range s.descs {
		ch <- d
	}
	ch <- s.pendingDesc
}

func (s *engineStats) Collect(ch chan<- prometheus.Metric) {
	for i, d := range s.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(s.values[i].Load()))
	}
	ch <- prometheus.MustNewConstMetric(s.pendingDesc, prometheus.GaugeValue, float64(s.pending.Load()))
}

// Statistics is a snapshot of the engine counters.
type Statistics struct {
	InPkts                uint32
	InBadVersions         uint32
	InBadCommunityNames   uint32
	InASNParseErrs        uint32
	UnknownSecurityModels uint32
	InvalidMsgs           uint32
	UnknownPDUHandlers    uint32
	UnsupportedSecLevels  uint32
	NotInTimeWindows      uint32
	UnknownUserNames      uint32
	UnknownEngineIDs      uint32
	WrongDigests          uint32
	DecryptionErrors      uint32
	RequestTimeouts       uint32
	CacheMisses           uint32
	PendingRequests       int
}

func (s *engineStats) snapshot() Statistics {
	return Statistics{
		InPkts:                s.get(cntInPkts),
		InBadVersions:         s.get(cntInBadVersions),
		InBadCommunityNames:   s.get(cntInBadCommunityNames),
		InASNParseErrs:        s.get(cntInASNParseErrs),
		UnknownSecurityModels: s.get(cntUnknownSecurityModels),
		InvalidMsgs:           s.get(cntInvalidMsgs),
		UnknownPDUHandlers:    s.get(cntUnknownPDUHandlers),
		UnsupportedSecLevels:  s.get(cntUnsupportedSecLevels),
		NotInTimeWindows:      s.get(cntNotInTimeWindows),
		UnknownUserNames:      s.get(cntUnknownUserNames),
		UnknownEngineIDs:      s.get(cntUnknownEngineIDs),
		WrongDigests:          s.get(cntWrongDigests),
		DecryptionErrors:      s.get(cntDecryptionErrors),
		RequestTimeouts:       s.get(cntRequestTimeouts),
		CacheMisses:           s.get(cntCacheMisses),
		PendingRequests:       int(s.pending.Load()),
	}
}
