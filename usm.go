// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"bytes"
	"crypto/hmac"
	"fmt"
	"math/rand/v2"
	"time"
)

// timeWindow is the tolerated clock skew in seconds, RFC 3414 section 2.2.3.
const timeWindow = 150

// usmSecurityParameters is the UsmSecurityParameters sequence carried in
// msgSecurityParameters.
type usmSecurityParameters struct {
	AuthoritativeEngineID    string
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 string
	AuthenticationParameters []byte
	PrivacyParameters        []byte
}

func (sp *usmSecurityParameters) SafeString() string {
	return fmt.Sprintf("AuthoritativeEngineID:%x AuthoritativeEngineBoots:%d AuthoritativeEngineTime:%d UserName:%s",
		sp.AuthoritativeEngineID, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, sp.UserName)
}

// marshal encodes the parameters and returns the offset of the
// msgAuthenticationParameters contents within the encoding.
func (sp *usmSecurityParameters) marshal() ([]byte, int, error) {
	buf := new(bytes.Buffer)
	if err := marshalTLV(buf, byte(OctetString), []byte(sp.AuthoritativeEngineID)); err != nil {
		return nil, 0, err
	}
	if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(sp.AuthoritativeEngineBoots))); err != nil {
		return nil, 0, err
	}
	if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(sp.AuthoritativeEngineTime))); err != nil {
		return nil, 0, err
	}
	if err := marshalTLV(buf, byte(OctetString), []byte(sp.UserName)); err != nil {
		return nil, 0, err
	}
	authLength, err := marshalLength(len(sp.AuthenticationParameters))
	if err != nil {
		return nil, 0, err
	}
	authOffset := buf.Len() + 1 + len(authLength)
	if err = marshalTLV(buf, byte(OctetString), sp.AuthenticationParameters); err != nil {
		return nil, 0, err
	}
	if err = marshalTLV(buf, byte(OctetString), sp.PrivacyParameters); err != nil {
		return nil, 0, err
	}

	bodyLength := buf.Len()
	out, err := wrapTLV(byte(Sequence), buf.Bytes())
	if err != nil {
		return nil, 0, err
	}
	return out, authOffset + len(out) - bodyLength, nil
}

func unmarshalUSMSecurityParameters(data []byte) (*usmSecurityParameters, int, error) {
	body, n, err := expectTLV(data, Sequence, "UsmSecurityParameters")
	if err != nil {
		return nil, 0, err
	}
	header := n - len(body)
	sp := &usmSecurityParameters{}

	engineID, cursor, err := expectTLV(body, OctetString, "msgAuthoritativeEngineID")
	if err != nil {
		return nil, 0, err
	}
	sp.AuthoritativeEngineID = string(engineID)

	for _, f := range []struct {
		what string
		dst  *uint32
	}{
		{"msgAuthoritativeEngineBoots", &sp.AuthoritativeEngineBoots},
		{"msgAuthoritativeEngineTime", &sp.AuthoritativeEngineTime},
	} {
		content, n, err := expectTLV(body[cursor:], Integer, f.what)
		if err != nil {
			return nil, 0, err
		}
		v, err := parseInt64(content)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", f.what, err)
		}
		if v < 0 || v > maxEngineBoots {
			return nil, 0, fmt.Errorf("%w: %s %d out of range", ErrParse, f.what, v)
		}
		*f.dst = uint32(v)
		cursor += n
	}

	userName, n, err := expectTLV(body[cursor:], OctetString, "msgUserName")
	if err != nil {
		return nil, 0, err
	}
	if len(userName) > 32 {
		return nil, 0, fmt.Errorf("%w: msgUserName of %d octets", ErrParse, len(userName))
	}
	sp.UserName = string(userName)
	cursor += n

	auth, n, err := expectTLV(body[cursor:], OctetString, "msgAuthenticationParameters")
	if err != nil {
		return nil, 0, err
	}
	authOffset := header + cursor + n - len(auth)
	sp.AuthenticationParameters = auth
	cursor += n

	priv, _, err := expectTLV(body[cursor:], OctetString, "msgPrivacyParameters")
	if err != nil {
		return nil, 0, err
	}
	sp.PrivacyParameters = priv
	return sp, authOffset, nil
}

// usmState is the security data shared between a message and its answer:
// the request this engine sent and the response it expects, or the request
// it received and the response it will send.
type usmState struct {
	engineID     string
	userName     string
	securityName string
	level        SecurityLevel

	// user is nil for discovery probes.
	user *USMUser
	keys localizedKeys
}

// usmTimeline is this engine's notion of a remote authoritative engine's
// clock, RFC 3414 section 2.3.
type usmTimeline struct {
	boots              uint32
	engineTime         uint32
	latestReceivedTime uint32
	syncedAt           time.Time
}

func (t *usmTimeline) estimate(now time.Time) (uint32, uint32) {
	return t.boots, t.engineTime + uint32(now.Sub(t.syncedAt)/time.Second)
}

// usm is the User-based Security Model of RFC 3414 with the SHA-2
// authentication protocols of RFC 7860 and the AES privacy protocols of
// RFC 3826 and its 192/256 bit extensions.
type usm struct {
	keys      *usmKeyCache
	states    *stateCache[*usmState]
	timelines map[string]*usmTimeline
	salt      uint64
}

var _ SecurityModel = (*usm)(nil)

func newUSM() *usm {
	return &usm{
		keys:      newUSMKeyCache(localizedKeyCacheSize),
		states:    newStateCache[*usmState](),
		timelines: make(map[string]*usmTimeline),
		salt:      rand.Uint64(),
	}
}

func (m *usm) ID() SecurityModelID {
	return UserSecurityModel
}

// synchronized reports whether the clock of engineID is known, which an
// authenticated request to it requires.
func (m *usm) synchronized(e *Engine, engineID string) bool {
	if engineID == e.engineID {
		return true
	}
	_, ok := m.timelines[engineID]
	return ok
}

// engineClock returns the boots and time to put in a message for which
// engineID is authoritative.
func (m *usm) engineClock(e *Engine, engineID string) (uint32, uint32) {
	if engineID == e.engineID {
		return e.boots, e.EngineTime()
	}
	if tl, ok := m.timelines[engineID]; ok {
		return tl.estimate(e.clock.Now())
	}
	return 0, 0
}

func (m *usm) GenerateRequestMsg(e *Engine, out *OutgoingMessage) ([]byte, uint32, error) {
	st := &usmState{
		engineID:     out.SecurityEngineID,
		securityName: out.SecurityName,
		level:        out.SecurityLevel,
	}
	// An empty security name at noAuthNoPriv is a discovery probe.
	if out.SecurityName != "" || out.SecurityLevel > NoAuthNoPriv {
		user, ok := e.config.usmUserBySecurityName(out.SecurityName)
		if !ok {
			return nil, 0, fmt.Errorf("%w: no USM user for %q", ErrUnknownSecurityName, out.SecurityName)
		}
		st.user = user
		st.userName = user.UserName
		if out.SecurityLevel > NoAuthNoPriv {
			st.keys = m.keys.keys(user, out.SecurityEngineID)
		}
	}

	boots, engineTime := m.engineClock(e, out.SecurityEngineID)
	msg, err := m.generate(out, st, out.SecurityLevel, boots, engineTime)
	if err != nil {
		return nil, 0, err
	}
	// the dispatcher releases request state when the request finishes
	return msg, m.states.hold(st), nil
}

func (m *usm) GenerateResponseMsg(e *Engine, out *OutgoingMessage, stateRef uint32) ([]byte, error) {
	if stateRef == 0 {
		st := &usmState{engineID: e.engineID, userName: out.SecurityName, level: NoAuthNoPriv}
		return m.generate(out, st, NoAuthNoPriv, e.boots, e.EngineTime())
	}

	st, err := m.states.peek(stateRef)
	if err != nil {
		return nil, err
	}
	msg, err := m.generate(out, st, out.SecurityLevel, e.boots, e.EngineTime())
	if err != nil {
		return nil, err
	}
	m.states.discard(stateRef)
	return msg, nil
}

// generate secures and assembles one message at level, with boots and
// engineTime as the authoritative engine's clock.
func (m *usm) generate(out *OutgoingMessage, st *usmState, level SecurityLevel, boots, engineTime uint32) ([]byte, error) {
	if level > NoAuthNoPriv && !st.user.supports(level) {
		return nil, fmt.Errorf("%w: %s for user %q", ErrUnknownSecurityLevel, level, st.userName)
	}

	sp := &usmSecurityParameters{
		AuthoritativeEngineID:    st.engineID,
		AuthoritativeEngineBoots: boots,
		AuthoritativeEngineTime:  engineTime,
		UserName:                 st.userName,
	}
	scopedPDUData := out.ScopedPDU
	if level == AuthPriv {
		m.salt++
		ciphertext, privParams, err := encryptScopedPDU(st.user.PrivProtocol, st.keys.priv, boots, engineTime, m.salt, out.ScopedPDU)
		if err != nil {
			return nil, err
		}
		sp.PrivacyParameters = privParams
		if scopedPDUData, err = wrapTLV(byte(OctetString), ciphertext); err != nil {
			return nil, err
		}
	}
	if level >= AuthNoPriv {
		sp.AuthenticationParameters = make([]byte, st.user.AuthProtocol.digestLength())
	}

	spBytes, authOffset, err := sp.marshal()
	if err != nil {
		return nil, err
	}
	msg, spOffset, err := marshalV3Message(out.GlobalData, spBytes, scopedPDUData)
	if err != nil {
		return nil, err
	}
	if out.MaxMessageSize > 0 && len(msg) > out.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooBig, len(msg), out.MaxMessageSize)
	}
	if level >= AuthNoPriv {
		copy(msg[spOffset+authOffset:], computeDigest(st.user.AuthProtocol, st.keys.auth, msg))
	}
	return msg, nil
}

// statusInformation counts a failed check and describes the Report that
// answers it. Reports go out unauthenticated unless st is given.
func (m *usm) statusInformation(e *Engine, id counterID, indication error, userName string, st *usmState) *StatusInformation {
	si := &StatusInformation{
		Err:              indication,
		OID:              counterInfo[id].oid,
		Value:            e.stats.inc(id),
		SecurityEngineID: e.engineID,
		SecurityName:     userName,
		SecurityLevel:    NoAuthNoPriv,
		ContextEngineID:  e.engineID,
		MaxSizeResponse:  e.maxMessageSize,
	}
	if st != nil {
		si.SecurityName = st.securityName
		si.SecurityLevel = AuthNoPriv
		si.SecurityStateReference = m.states.push(st, e.clock.Now())
	}
	return si
}

// ProcessIncomingMsg implements RFC 3414 section 3.2.
func (m *usm) ProcessIncomingMsg(e *Engine, in *IncomingMessage) (*SecurityResult, error) {
	sp, authOffset, err := unmarshalUSMSecurityParameters(in.SecurityParameters)
	if err != nil {
		e.stats.inc(cntInASNParseErrs)
		return nil, err
	}
	if e.Logger.Enabled() {
		e.Logger.Printf("usm: incoming %s", sp.SafeString())
	}

	var cached *usmState
	if in.SecurityStateReference != 0 {
		if cached, err = m.states.pop(in.SecurityStateReference); err != nil {
			return nil, err
		}
	}

	local := sp.AuthoritativeEngineID == e.engineID
	if cached == nil && !local && (in.Reportable || sp.AuthoritativeEngineID == "") {
		return nil, m.statusInformation(e, cntUnknownEngineIDs, ErrUnknownEngineID, sp.UserName, nil)
	}

	var (
		user         *USMUser
		keys         localizedKeys
		securityName string
	)
	switch {
	case cached != nil && (cached.user != nil || in.SecurityLevel == NoAuthNoPriv):
		user, keys, securityName = cached.user, cached.keys, cached.securityName
		if in.SecurityLevel > NoAuthNoPriv && sp.UserName != cached.userName {
			return nil, m.statusInformation(e, cntUnknownUserNames, ErrUnknownUsername, sp.UserName, nil)
		}
	default:
		u, ok := e.config.usmUserByName(sp.UserName)
		if !ok {
			return nil, m.statusInformation(e, cntUnknownUserNames, ErrUnknownUsername, sp.UserName, nil)
		}
		user, securityName = u, u.SecurityName
		if in.SecurityLevel > NoAuthNoPriv {
			keys = m.keys.keys(u, sp.AuthoritativeEngineID)
		}
	}
	if in.SecurityLevel > NoAuthNoPriv && !user.supports(in.SecurityLevel) {
		return nil, m.statusInformation(e, cntUnsupportedSecLevels, ErrUnknownSecurityLevel, sp.UserName, nil)
	}

	if in.SecurityLevel >= AuthNoPriv {
		if !m.authentic(in, sp, authOffset, user.AuthProtocol, keys.auth) {
			return nil, m.statusInformation(e, cntWrongDigests, ErrWrongDigest, sp.UserName, nil)
		}
		if local {
			if sp.AuthoritativeEngineBoots == maxEngineBoots ||
				sp.AuthoritativeEngineBoots != e.boots ||
				absDiff(sp.AuthoritativeEngineTime, e.EngineTime()) > timeWindow {
				st := &usmState{engineID: e.engineID, userName: user.UserName, securityName: securityName, level: AuthNoPriv, user: user, keys: keys}
				return nil, m.statusInformation(e, cntNotInTimeWindows, ErrNotInTimeWindow, sp.UserName, st)
			}
		} else if err := m.checkTimeliness(e, sp); err != nil {
			return nil, err
		}
	} else if cached != nil && sp.AuthoritativeEngineID != "" {
		// An unauthenticated answer to our request, typically a discovery
		// Report, seeds the clock of an engine we have not heard from.
		if _, ok := m.timelines[sp.AuthoritativeEngineID]; !ok {
			m.timelines[sp.AuthoritativeEngineID] = &usmTimeline{
				boots:              sp.AuthoritativeEngineBoots,
				engineTime:         sp.AuthoritativeEngineTime,
				latestReceivedTime: sp.AuthoritativeEngineTime,
				syncedAt:           e.clock.Now(),
			}
		}
	}

	scopedPDU := in.ScopedPDUData
	if in.SecurityLevel < AuthPriv && in.Encrypted {
		e.stats.inc(cntInASNParseErrs)
		return nil, fmt.Errorf("%w: encrypted scoped PDU without the privacy flag", ErrParse)
	}
	if in.SecurityLevel == AuthPriv {
		scopedPDU, err = m.decrypt(in, sp, user.PrivProtocol, keys.priv)
		if err != nil {
			e.Logger.Printf("usm: decrypting message from %v: %v", in.TransportAddress, err)
			return nil, m.statusInformation(e, cntDecryptionErrors, ErrDecryption, sp.UserName, nil)
		}
	}

	res := &SecurityResult{
		SecurityEngineID: sp.AuthoritativeEngineID,
		SecurityName:     securityName,
		ScopedPDU:        scopedPDU,
		MaxSizeResponse:  min(in.MaxMessageSize, e.maxMessageSize),
	}
	if cached == nil && in.Reportable {
		res.SecurityStateReference = m.states.push(&usmState{
			engineID:     e.engineID,
			userName:     user.UserName,
			securityName: securityName,
			level:        in.SecurityLevel,
			user:         user,
			keys:         keys,
		}, e.clock.Now())
	}
	return res, nil
}

func (m *usm) authentic(in *IncomingMessage, sp *usmSecurityParameters, authOffset int, proto AuthProtocol, key []byte) bool {
	if len(sp.AuthenticationParameters) != proto.digestLength() {
		return false
	}
	msg := append([]byte(nil), in.WholeMsg...)
	start := in.SecurityParametersOffset + authOffset
	clear(msg[start : start+len(sp.AuthenticationParameters)])
	return hmac.Equal(computeDigest(proto, key, msg), sp.AuthenticationParameters)
}

// checkTimeliness updates the notion of a remote engine's clock from an
// authentic message and rejects the message when it is stale, RFC 3414
// section 3.2 step 7b.
func (m *usm) checkTimeliness(e *Engine, sp *usmSecurityParameters) error {
	now := e.clock.Now()
	tl, ok := m.timelines[sp.AuthoritativeEngineID]
	if !ok || sp.AuthoritativeEngineBoots > tl.boots ||
		(sp.AuthoritativeEngineBoots == tl.boots && sp.AuthoritativeEngineTime > tl.latestReceivedTime) {
		tl = &usmTimeline{
			boots:              sp.AuthoritativeEngineBoots,
			engineTime:         sp.AuthoritativeEngineTime,
			latestReceivedTime: sp.AuthoritativeEngineTime,
			syncedAt:           now,
		}
		m.timelines[sp.AuthoritativeEngineID] = tl
	}

	boots, engineTime := tl.estimate(now)
	if sp.AuthoritativeEngineBoots == maxEngineBoots ||
		sp.AuthoritativeEngineBoots < boots ||
		(sp.AuthoritativeEngineBoots == boots && int64(engineTime)-int64(sp.AuthoritativeEngineTime) > timeWindow) {
		e.stats.inc(cntNotInTimeWindows)
		return fmt.Errorf("%w: engine %x boots %d time %d, expected boots %d time %d",
			ErrNotInTimeWindow, sp.AuthoritativeEngineID, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, boots, engineTime)
	}
	return nil
}

func (m *usm) decrypt(in *IncomingMessage, sp *usmSecurityParameters, proto PrivProtocol, key []byte) ([]byte, error) {
	if !in.Encrypted {
		return nil, fmt.Errorf("%w: privacy requested but scoped PDU is in clear text", ErrDecryption)
	}
	plaintext, err := decryptScopedPDU(proto, key, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, sp.PrivacyParameters, in.ScopedPDUData)
	if err != nil {
		return nil, err
	}
	// DES pads to its block size; anything after the ScopedPDU is padding.
	tag, _, n, err := parseTLV(plaintext)
	if err != nil || Asn1BER(tag) != Sequence {
		return nil, fmt.Errorf("%w: plaintext is not a ScopedPDU", ErrDecryption)
	}
	return plaintext[:n], nil
}

func (m *usm) ReleaseStateInformation(stateRef uint32) {
	m.states.discard(stateRef)
}

func (m *usm) ReceiveTimerTick(_ *Engine, now time.Time) {
	m.states.expire(now.Add(-responseStateTTL), nil)
}

// supports reports whether u is configured for level.
func (u *USMUser) supports(level SecurityLevel) bool {
	switch level {
	case NoAuthNoPriv:
		return true
	case AuthNoPriv:
		return u != nil && u.AuthProtocol > NoAuth
	case AuthPriv:
		return u != nil && u.AuthProtocol > NoAuth && u.PrivProtocol > NoPriv
	}
	return false
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
