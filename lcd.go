// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"net"
	"slices"
	"time"

	"go.uber.org/multierr"
)

// CommunityEntry maps a community string to a security name and the context
// its messages address, as in SNMP-COMMUNITY-MIB snmpCommunityTable.
type CommunityEntry struct {
	Name         string
	Community    string
	SecurityName string
	ContextName  string
}

// USMUser is an entry of the SNMP-USER-BASED-SM-MIB usmUserTable. Keys are
// derived from the passphrases and localized per authoritative engine.
type USMUser struct {
	UserName string

	// SecurityName defaults to UserName.
	SecurityName string

	AuthProtocol   AuthProtocol
	AuthPassphrase string
	PrivProtocol   PrivProtocol
	PrivPassphrase string
}

// minPassphraseLength is the shortest passphrase RFC 3414 section 11.2
// allows.
const minPassphraseLength = 8

// TargetAddr is an entry of the SNMP-TARGET-MIB snmpTargetAddrTable.
type TargetAddr struct {
	Name    string
	Domain  TransportDomain
	Address net.Addr

	// Timeout and RetryCount drive confirmed requests to the target.
	Timeout    time.Duration
	RetryCount int

	// TagList selects the target for notifications.
	TagList []string

	// Params names a TargetParams entry.
	Params string
}

// TargetParams is an entry of the SNMP-TARGET-MIB snmpTargetParamsTable.
type TargetParams struct {
	Name                   string
	MessageProcessingModel SnmpVersion
	SecurityModel          SecurityModelID
	SecurityName           string
	SecurityLevel          SecurityLevel
}

// NotifyType selects unconfirmed or confirmed notifications.
type NotifyType int

const (
	NotifyTrap   NotifyType = 1
	NotifyInform NotifyType = 2
)

func (n NotifyType) String() string {
	switch n {
	case NotifyTrap:
		return "trap"
	case NotifyInform:
		return "inform"
	}
	return fmt.Sprintf("NotifyType(%d)", int(n))
}

// NotifyEntry is an entry of the SNMP-NOTIFICATION-MIB snmpNotifyTable.
type NotifyEntry struct {
	Name string
	Tag  string
	Type NotifyType
}

// ContextMatch is vacmAccessContextMatch.
type ContextMatch int

const (
	ContextMatchExact  ContextMatch = 1
	ContextMatchPrefix ContextMatch = 2
)

// VacmAccess is an entry of the SNMP-VIEW-BASED-ACM-MIB vacmAccessTable. A
// zero SecurityModel matches any model.
type VacmAccess struct {
	GroupName     string
	ContextPrefix string
	SecurityModel SecurityModelID
	SecurityLevel SecurityLevel
	ContextMatch  ContextMatch
	ReadView      string
	WriteView     string
	NotifyView    string
}

// VacmViewEntry is an entry of vacmViewTreeFamilyTable. Bit i of Mask, most
// significant bit first, selects whether sub-identifier i of Subtree must
// match; a missing or short mask matches exactly.
type VacmViewEntry struct {
	ViewName string
	Subtree  string
	Mask     []byte
	Included bool
}

type vacmGroupKey struct {
	securityModel SecurityModelID
	securityName  string
}

type vacmViewFamily struct {
	VacmViewEntry
	subids []uint32
}

// LCD is the local configuration datastore: the subset of SNMP-TARGET-MIB,
// SNMP-NOTIFICATION-MIB, SNMP-COMMUNITY-MIB, SNMP-USER-BASED-SM-MIB and
// SNMP-VIEW-BASED-ACM-MIB the engine consults. Like the engine it is not
// safe for concurrent use once the engine runs.
type LCD struct {
	// EngineID is used when EngineOptions does not set one.
	EngineID string

	communities  []CommunityEntry
	users        map[string]*USMUser
	targetAddrs  map[string]*TargetAddr
	targetParams map[string]*TargetParams
	notify       map[string]*NotifyEntry
	contexts     map[string]struct{}
	vacmGroups   map[vacmGroupKey]string
	vacmAccess   []VacmAccess
	vacmViews    map[string][]vacmViewFamily
	certMappings []CertMapping
}

func NewLCD() *LCD {
	return &LCD{
		users:        make(map[string]*USMUser),
		targetAddrs:  make(map[string]*TargetAddr),
		targetParams: make(map[string]*TargetParams),
		notify:       make(map[string]*NotifyEntry),
		contexts:     map[string]struct{}{"": {}},
		vacmGroups:   make(map[vacmGroupKey]string),
		vacmViews:    make(map[string][]vacmViewFamily),
	}
}

// -- community-based security -------------------------------------------------

// AddCommunity adds or replaces the entry named entry.Name.
func (c *LCD) AddCommunity(entry CommunityEntry) error {
	if entry.Community == "" {
		return fmt.Errorf("community entry %q: empty community", entry.Name)
	}
	if entry.Name == "" {
		entry.Name = entry.Community
	}
	if entry.SecurityName == "" {
		entry.SecurityName = entry.Community
	}
	c.communities = slices.DeleteFunc(c.communities, func(e CommunityEntry) bool {
		return e.Name == entry.Name
	})
	c.communities = append(c.communities, entry)
	return nil
}

func (c *LCD) communityBySecurityName(securityName string) (CommunityEntry, bool) {
	for _, e := range c.communities {
		if e.SecurityName == securityName {
			return e, true
		}
	}
	return CommunityEntry{}, false
}

func (c *LCD) communityByValue(community string) (CommunityEntry, bool) {
	for _, e := range c.communities {
		if e.Community == community {
			return e, true
		}
	}
	return CommunityEntry{}, false
}

// -- USM ----------------------------------------------------------------------

// AddUSMUser adds or replaces the user named u.UserName.
func (c *LCD) AddUSMUser(u USMUser) error {
	if u.UserName == "" || len(u.UserName) > 32 {
		return fmt.Errorf("usm user %q: user name must be 1 to 32 octets", u.UserName)
	}
	if u.SecurityName == "" {
		u.SecurityName = u.UserName
	}
	if u.AuthProtocol == 0 {
		u.AuthProtocol = NoAuth
	}
	if u.PrivProtocol == 0 {
		u.PrivProtocol = NoPriv
	}
	if u.AuthProtocol == NoAuth && u.PrivProtocol != NoPriv {
		return fmt.Errorf("usm user %q: privacy requires authentication", u.UserName)
	}
	if u.AuthProtocol != NoAuth && len(u.AuthPassphrase) < minPassphraseLength {
		return fmt.Errorf("usm user %q: authentication passphrase shorter than %d", u.UserName, minPassphraseLength)
	}
	if u.PrivProtocol != NoPriv && len(u.PrivPassphrase) < minPassphraseLength {
		return fmt.Errorf("usm user %q: privacy passphrase shorter than %d", u.UserName, minPassphraseLength)
	}
	if u.AuthProtocol.digestLength() == 0 && u.AuthProtocol != NoAuth {
		return fmt.Errorf("usm user %q: %s", u.UserName, u.AuthProtocol)
	}
	if u.PrivProtocol.keyLength() == 0 && u.PrivProtocol != NoPriv {
		return fmt.Errorf("usm user %q: %s", u.UserName, u.PrivProtocol)
	}
	c.users[u.UserName] = &u
	return nil
}

// USMUser returns a copy of the user named userName.
func (c *LCD) USMUser(userName string) (USMUser, bool) {
	u, ok := c.users[userName]
	if !ok {
		return USMUser{}, false
	}
	return *u, true
}

func (c *LCD) usmUserByName(userName string) (*USMUser, bool) {
	u, ok := c.users[userName]
	return u, ok
}

func (c *LCD) usmUserBySecurityName(securityName string) (*USMUser, bool) {
	if u, ok := c.users[securityName]; ok && u.SecurityName == securityName {
		return u, true
	}
	for _, name := range sortedStringKeys(c.users) {
		if u := c.users[name]; u.SecurityName == securityName {
			return u, true
		}
	}
	return nil, false
}

// -- targets ------------------------------------------------------------------

// AddTargetAddr adds or replaces the target named t.Name. The domain is
// inferred from the address when not set.
func (c *LCD) AddTargetAddr(t TargetAddr) error {
	if t.Name == "" {
		return fmt.Errorf("target address: empty name")
	}
	if t.Address == nil {
		return fmt.Errorf("target address %q: no address", t.Name)
	}
	if t.Domain == "" {
		t.Domain = domainOf(t.Address)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("target address %q: negative retry count", t.Name)
	}
	t.TagList = slices.Clone(t.TagList)
	c.targetAddrs[t.Name] = &t
	return nil
}

func domainOf(addr net.Addr) TransportDomain {
	if u, ok := addr.(*net.UDPAddr); ok && u.IP.To4() == nil && u.IP != nil {
		return UDPIPv6Domain
	}
	return UDPIPv4Domain
}

func (c *LCD) AddTargetParams(p TargetParams) error {
	if p.Name == "" {
		return fmt.Errorf("target params: empty name")
	}
	if p.SecurityLevel == 0 {
		p.SecurityLevel = NoAuthNoPriv
	}
	if p.SecurityModel == 0 {
		switch p.MessageProcessingModel {
		case Version1:
			p.SecurityModel = SNMPv1SecurityModel
		case Version2c:
			p.SecurityModel = SNMPv2cSecurityModel
		default:
			p.SecurityModel = UserSecurityModel
		}
	}
	c.targetParams[p.Name] = &p
	return nil
}

func (c *LCD) AddNotify(n NotifyEntry) error {
	if n.Name == "" {
		return fmt.Errorf("notify: empty name")
	}
	if n.Type == 0 {
		n.Type = NotifyTrap
	}
	c.notify[n.Name] = &n
	return nil
}

// TargetAddr returns the target named name.
func (c *LCD) TargetAddr(name string) (*TargetAddr, error) {
	t, ok := c.targetAddrs[name]
	if !ok {
		return nil, fmt.Errorf("%w: target address %q", ErrUnknownTarget, name)
	}
	return t, nil
}

// TargetParams returns the parameters named name.
func (c *LCD) TargetParams(name string) (*TargetParams, error) {
	p, ok := c.targetParams[name]
	if !ok {
		return nil, fmt.Errorf("%w: target params %q", ErrUnknownTarget, name)
	}
	return p, nil
}

// Notify returns the notification entry named name.
func (c *LCD) Notify(name string) (*NotifyEntry, error) {
	n, ok := c.notify[name]
	if !ok {
		return nil, fmt.Errorf("%w: notification %q", ErrUnknownTarget, name)
	}
	return n, nil
}

// TargetNamesByTag returns the sorted names of the targets whose tag list
// contains tag.
func (c *LCD) TargetNamesByTag(tag string) []string {
	var names []string
	for name, t := range c.targetAddrs {
		if slices.Contains(t.TagList, tag) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// -- VACM ---------------------------------------------------------------------

func (c *LCD) AddContext(name string) {
	c.contexts[name] = struct{}{}
}

// HasContext reports whether name is a locally known context. The default
// context "" always exists.
func (c *LCD) HasContext(name string) bool {
	_, ok := c.contexts[name]
	return ok
}

// AddVacmGroup puts securityName, as seen through securityModel, in
// groupName.
func (c *LCD) AddVacmGroup(securityModel SecurityModelID, securityName, groupName string) error {
	if securityModel == anySecurityModel {
		return fmt.Errorf("vacm group %q: a security model is required", groupName)
	}
	if securityName == "" || groupName == "" {
		return fmt.Errorf("vacm group: empty security or group name")
	}
	c.vacmGroups[vacmGroupKey{securityModel, securityName}] = groupName
	return nil
}

func (c *LCD) vacmGroupName(securityModel SecurityModelID, securityName string) (string, bool) {
	g, ok := c.vacmGroups[vacmGroupKey{securityModel, securityName}]
	return g, ok
}

// AddVacmAccess adds or replaces the entry indexed by the group, context
// prefix, security model and level.
func (c *LCD) AddVacmAccess(a VacmAccess) error {
	if a.GroupName == "" {
		return fmt.Errorf("vacm access: empty group name")
	}
	if a.SecurityLevel == 0 {
		a.SecurityLevel = NoAuthNoPriv
	}
	if a.ContextMatch == 0 {
		a.ContextMatch = ContextMatchExact
	}
	c.vacmAccess = slices.DeleteFunc(c.vacmAccess, func(o VacmAccess) bool {
		return o.GroupName == a.GroupName && o.ContextPrefix == a.ContextPrefix &&
			o.SecurityModel == a.SecurityModel && o.SecurityLevel == a.SecurityLevel
	})
	c.vacmAccess = append(c.vacmAccess, a)
	return nil
}

// AddVacmView adds or replaces a view tree family.
func (c *LCD) AddVacmView(v VacmViewEntry) error {
	if v.ViewName == "" {
		return fmt.Errorf("vacm view: empty name")
	}
	subids, err := parseOIDString(v.Subtree)
	if err != nil {
		return fmt.Errorf("vacm view %q: %w", v.ViewName, err)
	}
	if len(v.Mask) > 16 {
		return fmt.Errorf("vacm view %q: mask longer than 16 octets", v.ViewName)
	}
	v.Subtree = formatOID(subids)
	v.Mask = slices.Clone(v.Mask)
	families := slices.DeleteFunc(c.vacmViews[v.ViewName], func(f vacmViewFamily) bool {
		return f.Subtree == v.Subtree
	})
	c.vacmViews[v.ViewName] = append(families, vacmViewFamily{VacmViewEntry: v, subids: subids})
	return nil
}

// AddVacmUser grants securityName access to the given subtrees in
// contextName with a group and views of its own. Empty subtrees grant
// nothing for that view type.
func (c *LCD) AddVacmUser(securityModel SecurityModelID, securityName string, level SecurityLevel, contextName, readSubtree, writeSubtree, notifySubtree string) error {
	group := "grp-" + securityName
	if err := c.AddVacmGroup(securityModel, securityName, group); err != nil {
		return err
	}
	a := VacmAccess{
		GroupName:     group,
		ContextPrefix: contextName,
		SecurityModel: securityModel,
		SecurityLevel: level,
		ContextMatch:  ContextMatchExact,
	}
	for _, v := range []struct {
		prefix  string
		subtree string
		dst     *string
	}{
		{"rv-", readSubtree, &a.ReadView},
		{"wv-", writeSubtree, &a.WriteView},
		{"nv-", notifySubtree, &a.NotifyView},
	} {
		if v.subtree == "" {
			continue
		}
		*v.dst = v.prefix + securityName
		if err := c.AddVacmView(VacmViewEntry{ViewName: *v.dst, Subtree: v.subtree, Included: true}); err != nil {
			return err
		}
	}
	c.AddContext(contextName)
	return c.AddVacmAccess(a)
}

// -- TSM ----------------------------------------------------------------------

// AddCertMapping appends a certificate to security name mapping. Mappings
// are tried in the order they were added.
func (c *LCD) AddCertMapping(m CertMapping) {
	c.certMappings = append(c.certMappings, m)
}

func (c *LCD) CertMappings() []CertMapping {
	return slices.Clone(c.certMappings)
}

// Validate reports every dangling reference in the datastore.
func (c *LCD) Validate() error {
	var err error
	for _, name := range sortedStringKeys(c.targetAddrs) {
		t := c.targetAddrs[name]
		if _, ok := c.targetParams[t.Params]; !ok {
			err = multierr.Append(err, fmt.Errorf("target address %q: unknown params %q", name, t.Params))
		}
	}
	for _, name := range sortedStringKeys(c.targetParams) {
		err = multierr.Append(err, c.validateParams(c.targetParams[name]))
	}
	for _, name := range sortedStringKeys(c.notify) {
		n := c.notify[name]
		if len(c.TargetNamesByTag(n.Tag)) == 0 {
			err = multierr.Append(err, fmt.Errorf("notify %q: no target carries tag %q", name, n.Tag))
		}
	}
	for _, a := range c.vacmAccess {
		for _, view := range []string{a.ReadView, a.WriteView, a.NotifyView} {
			if _, ok := c.vacmViews[view]; view != "" && !ok {
				err = multierr.Append(err, fmt.Errorf("vacm access for group %q: unknown view %q", a.GroupName, view))
			}
		}
	}
	return err
}

func (c *LCD) validateParams(p *TargetParams) error {
	switch p.SecurityModel {
	case SNMPv1SecurityModel, SNMPv2cSecurityModel:
		if p.MessageProcessingModel == Version3 {
			return fmt.Errorf("target params %q: %s over SNMPv3", p.Name, p.SecurityModel)
		}
		if p.SecurityLevel != NoAuthNoPriv {
			return fmt.Errorf("target params %q: community security is %s only", p.Name, NoAuthNoPriv)
		}
		if _, ok := c.communityBySecurityName(p.SecurityName); !ok {
			return fmt.Errorf("target params %q: no community for %q", p.Name, p.SecurityName)
		}
	case UserSecurityModel:
		if p.MessageProcessingModel != Version3 {
			return fmt.Errorf("target params %q: USM requires SNMPv3", p.Name)
		}
		u, ok := c.usmUserBySecurityName(p.SecurityName)
		if !ok {
			return fmt.Errorf("target params %q: no USM user for %q", p.Name, p.SecurityName)
		}
		if !u.supports(p.SecurityLevel) {
			return fmt.Errorf("target params %q: user %q cannot provide %s", p.Name, u.UserName, p.SecurityLevel)
		}
	case TransportSecurityModel:
		if p.MessageProcessingModel != Version3 {
			return fmt.Errorf("target params %q: TSM requires SNMPv3", p.Name)
		}
	default:
		return fmt.Errorf("target params %q: %w: %d", p.Name, ErrUnknownSecurityModels, p.SecurityModel)
	}
	return nil
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String summarizes the datastore without secrets.
func (c *LCD) String() string {
	return fmt.Sprintf("communities=%d users=%d targets=%d params=%d notify=%d groups=%d access=%d views=%d",
		len(c.communities), len(c.users), len(c.targetAddrs), len(c.targetParams),
		len(c.notify), len(c.vacmGroups), len(c.vacmAccess), len(c.vacmViews))
}
