// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"slices"
	"strings"
)

// AccessModelID identifies an access control model.
type AccessModelID int

const (
	// VoidAccessModel grants every request.
	VoidAccessModel AccessModelID = 0

	// ViewBasedAccessModel is the VACM of RFC 3415.
	ViewBasedAccessModel AccessModelID = 3
)

func (a AccessModelID) String() string {
	switch a {
	case VoidAccessModel:
		return "void"
	case ViewBasedAccessModel:
		return "vacm"
	}
	return fmt.Sprintf("AccessModelID(%d)", int(a))
}

// ViewType selects which view of an access entry a check consults.
type ViewType int

const (
	ReadView ViewType = iota + 1
	WriteView
	NotifyView
)

func (v ViewType) String() string {
	switch v {
	case ReadView:
		return "read"
	case WriteView:
		return "write"
	case NotifyView:
		return "notify"
	}
	return fmt.Sprintf("ViewType(%d)", int(v))
}

// AccessControlModel decides whether a principal may access an object. It
// returns nil to allow and an error wrapping ErrAccessDenied to deny; other
// errors indicate the check itself could not be made.
type AccessControlModel interface {
	IsAccessAllowed(e *Engine, securityModel SecurityModelID, securityName string, securityLevel SecurityLevel,
		viewType ViewType, contextName string, oid string) error
}

type voidAccessModel struct{}

func (voidAccessModel) IsAccessAllowed(*Engine, SecurityModelID, string, SecurityLevel, ViewType, string, string) error {
	return nil
}

// vacm evaluates RFC 3415 section 3.2 isAccessAllowed against the engine's
// LCD. An empty oid checks only that a view is configured.
type vacm struct{}

func (vacm) IsAccessAllowed(e *Engine, securityModel SecurityModelID, securityName string, securityLevel SecurityLevel,
	viewType ViewType, contextName string, oid string,
) error {
	c := e.config
	if !c.HasContext(contextName) {
		return fmt.Errorf("%w: %q", ErrNoSuchContext, contextName)
	}
	group, ok := c.vacmGroupName(securityModel, securityName)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoGroupName, securityModel, securityName)
	}
	access, ok := c.bestAccess(group, securityModel, securityLevel, contextName)
	if !ok {
		return fmt.Errorf("%w: group %q, context %q, %s", ErrNoAccessEntry, group, contextName, securityLevel)
	}

	var viewName string
	switch viewType {
	case ReadView:
		viewName = access.ReadView
	case WriteView:
		viewName = access.WriteView
	case NotifyView:
		viewName = access.NotifyView
	}
	if viewName == "" {
		return fmt.Errorf("%w: group %q has no %s view", ErrNoSuchView, group, viewType)
	}
	if oid == "" {
		return nil
	}
	subids, err := parseOIDString(oid)
	if err != nil {
		return err
	}
	if !c.inView(viewName, subids) {
		return fmt.Errorf("%w: %s not in %s view %q", ErrNotInView, oid, viewType, viewName)
	}
	return nil
}

// bestAccess selects the access entry for a request, preferring in order a
// specific security model over any, an exact context match over a prefix,
// a longer prefix, and a higher security level (RFC 3415 section 4).
func (c *LCD) bestAccess(group string, model SecurityModelID, level SecurityLevel, contextName string) (VacmAccess, bool) {
	var best *VacmAccess
	better := func(a, b *VacmAccess) bool {
		if (a.SecurityModel != anySecurityModel) != (b.SecurityModel != anySecurityModel) {
			return a.SecurityModel != anySecurityModel
		}
		aExact, bExact := a.ContextPrefix == contextName, b.ContextPrefix == contextName
		if aExact != bExact {
			return aExact
		}
		if len(a.ContextPrefix) != len(b.ContextPrefix) {
			return len(a.ContextPrefix) > len(b.ContextPrefix)
		}
		return a.SecurityLevel > b.SecurityLevel
	}
	for i := range c.vacmAccess {
		a := &c.vacmAccess[i]
		if a.GroupName != group || a.SecurityLevel > level {
			continue
		}
		if a.SecurityModel != anySecurityModel && a.SecurityModel != model {
			continue
		}
		if a.ContextMatch == ContextMatchPrefix {
			if !strings.HasPrefix(contextName, a.ContextPrefix) {
				continue
			}
		} else if a.ContextPrefix != contextName {
			continue
		}
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best == nil {
		return VacmAccess{}, false
	}
	return *best, true
}

// inView reports whether oid is in view viewName: the most specific family
// containing it decides, ties going to the lexicographically greatest
// subtree (RFC 3415 section 5, vacmViewTreeFamilyTable).
func (c *LCD) inView(viewName string, oid []uint32) bool {
	var best *vacmViewFamily
	families := c.vacmViews[viewName]
	for i := range families {
		f := &families[i]
		if !f.contains(oid) {
			continue
		}
		if best == nil || len(f.subids) > len(best.subids) ||
			(len(f.subids) == len(best.subids) && slices.Compare(f.subids, best.subids) > 0) {
			best = f
		}
	}
	return best != nil && best.Included
}

func (f *vacmViewFamily) contains(oid []uint32) bool {
	if len(oid) < len(f.subids) {
		return false
	}
	for i, sub := range f.subids {
		if oid[i] == sub {
			continue
		}
		// a zero mask bit makes this position a wildcard
		if i/8 < len(f.Mask) && f.Mask[i/8]&(0x80>>(i%8)) == 0 {
			continue
		}
		return false
	}
	return true
}
