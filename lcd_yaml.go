// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout read by LoadConfig.
//
//	engineID: 80004fb805636c6f75644dab22cc
//	communities:
//	  - community: public
//	    securityName: monitor
//	usmUsers:
//	  - userName: admin
//	    authProtocol: sha256
//	    authPassphrase: maplesyrup
//	    privProtocol: aes
//	    privPassphrase: maplesyrup
//	targets:
//	  - name: nms
//	    address: 192.0.2.1:162
//	    timeout: 1500ms
//	    retries: 3
//	    tags: [traps]
//	    params: v3admin
//	targetParams:
//	  - name: v3admin
//	    version: "3"
//	    securityName: admin
//	    securityLevel: authPriv
//	notifications:
//	  - name: default
//	    tag: traps
//	    type: inform
//	certMappings:
//	  - type: specified
//	    fingerprint: "3e:9a:...:41"
//	    securityName: admin
type fileConfig struct {
	EngineID      string             `yaml:"engineID"`
	Communities   []fileCommunity    `yaml:"communities"`
	USMUsers      []fileUSMUser      `yaml:"usmUsers"`
	Targets       []fileTarget       `yaml:"targets"`
	TargetParams  []fileTargetParams `yaml:"targetParams"`
	Notifications []fileNotify       `yaml:"notifications"`
	Contexts      []string           `yaml:"contexts"`
	VACM          fileVACM           `yaml:"vacm"`
	CertMappings  []fileCertMapping  `yaml:"certMappings"`
}

type fileCommunity struct {
	Name         string `yaml:"name"`
	Community    string `yaml:"community"`
	SecurityName string `yaml:"securityName"`
	ContextName  string `yaml:"contextName"`
}

type fileUSMUser struct {
	UserName       string `yaml:"userName"`
	SecurityName   string `yaml:"securityName"`
	AuthProtocol   string `yaml:"authProtocol"`
	AuthPassphrase string `yaml:"authPassphrase"`
	PrivProtocol   string `yaml:"privProtocol"`
	PrivPassphrase string `yaml:"privPassphrase"`
}

type fileTarget struct {
	Name    string   `yaml:"name"`
	Domain  string   `yaml:"domain"`
	Address string   `yaml:"address"`
	Timeout string   `yaml:"timeout"`
	Retries int      `yaml:"retries"`
	Tags    []string `yaml:"tags"`
	Params  string   `yaml:"params"`
}

type fileTargetParams struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	SecurityModel string `yaml:"securityModel"`
	SecurityName  string `yaml:"securityName"`
	SecurityLevel string `yaml:"securityLevel"`
}

type fileNotify struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
	Type string `yaml:"type"`
}

// fileCertMapping fingerprints are hex, optionally colon separated.
type fileCertMapping struct {
	Type         string `yaml:"type"`
	Fingerprint  string `yaml:"fingerprint"`
	Hash         string `yaml:"hash"`
	SecurityName string `yaml:"securityName"`
}

type fileVACM struct {
	Groups []struct {
		SecurityModel string `yaml:"securityModel"`
		SecurityName  string `yaml:"securityName"`
		Group         string `yaml:"group"`
	} `yaml:"groups"`
	Access []struct {
		Group         string `yaml:"group"`
		ContextPrefix string `yaml:"contextPrefix"`
		ContextMatch  string `yaml:"contextMatch"`
		SecurityModel string `yaml:"securityModel"`
		SecurityLevel string `yaml:"securityLevel"`
		ReadView      string `yaml:"readView"`
		WriteView     string `yaml:"writeView"`
		NotifyView    string `yaml:"notifyView"`
	} `yaml:"access"`
	Views []struct {
		Name     string `yaml:"name"`
		Subtree  string `yaml:"subtree"`
		Mask     string `yaml:"mask"`
		Excluded bool   `yaml:"excluded"`
	} `yaml:"views"`
}

// LoadConfig reads a YAML configuration into a new, validated LCD. Every
// problem found is reported, not only the first.
func LoadConfig(r io.Reader) (*LCD, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	c := NewLCD()
	var err error
	if fc.EngineID != "" {
		id, hexErr := hex.DecodeString(strings.TrimPrefix(fc.EngineID, "0x"))
		if hexErr != nil {
			err = multierr.Append(err, fmt.Errorf("engineID: %w", hexErr))
		}
		c.EngineID = string(id)
	}

	for _, ce := range fc.Communities {
		err = multierr.Append(err, c.AddCommunity(CommunityEntry(ce)))
	}
	for _, u := range fc.USMUsers {
		err = multierr.Append(err, addFileUSMUser(c, u))
	}
	for _, t := range fc.Targets {
		err = multierr.Append(err, addFileTarget(c, t))
	}
	for _, p := range fc.TargetParams {
		err = multierr.Append(err, addFileTargetParams(c, p))
	}
	for _, n := range fc.Notifications {
		typ := NotifyTrap
		switch strings.ToLower(n.Type) {
		case "", "trap":
		case "inform":
			typ = NotifyInform
		default:
			err = multierr.Append(err, fmt.Errorf("notification %q: unknown type %q", n.Name, n.Type))
			continue
		}
		err = multierr.Append(err, c.AddNotify(NotifyEntry{Name: n.Name, Tag: n.Tag, Type: typ}))
	}
	for _, name := range fc.Contexts {
		c.AddContext(name)
	}
	err = multierr.Append(err, addFileVACM(c, fc.VACM))
	for _, m := range fc.CertMappings {
		err = multierr.Append(err, addFileCertMapping(c, m))
	}

	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func addFileUSMUser(c *LCD, u fileUSMUser) error {
	auth, err := ParseAuthProtocol(u.AuthProtocol)
	if err != nil {
		return fmt.Errorf("usm user %q: %w", u.UserName, err)
	}
	priv, err := ParsePrivProtocol(u.PrivProtocol)
	if err != nil {
		return fmt.Errorf("usm user %q: %w", u.UserName, err)
	}
	return c.AddUSMUser(USMUser{
		UserName:       u.UserName,
		SecurityName:   u.SecurityName,
		AuthProtocol:   auth,
		AuthPassphrase: u.AuthPassphrase,
		PrivProtocol:   priv,
		PrivPassphrase: u.PrivPassphrase,
	})
}

func addFileTarget(c *LCD, t fileTarget) error {
	addr, err := net.ResolveUDPAddr("udp", t.Address)
	if err != nil {
		return fmt.Errorf("target %q: %w", t.Name, err)
	}
	var domain TransportDomain
	switch strings.ToLower(t.Domain) {
	case "", "udp":
	case "dtls":
		domain = DTLSUDPDomain
	default:
		return fmt.Errorf("target %q: unknown transport domain %q", t.Name, t.Domain)
	}
	var timeout time.Duration
	if t.Timeout != "" {
		if timeout, err = time.ParseDuration(t.Timeout); err != nil {
			return fmt.Errorf("target %q: timeout: %w", t.Name, err)
		}
	}
	return c.AddTargetAddr(TargetAddr{
		Name:       t.Name,
		Domain:     domain,
		Address:    addr,
		Timeout:    timeout,
		RetryCount: t.Retries,
		TagList:    t.Tags,
		Params:     t.Params,
	})
}

func addFileTargetParams(c *LCD, p fileTargetParams) error {
	version, err := ParseVersion(p.Version)
	if err != nil {
		return fmt.Errorf("target params %q: %w", p.Name, err)
	}
	model, err := ParseSecurityModel(p.SecurityModel)
	if err != nil {
		return fmt.Errorf("target params %q: %w", p.Name, err)
	}
	level, err := ParseSecurityLevel(p.SecurityLevel)
	if err != nil {
		return fmt.Errorf("target params %q: %w", p.Name, err)
	}
	return c.AddTargetParams(TargetParams{
		Name:                   p.Name,
		MessageProcessingModel: version,
		SecurityModel:          model,
		SecurityName:           p.SecurityName,
		SecurityLevel:          level,
	})
}

func addFileVACM(c *LCD, v fileVACM) error {
	var err error
	for _, g := range v.Groups {
		model, pErr := ParseSecurityModel(g.SecurityModel)
		if pErr != nil {
			err = multierr.Append(err, fmt.Errorf("vacm group %q: %w", g.Group, pErr))
			continue
		}
		err = multierr.Append(err, c.AddVacmGroup(model, g.SecurityName, g.Group))
	}
	for _, a := range v.Access {
		model, pErr := ParseSecurityModel(a.SecurityModel)
		level, lErr := ParseSecurityLevel(a.SecurityLevel)
		match := ContextMatchExact
		var mErr error
		switch strings.ToLower(a.ContextMatch) {
		case "", "exact":
		case "prefix":
			match = ContextMatchPrefix
		default:
			mErr = fmt.Errorf("unknown context match %q", a.ContextMatch)
		}
		if cErr := multierr.Combine(pErr, lErr, mErr); cErr != nil {
			err = multierr.Append(err, fmt.Errorf("vacm access for group %q: %w", a.Group, cErr))
			continue
		}
		err = multierr.Append(err, c.AddVacmAccess(VacmAccess{
			GroupName:     a.Group,
			ContextPrefix: a.ContextPrefix,
			SecurityModel: model,
			SecurityLevel: level,
			ContextMatch:  match,
			ReadView:      a.ReadView,
			WriteView:     a.WriteView,
			NotifyView:    a.NotifyView,
		}))
	}
	for _, view := range v.Views {
		mask, hErr := hex.DecodeString(view.Mask)
		if hErr != nil {
			err = multierr.Append(err, fmt.Errorf("vacm view %q: mask: %w", view.Name, hErr))
			continue
		}
		err = multierr.Append(err, c.AddVacmView(VacmViewEntry{
			ViewName: view.Name,
			Subtree:  view.Subtree,
			Mask:     mask,
			Included: !view.Excluded,
		}))
	}
	return err
}

func addFileCertMapping(c *LCD, m fileCertMapping) error {
	typ, err := ParseCertMappingType(m.Type)
	if err != nil {
		return err
	}
	cm := CertMapping{Type: typ, SecurityName: m.SecurityName}
	if typ != CertMapSpecified {
		c.AddCertMapping(cm)
		return nil
	}
	switch strings.ToLower(m.Hash) {
	case "", "sha256":
		cm.HashAlgo = crypto.SHA256
	case "sha1":
		cm.HashAlgo = crypto.SHA1
	case "sha384":
		cm.HashAlgo = crypto.SHA384
	case "sha512":
		cm.HashAlgo = crypto.SHA512
	default:
		return fmt.Errorf("certificate mapping %q: unknown hash %q", m.SecurityName, m.Hash)
	}
	if cm.Fingerprint, err = hex.DecodeString(strings.ReplaceAll(m.Fingerprint, ":", "")); err != nil {
		return fmt.Errorf("certificate mapping %q: fingerprint: %w", m.SecurityName, err)
	}
	if len(cm.Fingerprint) != cm.HashAlgo.Size() || m.SecurityName == "" {
		return fmt.Errorf("certificate mapping %q: needs a %s fingerprint and a security name", m.SecurityName, m.Hash)
	}
	c.AddCertMapping(cm)
	return nil
}

// ParseVersion accepts "1", "2c" and "3", with or without a leading "v".
func ParseVersion(s string) (SnmpVersion, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "v") {
	case "1":
		return Version1, nil
	case "2", "2c":
		return Version2c, nil
	case "3":
		return Version3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMPModel, s)
}

// ParseSecurityModel accepts the names printed by SecurityModelID.String.
// An empty name means any model, which LCD entries resolve from context.
func ParseSecurityModel(s string) (SecurityModelID, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return anySecurityModel, nil
	case "v1", "snmpv1":
		return SNMPv1SecurityModel, nil
	case "v2c", "snmpv2c":
		return SNMPv2cSecurityModel, nil
	case "usm":
		return UserSecurityModel, nil
	case "tsm":
		return TransportSecurityModel, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSecurityModels, s)
}

// ParseSecurityLevel accepts the names printed by SecurityLevel.String,
// case insensitively. An empty name means noAuthNoPriv.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToLower(s) {
	case "", "noauthnopriv":
		return NoAuthNoPriv, nil
	case "authnopriv":
		return AuthNoPriv, nil
	case "authpriv":
		return AuthPriv, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSecurityLevel, s)
}
