// Copyright 2025 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"

	"github.com/gosnmp/snmpengine"
)

const handshakeTimeout = 10 * time.Second

// SessionAddr is the address of a DTLS peer together with the
// tmSecurityName derived from its certificate.
type SessionAddr struct {
	*net.UDPAddr
	SecurityName string
}

var _ snmpengine.SecureTransportAddress = (*SessionAddr)(nil)

func (a *SessionAddr) TmSecurityName() string {
	return a.SecurityName
}

// dtlsSession is owned by the loop goroutine.
type dtlsSession struct {
	conn *dtls.Conn
	addr *SessionAddr

	// queue holds messages sent before the handshake completed.
	queue [][]byte

	// dialPending is set for client sessions requested before Run.
	dialPending bool
}

// DTLSDispatcher carries SNMP over DTLS (RFC 6353) for the transport
// security model. It accepts sessions when Listen was called and opens
// client sessions on the first message sent to a peer. Every peer must
// present a certificate that one of the mappings turns into a
// tmSecurityName.
type DTLSDispatcher struct {
	*loop
	config   *dtls.Config
	mappings []snmpengine.CertMapping
	listener net.Listener
	sessions map[string]*dtlsSession

	// ctx is the context of the current Run; wg tracks the goroutines
	// serving sessions.
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

var _ snmpengine.TransportDispatcher = (*DTLSDispatcher)(nil)

// NewDTLSDispatcher creates a dispatcher with config for both the client
// and the server side of sessions.
func NewDTLSDispatcher(opts Options, config *dtls.Config, mappings []snmpengine.CertMapping) *DTLSDispatcher {
	return &DTLSDispatcher{
		loop:     newLoop(opts),
		config:   config,
		mappings: mappings,
		sessions: make(map[string]*dtlsSession),
	}
}

// Listen accepts sessions on addr and returns the bound address. Call it
// before Run. Clients must present a certificate.
func (d *DTLSDispatcher) Listen(addr string) (net.Addr, error) {
	if d.config == nil {
		return nil, errors.New("DTLS config required for a DTLS listener")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	serverConfig := *d.config
	serverConfig.ClientAuth = dtls.RequireAndVerifyClientCert
	listener, err := dtls.Listen("udp", udpAddr, &serverConfig)
	if err != nil {
		return nil, err
	}
	d.listener = listener
	d.opts.Logger.Printf("transport: DTLS listening on %v", listener.Addr())
	return listener.Addr(), nil
}

// SendMessage writes msg on the session with addr, opening one if needed.
// Messages to a peer whose handshake is still running are queued, as are
// messages sent before Run.
func (d *DTLSDispatcher) SendMessage(msg []byte, domain snmpengine.TransportDomain, addr net.Addr) error {
	if domain != snmpengine.DTLSUDPDomain {
		return fmt.Errorf("%w: DTLS dispatcher cannot send over %s", snmpengine.ErrTransportUnavailable, domain)
	}
	key := addr.String()
	if s, ok := d.sessions[key]; ok {
		if s.conn == nil {
			s.queue = append(s.queue, msg)
			return nil
		}
		_, err := s.conn.Write(msg)
		return err
	}

	if _, err := net.ResolveUDPAddr("udp", key); err != nil {
		return err
	}
	s := &dtlsSession{queue: [][]byte{msg}}
	d.sessions[key] = s
	if !d.running {
		s.dialPending = true
		return nil
	}
	d.dial(key)
	return nil
}

// dial opens a client session with the peer at key.
func (d *DTLSDispatcher) dial(key string) {
	ctx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		udpAddr, err := net.ResolveUDPAddr("udp", key)
		if err != nil {
			_ = d.Post(ctx, func() { d.failed(key, err) })
			return
		}
		conn, err := dtls.Dial("udp", udpAddr, d.config)
		if err != nil {
			_ = d.Post(ctx, func() { d.failed(key, err) })
			return
		}
		d.serveConn(ctx, conn)
	}()
}

// serveConn completes the handshake on conn, registers the session and
// posts every message read from it to the loop.
func (d *DTLSDispatcher) serveConn(ctx context.Context, conn *dtls.Conn) {
	key := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := conn.HandshakeContext(hctx)
	cancel()
	var name string
	if err == nil {
		name, err = d.securityName(conn)
	}
	if err != nil {
		_ = d.Post(ctx, func() { d.failed(key, err) })
		return
	}

	remote, _ := conn.RemoteAddr().(*net.UDPAddr)
	addr := &SessionAddr{UDPAddr: remote, SecurityName: name}
	if err := d.Post(ctx, func() { d.established(key, conn, addr) }); err != nil {
		return
	}

	buf := make([]byte, d.opts.BufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				d.opts.Logger.Printf("transport: DTLS session with %v: %v", addr, err)
			}
			_ = d.Post(ctx, func() { d.closed(key, conn) })
			return
		}
		msg := append([]byte(nil), buf[:n]...)
		if err := d.Post(ctx, func() { d.deliver(snmpengine.DTLSUDPDomain, addr, msg) }); err != nil {
			return
		}
	}
}

// securityName maps the peer certificate chain to a tmSecurityName.
func (d *DTLSDispatcher) securityName(conn *dtls.Conn) (string, error) {
	state, ok := conn.ConnectionState()
	if !ok || len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("%w: peer presented no certificate", snmpengine.ErrNoCertMapping)
	}
	// pion/dtls returns raw DER, must parse
	chain := make([]*x509.Certificate, 0, len(state.PeerCertificates))
	for _, der := range state.PeerCertificates {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return "", fmt.Errorf("parsing peer certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	return snmpengine.ExtractSecurityName(chain, d.mappings)
}

func (d *DTLSDispatcher) established(key string, conn *dtls.Conn, addr *SessionAddr) {
	s, ok := d.sessions[key]
	if !ok {
		s = &dtlsSession{}
		d.sessions[key] = s
	}
	s.conn, s.addr = conn, addr
	d.opts.Logger.Printf("transport: DTLS session with %v as %q", addr, addr.SecurityName)
	for _, msg := range s.queue {
		if _, err := conn.Write(msg); err != nil {
			d.opts.Logger.Printf("transport: DTLS write to %v: %v", addr, err)
		}
	}
	s.queue = nil
}

func (d *DTLSDispatcher) failed(key string, err error) {
	if s, ok := d.sessions[key]; ok && s.conn == nil {
		delete(d.sessions, key)
		if len(s.queue) > 0 {
			d.opts.Logger.Printf("transport: DTLS session with %s failed, dropping %d messages: %v", key, len(s.queue), err)
			return
		}
	}
	d.opts.Logger.Printf("transport: DTLS session with %s failed: %v", key, err)
}

func (d *DTLSDispatcher) closed(key string, conn *dtls.Conn) {
	if s, ok := d.sessions[key]; ok && s.conn == conn {
		delete(d.sessions, key)
	}
}

// Run dispatches events until ctx is done. Sessions and the listener are
// closed when it returns.
func (d *DTLSDispatcher) Run(ctx context.Context) error {
	return d.serve(ctx, false)
}

// RunUntilIdle dispatches events until no job is outstanding or ctx is
// done.
func (d *DTLSDispatcher) RunUntilIdle(ctx context.Context) error {
	return d.serve(ctx, true)
}

func (d *DTLSDispatcher) serve(ctx context.Context, untilIdle bool) error {
	ctx, cancel := context.WithCancel(ctx)
	d.ctx, d.running = ctx, true
	for key, s := range d.sessions {
		if s.dialPending {
			s.dialPending = false
			d.dial(key)
		}
	}
	var sources []source
	if d.listener != nil {
		sources = append(sources, d.accept)
	}
	err := d.run(ctx, untilIdle, sources...)

	cancel()
	d.wg.Wait()
	d.ctx, d.running = nil, false
	clear(d.sessions)
	return err
}

func (d *DTLSDispatcher) accept(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = d.listener.Close() })
	defer stop()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.opts.Logger.Printf("transport: DTLS accept: %v", err)
			continue
		}
		dconn, ok := conn.(*dtls.Conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(ctx, dconn)
		}()
	}
}
