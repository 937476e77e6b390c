package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	socks5Version = 0x05

	authNone     = 0x00
	authPassword = 0x02
	authNoAccept = 0xFF

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySuccess = 0x00
)

var socks5Replies = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// socks5Dialer performs SOCKS5 TCP CONNECT (RFC 1928) with optional
// username/password authentication (RFC 1929). The target host name is sent
// to the proxy unresolved.
type socks5Dialer struct {
	addr     string
	username string
	password string
	forward  ContextDialer
}

func newSOCKS5Dialer(u *url.URL, forward ContextDialer) *socks5Dialer {
	d := &socks5Dialer{addr: hostPort(u), forward: forward}
	if u.User != nil {
		d.username = u.User.Username()
		d.password, _ = u.User.Password()
	}
	return d
}

func (d *socks5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SOCKS5 proxy: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := d.handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("SOCKS5 handshake failed: %w", err)
	}
	if err := d.connect(conn, host, port); err != nil {
		conn.Close()
		return nil, fmt.Errorf("SOCKS5 CONNECT failed: %w", err)
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

// handshake negotiates the authentication method.
func (d *socks5Dialer) handshake(conn net.Conn) error {
	greeting := []byte{socks5Version, 0x01, authNone}
	if d.username != "" {
		greeting = []byte{socks5Version, 0x02, authNone, authPassword}
	}
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("failed to send greeting: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp[0] != socks5Version {
		return fmt.Errorf("invalid SOCKS version: %d", resp[0])
	}

	switch resp[1] {
	case authNone:
		return nil
	case authPassword:
		return d.passwordAuth(conn)
	case authNoAccept:
		return errors.New("proxy rejected all authentication methods")
	default:
		return fmt.Errorf("unsupported authentication method: %d", resp[1])
	}
}

func (d *socks5Dialer) passwordAuth(conn net.Conn) error {
	if d.username == "" {
		return errors.New("proxy requires authentication but no credentials provided")
	}
	if len(d.username) > 255 || len(d.password) > 255 {
		return errors.New("credentials too long")
	}

	req := make([]byte, 0, 3+len(d.username)+len(d.password))
	req = append(req, 0x01, byte(len(d.username)))
	req = append(req, d.username...)
	req = append(req, byte(len(d.password)))
	req = append(req, d.password...)
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp[1] != 0x00 {
		return errors.New("authentication failed: invalid credentials")
	}
	return nil
}

func (d *socks5Dialer) connect(conn net.Conn, host, port string) error {
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}

	req := []byte{socks5Version, cmdConnect, 0x00}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			req = append(req, atypIPv4)
			req = append(req, ip4...)
		} else {
			req = append(req, atypIPv6)
			req = append(req, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return errors.New("domain name too long")
		}
		req = append(req, atypDomain, byte(len(host)))
		req = append(req, host...)
	}
	req = binary.BigEndian.AppendUint16(req, uint16(portNum))

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	// VER REP RSV ATYP
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("failed to read reply header: %w", err)
	}
	if header[0] != socks5Version {
		return fmt.Errorf("invalid SOCKS version in reply: %d", header[0])
	}
	if header[1] != replySuccess {
		reason, ok := socks5Replies[header[1]]
		if !ok {
			reason = "unknown error"
		}
		return fmt.Errorf("%s (reply=%d)", reason, header[1])
	}

	// discard the bound address
	var skip int
	switch header[3] {
	case atypIPv4:
		skip = 4 + 2
	case atypIPv6:
		skip = 16 + 2
	case atypDomain:
		l := make([]byte, 1)
		if _, err := io.ReadFull(conn, l); err != nil {
			return fmt.Errorf("failed to read domain length: %w", err)
		}
		skip = int(l[0]) + 2
	default:
		return fmt.Errorf("unsupported address type in reply: %d", header[3])
	}
	if _, err := io.ReadFull(conn, make([]byte, skip)); err != nil {
		return fmt.Errorf("failed to read bound address: %w", err)
	}
	return nil
}
