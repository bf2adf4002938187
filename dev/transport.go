package dev

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

type transp interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	SetDeadline(t time.Time) error
	Close() error
}

// transpTCP is a telnet session over a raw TCP connection.
type transpTCP struct {
	net.Conn
	filter telnetFilter
	raw    []byte
}

func (s *transpTCP) Read(b []byte) (int, error) {
	if len(s.raw) < len(b) {
		s.raw = make([]byte, len(b))
	}

	for {
		n, readErr := s.Conn.Read(s.raw[:len(b)])

		data, reply := s.filter.feed(s.raw[:n])
		if len(reply) > 0 {
			if _, wrErr := s.Conn.Write(reply); wrErr != nil {
				return 0, fmt.Errorf("telnet: option refusal: %v", wrErr)
			}
		}

		if len(data) > 0 || readErr != nil {
			return copy(b, data), readErr
		}

		// only telnet commands received: keep reading
	}
}

// Write escapes IAC bytes so payload data is never taken as a telnet command.
func (s *transpTCP) Write(b []byte) (int, error) {
	if bytes.IndexByte(b, cmdIAC) < 0 {
		return s.Conn.Write(b)
	}
	escaped := bytes.ReplaceAll(b, []byte{cmdIAC}, []byte{cmdIAC, cmdIAC})
	if _, err := s.Conn.Write(escaped); err != nil {
		return 0, err
	}
	return len(b), nil
}

// transpSSH runs an interactive shell over ssh.
// Reads honor the deadline through a pump goroutine, since the
// ssh channel has no deadline of its own.
type transpSSH struct {
	client   *ssh.Client
	session  *ssh.Session
	writer   io.WriteCloser
	data     chan []byte
	done     chan struct{}
	readErr  error
	pending  []byte
	deadline time.Time
	once     sync.Once
}

type sshTimeoutError struct{}

func (e sshTimeoutError) Error() string { return "ssh read: i/o timeout" }

func (e sshTimeoutError) Timeout() bool { return true }

func (e sshTimeoutError) Temporary() bool { return true }

func (s *transpSSH) pump(r io.Reader) {
	defer close(s.data)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.data <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err // visible to readers after close(s.data)
			return
		}
	}
}

func (s *transpSSH) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		var expire <-chan time.Time
		if !s.deadline.IsZero() {
			wait := time.Until(s.deadline)
			if wait <= 0 {
				return 0, sshTimeoutError{}
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			expire = timer.C
		}

		select {
		case chunk, ok := <-s.data:
			if !ok {
				if s.readErr == nil {
					return 0, io.EOF
				}
				return 0, s.readErr
			}
			s.pending = chunk
		case <-expire:
			return 0, sshTimeoutError{}
		}
	}

	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *transpSSH) Write(b []byte) (int, error) {
	n, err := s.writer.Write(b)
	if err != nil {
		return n, fmt.Errorf("ssh write: %v", err)
	}
	return n, nil
}

func (s *transpSSH) SetDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

func (s *transpSSH) Close() error {
	var err1, err2 error
	s.once.Do(func() {
		close(s.done)
		err1 = s.session.Close()
		err2 = s.client.Close()
	})
	if err2 != nil {
		return fmt.Errorf("close error: session=[%v] conn=[%v]", err1, err2)
	}
	return nil
}

// openTransport tries each transport in the comma-separated list, in order.
func openTransport(ctx context.Context, logger hasPrintf, label, address string, port int, transports, user, pass string, timeout time.Duration) (transp, string, error) {
	tList := strings.Split(transports, ",")

	var lastErr error

	for _, t := range tList {
		t = strings.TrimSpace(t)
		switch t {
		case "ssh":
			s, err := openSSH(ctx, label, net.JoinHostPort(address, "22"), timeout, user, pass)
			if err == nil {
				return s, t, nil
			}
			logger.Printf("openTransport: %v", err)
			lastErr = err
		case "telnet", "":
			s, err := openTelnet(ctx, label, net.JoinHostPort(address, strconv.Itoa(port)), timeout)
			if err == nil {
				return s, "telnet", nil
			}
			logger.Printf("openTransport: %v", err)
			lastErr = err
		default:
			logger.Printf("openTransport: %s unknown transport: [%s]", label, t)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable transport in [%s]", transports)
	}

	return nil, transports, lastErr
}

func openTelnet(ctx context.Context, label, hostPort string, timeout time.Duration) (transp, error) {

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("openTelnet: %s %s - %v", label, hostPort, err)
	}

	return &transpTCP{Conn: conn}, nil
}

func openSSH(ctx context.Context, label, hostPort string, timeout time.Duration, user, pass string) (transp, error) {

	dialer := net.Dialer{Timeout: timeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", hostPort)
	if dialErr != nil {
		return nil, fmt.Errorf("openSSH: Dial: %s %s - %v", label, hostPort, dialErr)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // switches use self-generated keys
		Timeout:         timeout,
	}

	conn.SetDeadline(time.Now().Add(timeout)) // bound the handshake

	// cancellation aborts the handshake
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	c, chans, reqs, connErr := ssh.NewClientConn(conn, hostPort, config)
	close(handshakeDone)
	if connErr == nil && ctx.Err() != nil {
		c.Close()
		connErr = ctx.Err()
	}
	if connErr != nil {
		conn.Close()
		return nil, fmt.Errorf("openSSH: NewClientConn: %s %s - %v", label, hostPort, connErr)
	}

	conn.SetDeadline(time.Time{})

	cli := ssh.NewClient(c, chans, reqs)

	ses, sessionErr := cli.NewSession()
	if sessionErr != nil {
		cli.Close()
		return nil, fmt.Errorf("openSSH: NewSession: %s - %v", label, sessionErr)
	}

	if ptyErr := ses.RequestPty("vt100", 24, 80, ssh.TerminalModes{}); ptyErr != nil {
		ses.Close()
		cli.Close()
		return nil, fmt.Errorf("openSSH: Pty: %s - %v", label, ptyErr)
	}

	reader, rdErr := ses.StdoutPipe()
	if rdErr != nil {
		ses.Close()
		cli.Close()
		return nil, fmt.Errorf("openSSH: StdoutPipe: %s - %v", label, rdErr)
	}

	writer, wrErr := ses.StdinPipe()
	if wrErr != nil {
		ses.Close()
		cli.Close()
		return nil, fmt.Errorf("openSSH: StdinPipe: %s - %v", label, wrErr)
	}

	if shellErr := ses.Shell(); shellErr != nil {
		ses.Close()
		cli.Close()
		return nil, fmt.Errorf("openSSH: Remote shell error: %s - %v", label, shellErr)
	}

	s := &transpSSH{
		client:  cli,
		session: ses,
		writer:  writer,
		data:    make(chan []byte),
		done:    make(chan struct{}),
	}

	go s.pump(reader)

	return s, nil
}
