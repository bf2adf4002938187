package dev

import (
	"bytes"
	"net"
	"testing"
)

func TestTelnetFilter(t *testing.T) {
	var f telnetFilter

	raw := []byte{'a', cmdIAC, cmdDo, 24, 'b', cmdIAC, cmdWill, 1, 'c'}
	data, reply := f.feed(raw)

	if string(data) != "abc" {
		t.Errorf("data: got=%q", data)
	}
	wantedReply := []byte{cmdIAC, cmdWont, 24, cmdIAC, cmdDont, 1}
	if !bytes.Equal(reply, wantedReply) {
		t.Errorf("reply: got=%v wanted=%v", reply, wantedReply)
	}
}

func TestTelnetFilterSplit(t *testing.T) {
	var f telnetFilter

	data1, reply1 := f.feed([]byte{'x', cmdIAC})
	data2, reply2 := f.feed([]byte{cmdDo})
	data3, reply3 := f.feed([]byte{31, 'y'})

	data := string(data1) + string(data2) + string(data3)
	if data != "xy" {
		t.Errorf("data: got=%q", data)
	}
	if len(reply1) != 0 || len(reply2) != 0 {
		t.Errorf("premature reply: %v %v", reply1, reply2)
	}
	if !bytes.Equal(reply3, []byte{cmdIAC, cmdWont, 31}) {
		t.Errorf("reply: got=%v", reply3)
	}
}

func TestTelnetFilterSubnegotiation(t *testing.T) {
	var f telnetFilter

	raw := []byte{'a', cmdIAC, cmdSB, 24, 1, 'z', cmdIAC, cmdSE, 'b', cmdIAC, cmdIAC, cmdIAC, cmdDont, 3}
	data, reply := f.feed(raw)

	if !bytes.Equal(data, []byte{'a', 'b', cmdIAC}) {
		t.Errorf("data: got=%v", data)
	}
	if len(reply) != 0 {
		t.Errorf("DONT needs no reply: got=%v", reply)
	}
}

// captureConn records what is written to the wire.
type captureConn struct {
	net.Conn
	wire bytes.Buffer
}

func (c *captureConn) Write(b []byte) (int, error) {
	return c.wire.Write(b)
}

func TestTelnetWriteEscapesIAC(t *testing.T) {
	conn := &captureConn{}
	s := &transpTCP{Conn: conn}

	payload := []byte{'p', cmdIAC, 'w', cmdIAC, cmdIAC, '\r'}
	n, err := s.Write(payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(payload) {
		t.Errorf("count: got=%d wanted=%d", n, len(payload))
	}

	wanted := []byte{'p', cmdIAC, cmdIAC, 'w', cmdIAC, cmdIAC, cmdIAC, cmdIAC, '\r'}
	if !bytes.Equal(conn.wire.Bytes(), wanted) {
		t.Errorf("wire: got=%v wanted=%v", conn.wire.Bytes(), wanted)
	}

	conn.wire.Reset()
	if _, err := s.Write([]byte("plain\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if conn.wire.String() != "plain\r" {
		t.Errorf("plain payload altered: %q", conn.wire.String())
	}
}
