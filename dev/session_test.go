package dev

import (
	"context"
	"net"
	"testing"
	"time"
)

// spawnServerChunks sends each chunk with a small pause, then holds the
// connection open until the client hangs up.
func spawnServerChunks(t *testing.T, chunks ...string) (*testServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &testServer{listener: ln, done: make(chan int)}

	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				t.Logf("spawnServerChunks: accept failure, exiting: %v", acceptErr)
				break
			}
			go func(c net.Conn) {
				defer c.Close()
				for _, ch := range chunks {
					if _, wrErr := c.Write([]byte(ch)); wrErr != nil {
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
				(&clientInput{c: c}).waitFor("never")
			}(conn)
		}
		close(s.done)
	}()

	return s, nil
}

func openTestSession(t *testing.T, s *testServer, timeout time.Duration) *Session {
	sess, err := Open(context.Background(), &testLogger{t}, "127.0.0.1", s.port(), "telnet", "", "", timeout, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sess
}

func TestSessionLeftover(t *testing.T) {
	s, listenErr := spawnServerChunks(t, "AA***BB")
	if listenErr != nil {
		t.Fatalf("spawn: %v", listenErr)
	}

	sess := openTestSession(t, s, time.Second)

	got, err := sess.ReadUntil("***", time.Second)
	if err != nil {
		t.Fatalf("ReadUntil 1: %v", err)
	}
	if string(got) != "AA***" {
		t.Errorf("ReadUntil 1: got=[%s] wanted=[AA***]", got)
	}

	// BB must not be lost
	got, err = sess.ReadUntil("BB", time.Second)
	if err != nil {
		t.Fatalf("ReadUntil 2: %v", err)
	}
	if string(got) != "BB" {
		t.Errorf("ReadUntil 2: got=[%s] wanted=[BB]", got)
	}

	sess.Close()
	sess.Close() // idempotent

	s.close()
	<-s.done
}

func TestSessionSplitPattern(t *testing.T) {
	s, listenErr := spawnServerChunks(t, "xx**", "*yy", "#")
	if listenErr != nil {
		t.Fatalf("spawn: %v", listenErr)
	}

	sess := openTestSession(t, s, time.Second)

	got, err := sess.ReadUntil("***", time.Second)
	if err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	if string(got) != "xx***" {
		t.Errorf("got=[%s] wanted=[xx***]", got)
	}

	got, err = sess.ReadUntil("#", time.Second)
	if err != nil {
		t.Fatalf("ReadUntil prompt: %v", err)
	}
	if string(got) != "yy#" {
		t.Errorf("got=[%s] wanted=[yy#]", got)
	}

	sess.Close()
	s.close()
	<-s.done
}

func TestSessionTimeout(t *testing.T) {
	s, listenErr := spawnServerChunks(t, "Login incorrect\r\nPassword: ")
	if listenErr != nil {
		t.Fatalf("spawn: %v", listenErr)
	}

	sess := openTestSession(t, s, time.Second)

	begin := time.Now()
	_, err := sess.ReadUntil("#", 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if elap := time.Since(begin); elap > 2*time.Second {
		t.Errorf("timeout took too long: %v", elap)
	}
	if !IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got: %v", err)
	}

	te := err.(*TimeoutError)
	if te.LastLine != "Password: " {
		t.Errorf("last line: got=[%s]", te.LastLine)
	}

	sess.Close()
	s.close()
	<-s.done
}

func TestSessionCloseUnblocks(t *testing.T) {
	s, listenErr := spawnServerChunks(t)
	if listenErr != nil {
		t.Fatalf("spawn: %v", listenErr)
	}

	sess := openTestSession(t, s, time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		sess.Close()
	}()

	_, err := sess.ReadUntil("#", 10*time.Second)
	if err == nil {
		t.Fatalf("expected error after close")
	}
	if IsTimeout(err) {
		t.Errorf("close should not look like a timeout: %v", err)
	}

	s.close()
	<-s.done
}

func TestSessionWriteAfterClose(t *testing.T) {
	s, listenErr := spawnServerChunks(t)
	if listenErr != nil {
		t.Fatalf("spawn: %v", listenErr)
	}

	sess := openTestSession(t, s, time.Second)
	sess.Close()

	err := sess.Write([]byte("exit\n"))
	if err == nil {
		t.Fatalf("expected write error")
	}
	if _, ok := err.(*TransportError); !ok {
		t.Errorf("expected TransportError, got: %T %v", err, err)
	}

	s.close()
	<-s.done
}
