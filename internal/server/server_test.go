package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"aquadb/internal/engine"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	db, err := engine.New(engine.Config{
		DataDir:              t.TempDir(),
		BlockSize:            4096,
		BufferPoolSlots:      64,
		PinTimeoutMS:         1000,
		WorkingMemBytes:      1 << 20,
		FreeSpaceGranularity: 8,
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	ready := make(chan string, 1)
	go func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Errorf("net.Listen() error = %v", err)
			ready <- ""
			return
		}
		s.listener = ln
		ready <- ln.Addr().String()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn, "test-conn")
		}
	}()
	addr := <-ready
	if addr == "" {
		t.Fatal("server failed to start listening")
	}
	t.Cleanup(func() { s.Close() })
	return s, addr
}

func dialAndQuery(t *testing.T, addr, stmt string) (ok bool, statusMsg string, cols []string, rowCount int) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if err := writeMessage(w, tagQuery, []byte(stmt)); err != nil {
		t.Fatalf("writeMessage() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r := bufio.NewReader(conn)
	tag, payload, err := readMessage(r)
	if err != nil {
		t.Fatalf("readMessage(status) error = %v", err)
	}
	if tag != tagStatus {
		t.Fatalf("first message tag = %d, want tagStatus", tag)
	}
	ok = payload[0] == 1
	statusMsg = string(payload[1:])
	if !ok {
		return ok, statusMsg, nil, 0
	}

	tag, payload, err = readMessage(r)
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if tag == tagFieldTypes {
		n := int(payload[0])<<8 | int(payload[1])
		off := 2
		for i := 0; i < n; i++ {
			l := int(payload[off])<<8 | int(payload[off+1])
			off += 2
			cols = append(cols, string(payload[off:off+l]))
			off += l
		}
		tag, payload, err = readMessage(r)
		if err != nil {
			t.Fatalf("readMessage(results) error = %v", err)
		}
		if tag == tagResults {
			rowCount = int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
			tag, _, err = readMessage(r)
			if err != nil {
				t.Fatalf("readMessage(done) error = %v", err)
			}
		}
	}
	if tag != tagDone {
		t.Fatalf("final message tag = %d, want tagDone", tag)
	}
	return ok, statusMsg, cols, rowCount
}

func TestServerCreateTableAndSelectRoundTrip(t *testing.T) {
	_, addr := newTestServer(t)

	ok, _, _, _ := dialAndQuery(t, addr, "CREATE TABLE users (id INT, name VARCHAR(16))")
	if !ok {
		t.Fatalf("CREATE TABLE did not succeed")
	}

	ok, _, _, _ = dialAndQuery(t, addr, "INSERT INTO users VALUES (1, 'Alice')")
	if !ok {
		t.Fatalf("INSERT did not succeed")
	}

	ok, _, cols, rows := dialAndQuery(t, addr, "SELECT name FROM users")
	if !ok {
		t.Fatalf("SELECT did not succeed")
	}
	if len(cols) != 1 || cols[0] != "name" {
		t.Errorf("cols = %v, want [name]", cols)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}

func TestServerReportsStatusFailureOnBadSQL(t *testing.T) {
	_, addr := newTestServer(t)

	ok, msg, _, _ := dialAndQuery(t, addr, "NOT VALID SQL")
	if ok {
		t.Fatalf("expected status failure for invalid SQL, got ok=true msg=%q", msg)
	}
	if msg == "" {
		t.Errorf("expected a non-empty error message")
	}
}
