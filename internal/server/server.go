// Package server exposes an Engine over a minimal length-prefixed TCP wire
// protocol: every message is a u64 byte-length prefix
// followed by a one-byte tag and its payload, so a client never has to
// guess where a message ends.
package server

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"aquadb/internal/dblog"
	"aquadb/internal/engine"
	"aquadb/pkg/types"
)

// Message tags.
const (
	tagQuery      byte = 1 // client -> server: a SQL statement
	tagStatus     byte = 2 // server -> client: ok/error + message
	tagFieldTypes byte = 3 // server -> client: result column names/types
	tagResults    byte = 4 // server -> client: one batch of result rows
	tagDone       byte = 5 // server -> client: no more result batches
)

// Server accepts connections and runs each one's statements against a
// shared Engine. aquadb has no authentication layer;
// every connection can see every table.
type Server struct {
	db       *engine.Engine
	listener net.Listener
	conns    int64
}

// New wraps db for serving over TCP.
func New(db *engine.Engine) *Server {
	return &Server{db: db}
}

// ListenAndServe binds addr and serves connections until Accept returns any
// error, including the one it returns once the listener is closed.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	dblog.WithComponent("server").Info().Str("addr", addr).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		atomic.AddInt64(&s.conns, 1)
		connID := uuid.New().String()
		go s.handle(conn, connID)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handle(conn net.Conn, connID string) {
	defer conn.Close()
	defer atomic.AddInt64(&s.conns, -1)

	log := dblog.WithConn(connID)
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection opened")

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		tag, payload, err := readMessage(r)
		if err == io.EOF {
			log.Info().Msg("connection closed")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("read error")
			return
		}
		if tag != tagQuery {
			writeStatus(w, false, "expected a query message")
			w.Flush()
			continue
		}

		if err := s.runQuery(w, string(payload)); err != nil {
			writeStatus(w, false, err.Error())
		}
		if err := w.Flush(); err != nil {
			log.Warn().Err(err).Msg("write error")
			return
		}
	}
}

func (s *Server) runQuery(w *bufio.Writer, stmt string) error {
	result, err := s.db.ExecuteSQL(stmt)
	if err != nil {
		return err
	}

	if result.Status != "" {
		writeStatus(w, true, result.Status)
		return writeMessage(w, tagDone, nil)
	}

	if result.Columns == nil {
		writeStatus(w, true, fmt.Sprintf("OK, %d row(s) affected", result.RowsAffected))
		return writeMessage(w, tagDone, nil)
	}

	writeStatus(w, true, "OK")
	if err := writeFieldTypes(w, result.Columns); err != nil {
		return err
	}
	if err := writeResults(w, result.Rows); err != nil {
		return err
	}
	return writeMessage(w, tagDone, nil)
}

func readMessage(r *bufio.Reader) (byte, []byte, error) {
	var length uint64
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	if length == 0 {
		return 0, nil, fmt.Errorf("server: zero-length message")
	}
	tag, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}

func writeMessage(w *bufio.Writer, tag byte, payload []byte) error {
	length := uint64(len(payload) + 1)
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func writeStatus(w *bufio.Writer, ok bool, msg string) error {
	payload := make([]byte, 1+len(msg))
	if ok {
		payload[0] = 1
	}
	copy(payload[1:], msg)
	return writeMessage(w, tagStatus, payload)
}

func writeFieldTypes(w *bufio.Writer, cols []string) error {
	var buf []byte
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(cols)))
	for _, c := range cols {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c)))
		buf = append(buf, c...)
	}
	return writeMessage(w, tagFieldTypes, buf)
}

func writeResults(w *bufio.Writer, rows []types.Row) error {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(rows)))
	for _, row := range rows {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(row.Values)))
		for _, v := range row.Values {
			buf = appendValue(buf, v)
		}
	}
	return writeMessage(w, tagResults, buf)
}

func appendValue(buf []byte, v types.Value) []byte {
	buf = append(buf, byte(v.Type))
	if v.Null {
		return append(buf, 1)
	}
	buf = append(buf, 0)
	switch v.Type {
	case types.TypeInt:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int))
	case types.TypeBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		buf = append(buf, b)
	case types.TypeVarchar:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	}
	return buf
}
