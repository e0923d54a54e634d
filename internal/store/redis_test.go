package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
)

var errBroken = errors.New("broken pipe")

// scriptedConn records commands and fails the one named by failOn.
type scriptedConn struct {
	sent   []string
	failOn string
}

func (c *scriptedConn) Close() error { return nil }
func (c *scriptedConn) Err() error   { return nil }
func (c *scriptedConn) Flush() error { return nil }

func (c *scriptedConn) Receive() (interface{}, error) { return nil, nil }

func (c *scriptedConn) Send(cmd string, args ...interface{}) error {
	c.sent = append(c.sent, cmd)
	if cmd == c.failOn {
		return errBroken
	}
	return nil
}

func (c *scriptedConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if cmd == "" {
		return nil, nil
	}
	c.sent = append(c.sent, cmd)
	if cmd == c.failOn {
		return nil, errBroken
	}
	if cmd == "INCR" {
		return int64(1), nil
	}
	return []interface{}{}, nil
}

func contains(cmds []string, name string) bool {
	for _, c := range cmds {
		if c == name {
			return true
		}
	}
	return false
}

func TestTransaction(t *testing.T) {
	cmds := []command{
		{"SET", redis.Args{"k", "v"}},
		{"ZADD", redis.Args{"idx", 1, 1}},
	}

	tests := []struct {
		failOn   string
		wantErr  bool
		wantSent []string
	}{
		{"", false, []string{"MULTI", "SET", "ZADD", "EXEC"}},
		{"MULTI", true, []string{"MULTI"}},
		{"SET", true, []string{"MULTI", "SET"}},
		{"ZADD", true, []string{"MULTI", "SET", "ZADD"}},
		{"EXEC", true, []string{"MULTI", "SET", "ZADD", "EXEC"}},
	}

	for _, tt := range tests {
		t.Run("fail "+tt.failOn, func(t *testing.T) {
			conn := &scriptedConn{failOn: tt.failOn}
			err := transaction(conn, cmds...)
			if tt.wantErr != (err != nil) {
				t.Fatalf("transaction: got error %v, want error %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errBroken) {
				t.Errorf("error should wrap the connection error, got %v", err)
			}
			if len(conn.sent) != len(tt.wantSent) {
				t.Fatalf("sent: got %v, want %v", conn.sent, tt.wantSent)
			}
			for i := range tt.wantSent {
				if conn.sent[i] != tt.wantSent[i] {
					t.Errorf("sent[%d]: got %s, want %s", i, conn.sent[i], tt.wantSent[i])
				}
			}
		})
	}
}

func TestRedis_SaveReportsSendErrors(t *testing.T) {
	conn := &scriptedConn{failOn: "SET"}
	s := &Redis{
		pool: &redis.Pool{Dial: func() (redis.Conn, error) { return conn, nil }},
		now:  func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.SaveCalibration(ctx, &Calibration{Name: "x", Coefficient: 30, DivisionPrice: 1}); !errors.Is(err, errBroken) {
		t.Errorf("SaveCalibration: got %v, want the SET failure", err)
	}
	if err := s.SaveResearch(ctx, &Research{Description: "x"}); !errors.Is(err, errBroken) {
		t.Errorf("SaveResearch: got %v, want the SET failure", err)
	}
	if contains(conn.sent, "EXEC") {
		t.Errorf("EXEC should not be sent after a failed SET: %v", conn.sent)
	}
}
