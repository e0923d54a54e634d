package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
)

// Redis stores records in a Redis server.
//
// Keys, under the configured prefix:
//
//	calibration:next         INCR counter
//	calibration:<id>         JSON Calibration
//	calibrations             ZSET of ids scored by creation time (ms)
//	research:next            INCR counter
//	research:<id>            JSON Research without contours
//	research:<id>:contours   JSON []Measurement
//	researches               ZSET of ids scored by creation time (ms)
type Redis struct {
	pool   *redis.Pool
	prefix string
	now    func() time.Time
}

// NewRedis connects a pool to cfg.RedisAddress and checks it with PING.
func NewRedis(cfg config.Store) (*Redis, error) {
	address := cfg.RedisAddress
	pool := &redis.Pool{
		MaxIdle:     cfg.RedisMaxIdle,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", address)
			if err != nil {
				return nil, err
			}
			return c, err
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}

	return &Redis{pool: pool, prefix: cfg.RedisKeyPrefix, now: time.Now}, nil
}

// Close releases the pool.
func (s *Redis) Close() error {
	return s.pool.Close()
}

func (s *Redis) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Redis) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis connection: %w", err)
	}
	return conn, nil
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}

type command struct {
	name string
	args redis.Args
}

// transaction queues cmds between MULTI and EXEC. A failed Send stops the
// transaction before EXEC; the pool discards it when the connection closes.
func transaction(conn redis.Conn, cmds ...command) error {
	if err := conn.Send("MULTI"); err != nil {
		return fmt.Errorf("MULTI: %w", err)
	}
	for _, cmd := range cmds {
		if err := conn.Send(cmd.name, cmd.args...); err != nil {
			return fmt.Errorf("%s: %w", cmd.name, err)
		}
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("EXEC: %w", err)
	}
	return nil
}

// prepare allocates an ID and a creation time for a new record, or loads the
// creation time of an existing one.
func (s *Redis) prepare(conn redis.Conn, kind string, recordID int64) (int64, time.Time, error) {
	if recordID == 0 {
		n, err := redis.Int64(conn.Do("INCR", s.key(kind, "next")))
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to allocate %s id: %w", kind, err)
		}
		return n, s.now().UTC(), nil
	}

	data, err := redis.Bytes(conn.Do("GET", s.key(kind, id(recordID))))
	if errors.Is(err, redis.ErrNil) {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to load %s %d: %w", kind, recordID, err)
	}

	var head struct {
		CreatedAt time.Time `json:"created_at"`
		Date      time.Time `json:"date"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to decode %s %d: %w", kind, recordID, err)
	}
	if head.CreatedAt.IsZero() {
		return recordID, head.Date, nil
	}
	return recordID, head.CreatedAt, nil
}

func (s *Redis) SaveCalibration(ctx context.Context, c *Calibration) error {
	if err := c.validate(); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	recordID, created, err := s.prepare(conn, "calibration", c.ID)
	if err != nil {
		return err
	}
	c.ID, c.CreatedAt = recordID, created

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}

	err = transaction(conn,
		command{"SET", redis.Args{s.key("calibration", id(c.ID)), data}},
		command{"ZADD", redis.Args{s.key("calibrations"), c.CreatedAt.UnixMilli(), c.ID}},
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

func (s *Redis) GetCalibration(ctx context.Context, recordID int64) (*Calibration, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", s.key("calibration", id(recordID))))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}

	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode calibration: %w", err)
	}
	return &c, nil
}

func (s *Redis) ListCalibrations(ctx context.Context) ([]Calibration, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	values, err := s.listValues(conn, "calibrations", "calibration")
	if err != nil {
		return nil, err
	}

	out := make([]Calibration, 0, len(values))
	for _, data := range values {
		var c Calibration
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode calibration: %w", err)
		}
		out = append(out, c)
	}
	sortCalibrations(out)
	return out, nil
}

func (s *Redis) DeleteCalibration(ctx context.Context, recordID int64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("DEL", s.key("calibration", id(recordID))))
	if err != nil {
		return fmt.Errorf("failed to delete calibration: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := conn.Do("ZREM", s.key("calibrations"), recordID); err != nil {
		return fmt.Errorf("failed to unindex calibration: %w", err)
	}
	return nil
}

func (s *Redis) SaveResearch(ctx context.Context, r *Research) error {
	if err := r.validate(); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	recordID, created, err := s.prepare(conn, "research", r.ID)
	if err != nil {
		return err
	}
	r.ID, r.CreatedAt = recordID, created

	head := *r
	head.Contours = nil
	data, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("failed to encode research: %w", err)
	}
	contours := r.Contours
	if contours == nil {
		contours = []particle.Measurement{}
	}
	rows, err := json.Marshal(contours)
	if err != nil {
		return fmt.Errorf("failed to encode research contours: %w", err)
	}

	err = transaction(conn,
		command{"SET", redis.Args{s.key("research", id(r.ID)), data}},
		command{"SET", redis.Args{s.key("research", id(r.ID), "contours"), rows}},
		command{"ZADD", redis.Args{s.key("researches"), r.CreatedAt.UnixMilli(), r.ID}},
	)
	if err != nil {
		return fmt.Errorf("failed to save research: %w", err)
	}
	return nil
}

func (s *Redis) GetResearch(ctx context.Context, recordID int64) (*Research, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	values, err := redis.ByteSlices(conn.Do("MGET",
		s.key("research", id(recordID)), s.key("research", id(recordID), "contours")))
	if err != nil {
		return nil, fmt.Errorf("failed to load research: %w", err)
	}
	if len(values) != 2 || values[0] == nil {
		return nil, ErrNotFound
	}

	var r Research
	if err := json.Unmarshal(values[0], &r); err != nil {
		return nil, fmt.Errorf("failed to decode research: %w", err)
	}
	if values[1] != nil {
		if err := json.Unmarshal(values[1], &r.Contours); err != nil {
			return nil, fmt.Errorf("failed to decode research contours: %w", err)
		}
	}
	return &r, nil
}

func (s *Redis) ListResearches(ctx context.Context) ([]Research, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	values, err := s.listValues(conn, "researches", "research")
	if err != nil {
		return nil, err
	}

	out := make([]Research, 0, len(values))
	for _, data := range values {
		var r Research
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode research: %w", err)
		}
		out = append(out, r)
	}
	sortResearches(out)
	return out, nil
}

func (s *Redis) DeleteResearch(ctx context.Context, recordID int64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("DEL", s.key("research", id(recordID)), s.key("research", id(recordID), "contours")))
	if err != nil {
		return fmt.Errorf("failed to delete research: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := conn.Do("ZREM", s.key("researches"), recordID); err != nil {
		return fmt.Errorf("failed to unindex research: %w", err)
	}
	return nil
}

// listValues reads every indexed record body, newest first. Index entries
// whose body has gone are skipped.
func (s *Redis) listValues(conn redis.Conn, index, kind string) ([][]byte, error) {
	ids, err := redis.Int64s(conn.Do("ZREVRANGE", s.key(index), 0, -1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s index: %w", kind, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, n := range ids {
		args[i] = s.key(kind, id(n))
	}
	values, err := redis.ByteSlices(conn.Do("MGET", args...))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s records: %w", kind, err)
	}

	out := values[:0]
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
