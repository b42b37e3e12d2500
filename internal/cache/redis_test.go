package cache

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRedis is a single-connection RESP server backing just the commands the
// client issues.
type fakeRedis struct {
	listener net.Listener

	mu       sync.Mutex
	values   map[string]string
	counters map[string]int64
	ttls     map[string]int64
	commands []string
}

func newFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	server := &fakeRedis{
		listener: listener,
		values:   make(map[string]string),
		counters: make(map[string]int64),
		ttls:     make(map[string]int64),
	}
	go server.serve()
	return server
}

func (s *fakeRedis) addr() string { return s.listener.Addr().String() }

func (s *fakeRedis) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		fmt.Fprint(conn, s.reply(args))
	}
}

func (s *fakeRedis) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

func (s *fakeRedis) reply(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, strings.Join(args, " "))
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "SET":
		s.values[args[1]] = args[2]
		return "+OK\r\n"
	case "GET":
		value, ok := s.values[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	case "DEL":
		deleted := int64(0)
		for _, key := range args[1:] {
			if _, ok := s.values[key]; ok {
				delete(s.values, key)
				deleted++
			}
		}
		return fmt.Sprintf(":%d\r\n", deleted)
	case "INCR":
		s.counters[args[1]]++
		return fmt.Sprintf(":%d\r\n", s.counters[args[1]])
	case "PEXPIRE":
		millis, _ := strconv.ParseInt(args[2], 10, 64)
		s.ttls[args[1]] = millis
		return ":1\r\n"
	case "PTTL":
		if ttl, ok := s.ttls[args[1]]; ok {
			return fmt.Sprintf(":%d\r\n", ttl)
		}
		return ":-1\r\n"
	default:
		return "-ERR unknown command\r\n"
	}
}

// readCommand parses a RESP array of bulk strings.
func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
		arg, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimSuffix(strings.TrimSuffix(arg, "\n"), "\r"))
	}
	return args, nil
}

func newTestRedisClient(t *testing.T, server *fakeRedis) *RedisClient {
	t.Helper()
	client, err := NewRedisClient(RedisConfig{Address: server.addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisClientSetGetDelete(t *testing.T) {
	server := newFakeRedis(t)
	client := newTestRedisClient(t, server)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "release:lock", []byte("held"), time.Minute))

	value, found, err := client.Get(ctx, "release:lock")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("held"), value)

	require.NoError(t, client.Delete(ctx, "release:lock"))
	_, found, err = client.Get(ctx, "release:lock")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisClientSetWithoutTTLOmitsPX(t *testing.T) {
	server := newFakeRedis(t)
	client := newTestRedisClient(t, server)

	require.NoError(t, client.Set(context.Background(), "settings", []byte("v"), 0))

	last := server.lastCommand()
	require.Contains(t, last, "SET")
	require.NotContains(t, last, "PX")
}

func TestRedisClientIncrementWithTTL(t *testing.T) {
	server := newFakeRedis(t)
	client := newTestRedisClient(t, server)
	ctx := context.Background()

	count, ttl, err := client.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = client.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestRedisClientPing(t *testing.T) {
	server := newFakeRedis(t)
	client := newTestRedisClient(t, server)
	require.NoError(t, client.Ping(context.Background()))
}

func TestReadReply(t *testing.T) {
	read := func(raw string) (interface{}, error) {
		return readReply(bufio.NewReader(strings.NewReader(raw)))
	}

	simple, err := read("+OK\r\n")
	require.NoError(t, err)
	require.Equal(t, "OK", simple)

	integer, err := read(":42\r\n")
	require.NoError(t, err)
	require.Equal(t, int64(42), integer)

	bulk, err := read("$5\r\nhello\r\n")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), bulk)

	missing, err := read("$-1\r\n")
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = read("-ERR boom\r\n")
	require.ErrorContains(t, err, "ERR boom")

	_, err = read("$5\r\nhelloXX")
	require.ErrorContains(t, err, "malformed bulk reply")

	// Arrays are not part of the issued command set.
	_, err = read("*2\r\n$1\r\na\r\n$1\r\nb\r\n")
	require.ErrorContains(t, err, "unexpected reply prefix")
}

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, "apigate:ratelimit:ip", normalizeKey("apigate::ratelimit::ip"))
	require.Equal(t, "", normalizeKey(""))
}

func TestFormatMillis(t *testing.T) {
	require.Equal(t, "60000", formatMillis(time.Minute))
	require.Equal(t, "0", formatMillis(0))
	require.Equal(t, "0", formatMillis(-time.Second))
}
