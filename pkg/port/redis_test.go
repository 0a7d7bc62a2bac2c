package port

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisHandler(t *testing.T) {
	handler, err := newRedisHandler(newTestStorage(t))
	require.NoError(t, err)
	run := func(command string, args ...string) redisOutput {
		return handler.handle(redisCommand{command: command, args: args})
	}
	errorOf := func(output redisOutput) string {
		require.NotNil(t, output.err)
		return *output.err
	}

	t.Run("ping", func(t *testing.T) {
		assert.Equal(t, writeRedisString("PONG"), run("PING"))
		assert.Equal(t, writeRedisBulk([]byte("hi")), run("ping", "hi"))
	})
	t.Run("set_and_get", func(t *testing.T) {
		assert.Equal(t, writeRedisString(RedisOk), run("SET", "greeting", "hello world"))
		assert.Equal(t, writeRedisBulk([]byte("hello world")), run("GET", "greeting"))
		assert.Equal(t, writeRedisNil(), run("GET", "missing"))
	})
	t.Run("set_options", func(t *testing.T) {
		assert.Equal(t, writeRedisNil(), run("SET", "greeting", "other", "NX"))
		assert.Equal(t, writeRedisBulk([]byte("hello world")), run("SET", "greeting", "bye", "XX", "GET"))
		assert.Equal(t, writeRedisNil(), run("SET", "fresh", "v", "GET"))
		assert.Equal(t, writeRedisBulk([]byte("bye")), run("GET", "greeting"))
		assert.Contains(t, errorOf(run("SET", "k", "v", "NX", "XX")), "syntax error")
		assert.Contains(t, errorOf(run("SET", "k", "v", "EX", "10")), "syntax error")
	})
	t.Run("exists_and_del", func(t *testing.T) {
		assert.Equal(t, writeRedisInt(2), run("EXISTS", "greeting", "fresh", "missing"))
		assert.Equal(t, writeRedisInt(1), run("DEL", "fresh", "missing"))
		assert.Equal(t, writeRedisInt(0), run("EXISTS", "fresh"))
	})
	t.Run("keys_and_dbsize", func(t *testing.T) {
		assert.Equal(t, writeRedisString(RedisOk), run("SET", "user_1", "a"))
		assert.Equal(t, writeRedisString(RedisOk), run("SET", "user_2", "b"))
		assert.Equal(t, writeRedisArray([]string{"user_1", "user_2"}), run("KEYS", "user_*"))
		assert.Equal(t, writeRedisArray(nil), run("KEYS", "nobody*"))
		assert.Equal(t, writeRedisInt(3), run("DBSIZE"))
	})
	t.Run("info", func(t *testing.T) {
		output := run("INFO")
		require.NotNil(t, output.writeBulk)
		info := string(output.writeBulk)
		assert.True(t, strings.HasPrefix(info, "# Server\r\n"), info)
		assert.Contains(t, info, "keys:3\r\n")
		assert.Contains(t, info, "used_disk:5\r\n")
	})
	t.Run("save_and_flushall", func(t *testing.T) {
		assert.Equal(t, writeRedisString(RedisOk), run("SAVE"))
		assert.Equal(t, writeRedisString(RedisOk), run("FLUSHALL"))
		assert.Equal(t, writeRedisInt(0), run("DBSIZE"))
	})
	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, "ERR wrong number of arguments for 'get' command", errorOf(run("GET")))
		assert.Equal(t, "ERR wrong number of arguments for 'set' command", errorOf(run("SET", "k")))
		assert.Equal(t, "ERR unknown command 'NOPE'", errorOf(run("NOPE")))
		assert.Contains(t, errorOf(run("GET", "bad key")), "invalid cache key")
	})
	t.Run("quit", func(t *testing.T) {
		output := run("QUIT")
		assert.True(t, output.closeConnection)
		assert.Equal(t, RedisOk, output.writeString)
	})
}

func TestNewRedisHandler_NilStore(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}
