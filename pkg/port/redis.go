package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nobletooth/kache/pkg/cache"
	"github.com/nobletooth/kache/pkg/utils"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       []byte   // Writes a bulk string if non-nil.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeString     string   // Writes a simple string value otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(b []byte) redisOutput {
	if b == nil {
		b = []byte{}
	}
	return redisOutput{writeBulk: b}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

type redisHandler struct {
	store KeyValueHolder
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store KeyValueHolder) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil storage")
	}
	return &redisHandler{store: store}, nil
}

// parseSetCommand parses `SET key value [NX | XX] [GET]`.
func parseSetCommand(args []string) (SetCommand, error) {
	if len(args) < 2 {
		return SetCommand{}, errors.New("wrong number of arguments for 'set' command")
	}
	cmd := SetCommand{key: args[0], value: []byte(args[1])}
	for _, option := range args[2:] {
		switch strings.ToUpper(option) {
		case "NX":
			if cmd.existence != noCheck {
				return SetCommand{}, errors.New("syntax error")
			}
			cmd.existence = ifNotExists
		case "XX":
			if cmd.existence != noCheck {
				return SetCommand{}, errors.New("syntax error")
			}
			cmd.existence = ifExists
		case "GET":
			cmd.get = true
		default:
			return SetCommand{}, errors.New("syntax error")
		}
	}
	return cmd, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch strings.ToUpper(cmd.command) {
	case "PING":
		switch len(cmd.args) {
		case 0:
			return writeRedisString("PONG")
		case 1:
			return writeRedisBulk([]byte(cmd.args[0]))
		default:
			return wrongArgCount(cmd.command)
		}
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		setCmd, err := parseSetCommand(cmd.args)
		if err != nil {
			return writeRedisError(err)
		}
		result := rh.store.Set(setCmd)
		switch {
		case result.err != nil:
			return writeRedisError(result.err)
		case setCmd.get && result.hasPreviousValue:
			return writeRedisBulk(result.previousValue)
		case setCmd.get || !result.couldSet:
			return writeRedisNil()
		default:
			return writeRedisString(RedisOk)
		}
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArgCount(cmd.command)
		}
		if value, err := rh.store.Get(cmd.args[0]); errors.Is(err, cache.ErrKeyNotFound) {
			return writeRedisNil()
		} else if err != nil {
			return writeRedisError(err)
		} else {
			return writeRedisBulk(value)
		}
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArgCount(cmd.command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			deleted, err := rh.store.Delete(key)
			if err != nil {
				return writeRedisError(err)
			}
			if deleted {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArgCount(cmd.command)
		}
		existing := 0
		for _, key := range cmd.args {
			exists, err := rh.store.Exists(key)
			if err != nil {
				return writeRedisError(err)
			}
			if exists {
				existing++
			}
		}
		return writeRedisInt(existing)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArgCount(cmd.command)
		}
		keys, err := rh.store.Keys(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisArray(keys)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArgCount(cmd.command)
		}
		stats, err := rh.store.Stats()
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisInt(stats.Keys)
	case "INFO":
		stats, err := rh.store.Stats()
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisBulk([]byte(formatInfo(stats)))
	case "FLUSHALL", "FLUSHDB":
		if err := rh.store.FlushAll(); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "SAVE":
		if err := rh.store.Save(); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// formatInfo renders the INFO reply in Redis' `field:value` sections.
func formatInfo(stats Stats) string {
	lines := []string{
		"# Server",
		"kache_version:" + utils.Version,
		"kache_commit:" + utils.Commit,
		"# Keyspace",
		"keys:" + strconv.Itoa(stats.Keys),
		"used_disk:" + strconv.FormatInt(stats.Bytes, 10),
		"used_disk_human:" + humanize.IBytes(uint64(stats.Bytes)),
		"max_disk:" + strconv.FormatInt(stats.MaxSize, 10),
		"max_disk_human:" + humanize.IBytes(uint64(stats.MaxSize)),
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// writeRedisOutput serializes the handler output onto the connection.
func writeRedisOutput(conn redcon.Conn, output redisOutput) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.writeArray != nil:
		conn.WriteArray(len(output.writeArray))
		for _, item := range output.writeArray {
			conn.WriteBulkString(item)
		}
	case output.writeBulk != nil:
		conn.WriteBulk(output.writeBulk)
	default:
		conn.WriteString(output.writeString)
	}
}

// RunRedisServer starts a Redis protocol server that interacts with the provided KeyValueHolder storage.
func RunRedisServer(ctx context.Context, store KeyValueHolder) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := redisHandler.handle(command)
			writeRedisOutput(conn, output)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Redis connection closed with an error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("Serving Redis protocol.", "address", *address)

	select {
	case <-ctx.Done():
		serverErr := redisServer.Close()
		storeErr := store.Close()
		if exitErr := errors.Join(serverErr, storeErr); exitErr != nil {
			return fmt.Errorf("failed to close kache: %w", exitErr)
		}
	case err := <-serverErrSignal:
		return errors.Join(fmt.Errorf("redis server stopped unexpectedly: %w", err), store.Close())
	}

	return nil // Exited with no errors.
}
