package offline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command 是控制通道接受的指令。
type Command string

const (
	CommandSkipWaiting Command = "SKIP_WAITING"
	CommandCleanTiles  Command = "CLEAN_TILES"
)

// ErrUnknownCommand 表示无法识别的控制消息。
var ErrUnknownCommand = errors.New("unknown control command")

type controlMessage struct {
	Type Command `json:"type"`
}

// ParseCommand 同时接受 {"type":"SKIP_WAITING"} 与裸字符串 "CLEAN_TILES" 两种写法。
func ParseCommand(raw []byte) (Command, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty message", ErrUnknownCommand)
	}

	var cmd Command
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return "", fmt.Errorf("decode control message: %w", err)
		}
	case '{':
		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return "", fmt.Errorf("decode control message: %w", err)
		}
		cmd = msg.Type
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, raw)
	}

	switch cmd {
	case CommandSkipWaiting, CommandCleanTiles:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// ControlResult 是控制指令的执行结果。
type ControlResult struct {
	Command   Command `json:"command"`
	Activated string  `json:"activated,omitempty"`
	Purged    int     `json:"purged"`
	Noop      bool    `json:"noop,omitempty"`
}
