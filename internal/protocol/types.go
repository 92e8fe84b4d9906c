package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Envelope types exchanged with the extension.
const (
	TypeNewText     = "new_text"
	TypeTextUpdate  = "text_update"
	TypeDeathNotice = "death_notice"
	TypeError       = "error"
)

// ErrUnknownType is returned by Decode for envelopes whose type the host does not handle.
var ErrUnknownType = errors.New("unknown message type")

// Envelope is the JSON object carried by every frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is implemented by every message the extension may send.
// Handlers switch over the concrete types.
type Inbound interface {
	inbound()
}

// NewText asks the host to open an editor on Text.
type NewText struct {
	Text  string `json:"text"`
	URL   string `json:"url"`
	Caret int    `json:"caret"`
	// ID is echoed back verbatim in every message about this session.
	ID    json.RawMessage `json:"id"`
	Prefs Prefs           `json:"prefs"`
}

func (NewText) inbound() {}

// Prefs travel with every new_text message; the most recent message wins for the
// process-wide settings (backup directory, termination policy).
type Prefs struct {
	Extension string `json:"extension"`
	// Editor is a JSON array of command-line tokens, encoded as a string.
	Editor             string   `json:"editor"`
	BackupDir          string   `json:"backupdir,omitempty"`
	KillEditorsAllow   bool     `json:"kill_editors_allow,omitempty"`
	KillEditorsTimeout *float64 `json:"kill_editors_timeout,omitempty"`
}

// TextUpdate carries the current content of a session's file.
type TextUpdate struct {
	ID   json.RawMessage `json:"id"`
	Text string          `json:"text"`
}

// DeathNotice ends a session.
type DeathNotice struct {
	ID json.RawMessage `json:"id"`
}

// ErrorMessage is a human-readable problem report.
type ErrorMessage struct {
	Error string `json:"error"`
}

// Decode resolves an envelope into its typed inbound message.
func Decode(env Envelope) (Inbound, error) {
	switch env.Type {
	case TypeNewText:
		var msg NewText
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if len(msg.ID) == 0 {
			msg.ID = json.RawMessage("null")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, strconv.Quote(env.Type))
	}
}
