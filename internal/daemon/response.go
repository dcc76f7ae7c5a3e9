package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.olrik.dev/logwarden/internal/logsource"
)

// Response is the JSON document returned by the STATUS opcode
type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     *StatusData       `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// StatusData describes the running daemon
type StatusData struct {
	Version   string           `json:"version"`
	Pid       int              `json:"pid"`
	StartedAt time.Time        `json:"started_at"`
	Socket    string           `json:"socket"`
	LogFile   string           `json:"log_file"`
	Buffers   []string         `json:"buffers"`
	Tailer    TailerStats      `json:"tailer"`
	Source    *logsource.Stats `json:"source,omitempty"`
	Channels  []ChannelStatus  `json:"channels"`
	Watchdog  *WatchdogStats   `json:"watchdog,omitempty"`
}

func (r *Response) AddMessage(message string, status string) {
	r.Messages = append(r.Messages, ResponseMessage{
		Message: message,
		Status:  status,
	})
}

func (r *Response) ToJSON() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

// ParseResponse decodes a STATUS reply
func ParseResponse(data []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from daemon: %w", err)
	}
	return response, nil
}

// LogMessages replays the response's messages through slog
func (r *Response) LogMessages() {
	for _, message := range r.Messages {
		switch message.Status {
		case "WARN":
			slog.Warn(message.Message)
		case "ERROR":
			slog.Error(message.Message)
		default:
			slog.Info(message.Message)
		}
	}
}
