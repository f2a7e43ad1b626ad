package preview

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxConsoleBody = 64 << 10

// ConsoleMessage is what the capture script reports.
type ConsoleMessage struct {
	Source    string `json:"source"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ConsoleSink receives decoded console messages.
type ConsoleSink func(ConsoleMessage)

var consoleLevels = map[string]bool{"log": true, "info": true, "warn": true, "error": true, "debug": true}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConsoleBody))
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	var msg ConsoleMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.Source != MessageSource {
		http.Error(w, "invalid console message", http.StatusBadRequest)
		return
	}
	msg.Level = strings.ToLower(msg.Level)
	if !consoleLevels[msg.Level] {
		msg.Level = "log"
	}
	if msg.Type == "" {
		msg.Type = "console"
	}

	if sink := s.consoleSink(); sink != nil {
		sink(msg)
	}
	w.WriteHeader(http.StatusNoContent)
}
