package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const (
	ssePrefix       = "data: "
	maxSSELineBytes = 4 << 20
)

// decodeEventStream reads an SSE body to EOF and returns the last data frame
// that parses as a JSON object. Earlier frames (progress notices, partial
// results) are discarded. An empty stream yields nil.
func decodeEventStream(r io.Reader, logger zerolog.Logger) (json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	var last json.RawMessage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := []byte(strings.TrimPrefix(line, ssePrefix))

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
			logger.Warn().Str("frame", string(payload)).Msg("skipping unparseable SSE frame")
			continue
		}
		last = json.RawMessage(bytes.Clone(payload))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return last, nil
}
