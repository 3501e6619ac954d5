// Package realtime implements the frame-oriented pub/sub protocol spoken
// over the persistent client connection, and the websocket endpoint that
// bridges it onto the event bus.
//
// A frame is text-based: a command line, zero or more "key:value" header
// lines, an empty line, the body, and a terminating NUL byte.
package realtime

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Frame commands.
const (
	// CommandSubscribe registers interest in a destination.
	CommandSubscribe = "SUBSCRIBE"
	// CommandSend carries a client-to-server payload.
	CommandSend = "SEND"
	// CommandMessage carries a server-to-client payload.
	CommandMessage = "MESSAGE"
)

// Well-known destinations.
const (
	// DestFileChanges delivers file-change events to the user's clients.
	DestFileChanges = "/user/queue/file-changes"
	// DestConflicts delivers conflict events to the user's clients.
	DestConflicts = "/user/queue/conflicts"
	// DestHeartbeat receives client liveness probes.
	DestHeartbeat = "/app/heartbeat"
)

// Common header names.
const (
	HeaderID           = "id"
	HeaderDestination  = "destination"
	HeaderSubscription = "subscription"
	HeaderContentType  = "content-type"
)

// frameTerminator ends every frame on the wire.
const frameTerminator = "\x00"

// Frame is one protocol unit.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame with the given command and header pairs.
func NewFrame(command string, headers map[string]string, body []byte) Frame {
	if headers == nil {
		headers = map[string]string{}
	}
	return Frame{Command: command, Headers: headers, Body: body}
}

// Header returns a header value, or "" if absent.
func (f Frame) Header(name string) string {
	return f.Headers[name]
}

// Marshal renders the frame to its wire form.
func (f Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	// Sorted headers keep the wire form deterministic.
	names := make([]string, 0, len(f.Headers))
	for name := range f.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(f.Headers[name])
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteString(frameTerminator)
	return buf.Bytes()
}

// ParseFrame decodes one frame from its wire form.
func ParseFrame(data []byte) (Frame, error) {
	data = bytes.TrimSuffix(data, []byte(frameTerminator))

	headerEnd := bytes.Index(data, []byte("\n\n"))
	if headerEnd < 0 {
		return Frame{}, fmt.Errorf("malformed frame: no header terminator")
	}
	head := string(data[:headerEnd])
	body := data[headerEnd+2:]

	lines := strings.Split(head, "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return Frame{}, fmt.Errorf("malformed frame: empty command")
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("malformed frame header: %q", line)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	out := make([]byte, len(body))
	copy(out, body)
	return Frame{Command: command, Headers: headers, Body: out}, nil
}
