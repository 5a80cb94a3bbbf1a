package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Stream framing markers. The first chunk of every run announces the
// mode; the end marker closes the run.
const (
	ModePrefix = "__mode__"
	EndMarker  = "__end__"
)

// Modes a run can announce.
const (
	ModeChat  = "chat"
	ModeAgent = "agent"
)

// modeAnnouncement is the JSON payload following ModePrefix.
type modeAnnouncement struct {
	Mode string `json:"mode"`
}

// EncodeMode builds the mode announcement chunk.
func EncodeMode(mode string) string {
	data, _ := json.Marshal(modeAnnouncement{Mode: mode})
	return ModePrefix + string(data)
}

// DecodeMode parses a mode announcement chunk. The second return is
// false when the chunk is not a mode announcement.
func DecodeMode(chunk string) (string, bool) {
	if !strings.HasPrefix(chunk, ModePrefix) {
		return "", false
	}
	var ann modeAnnouncement
	if err := json.Unmarshal([]byte(chunk[len(ModePrefix):]), &ann); err != nil {
		return "", false
	}
	return ann.Mode, true
}

// Sink delivers raw chunks to one client connection.
type Sink interface {
	// Send delivers one chunk. An error means the client is gone and
	// the run should stop streaming.
	Send(chunk string) error
}

// Emitter frames a run's output onto a sink: one mode announcement,
// then token or message chunks, then the end marker. Safe for
// concurrent use.
type Emitter struct {
	mu   sync.Mutex
	sink Sink
	done bool
}

// NewEmitter wraps a sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// AnnounceMode sends the mode announcement. Must be the first chunk.
func (e *Emitter) AnnounceMode(mode string) error {
	return e.send(EncodeMode(mode))
}

// SendToken streams one token of plain text.
func (e *Emitter) SendToken(token string) error {
	return e.send(token)
}

// SendMessage streams one structured message as a JSON chunk.
func (e *Emitter) SendMessage(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return e.send(string(data))
}

// End sends the end marker. Further sends are dropped.
func (e *Emitter) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	e.done = true
	return e.sink.Send(EndMarker)
}

func (e *Emitter) send(chunk string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	return e.sink.Send(chunk)
}

// SSESink writes chunks as server-sent events, flushing after each one.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares the response for SSE delivery. Returns an error
// if the writer does not support flushing.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSESink{w: w, flusher: flusher}, nil
}

// Send writes one event. Multi-line chunks are split across data lines
// per the SSE framing rules.
func (s *SSESink) Send(chunk string) error {
	for _, line := range strings.Split(chunk, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WSSink writes chunks as websocket text messages. gorilla/websocket
// allows one concurrent writer, which Emitter's lock guarantees.
type WSSink struct {
	conn *websocket.Conn
}

// NewWSSink wraps an upgraded websocket connection.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

func (s *WSSink) Send(chunk string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(chunk))
}

// ChanSink delivers chunks to a channel, for tests and in-process
// consumers.
type ChanSink struct {
	C chan string
}

// NewChanSink creates a channel sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan string, buffer)}
}

func (s *ChanSink) Send(chunk string) error {
	s.C <- chunk
	return nil
}
