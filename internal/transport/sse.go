package transport

import (
	"bufio"
	"bytes"
	"io"
)

// SSEEvent is one server-sent event: its optional event name and the
// concatenated data payload.
type SSEEvent struct {
	Event string
	Data  []byte
}

// SSEDecoder reads server-sent events from a vendor byte stream.
type SSEDecoder struct {
	r *bufio.Reader
}

// NewSSEDecoder wraps a raw stream body.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. Multiple data: lines are concatenated with a
// newline per the SSE spec. It returns io.EOF when the stream ends.
func (d *SSEDecoder) Next() (SSEEvent, error) {
	var event SSEEvent
	var dataLines [][]byte

	flush := func() (SSEEvent, bool) {
		if len(dataLines) == 0 {
			return SSEEvent{}, false
		}
		event.Data = bytes.Join(dataLines, []byte("\n"))
		return event, true
	}

	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				d.consumeLine(&event, &dataLines, line)
			}
			if ev, ok := flush(); ok {
				return ev, nil
			}
			if err == io.EOF {
				return SSEEvent{}, io.EOF
			}
			return SSEEvent{}, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if ev, ok := flush(); ok {
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		d.consumeLine(&event, &dataLines, line)
	}
}

func (d *SSEDecoder) consumeLine(event *SSEEvent, dataLines *[][]byte, line []byte) {
	if value, ok := cutField(line, "event:"); ok {
		event.Event = string(value)
		return
	}
	if value, ok := cutField(line, "data:"); ok {
		*dataLines = append(*dataLines, append([]byte(nil), value...))
	}
}

func cutField(line []byte, prefix string) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	value := line[len(prefix):]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return value, true
}
