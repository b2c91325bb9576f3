package agent

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStopStream is returned by an onEvent callback to stop reading.
var errStopStream = errors.New("stop stream")

// readSSE parses a server-sent event stream, calling onEvent for every
// dispatched event. A single leading space after the field colon is removed;
// any other whitespace belongs to the payload.
func readSSE(r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
		hasData   bool
	)

	flush := func() error {
		if !hasData {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines, hasData, eventName = nil, false, ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// Comment.
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				eventName = value
			case "data":
				dataLines = append(dataLines, value)
				hasData = true
			}
		}

		if eof {
			return flush()
		}
	}
}
