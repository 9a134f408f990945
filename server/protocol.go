package server

import (
	"strconv"
	"strings"

	"github.com/jathurchan/ridecore/types"
)

// Request is one parsed protocol line: VERB;arg1;...;timestamp.
type Request struct {
	Verb string
	Args []string

	// Timestamp is the sender's logical time. HasTimestamp is false for a
	// bare verb, in which case the server ticks its own clock instead.
	Timestamp    types.Timestamp
	HasTimestamp bool
}

// Arg returns the i-th argument, or "" if absent.
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// ParseRequest splits a request line. The verb is case-insensitive. When the
// line has more than one field, the last one must be the sender's timestamp.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, NewProtocolError("", "Empty request")
	}

	fields := strings.Split(line, fieldSeparator)
	req := Request{Verb: strings.ToUpper(strings.TrimSpace(fields[0]))}
	if req.Verb == "" {
		return Request{}, NewProtocolError("", "Missing command")
	}
	if len(fields) == 1 {
		return req, nil
	}

	last := strings.TrimSpace(fields[len(fields)-1])
	ts, err := strconv.ParseInt(last, 10, 64)
	if err != nil || ts < 0 {
		return Request{}, NewProtocolError(req.Verb, "Invalid timestamp "+strconv.Quote(last))
	}
	req.Timestamp = types.Timestamp(ts)
	req.HasTimestamp = true

	args := fields[1 : len(fields)-1]
	req.Args = make([]string, len(args))
	for i, a := range args {
		req.Args[i] = strings.TrimSpace(a)
	}
	return req, nil
}

// FormatRequest renders a request line. It is the inverse of ParseRequest.
func FormatRequest(verb string, ts types.Timestamp, args ...string) string {
	var b strings.Builder
	b.WriteString(verb)
	for _, a := range args {
		b.WriteString(fieldSeparator)
		b.WriteString(a)
	}
	b.WriteString(fieldSeparator)
	b.WriteString(strconv.FormatInt(int64(ts), 10))
	return b.String()
}
