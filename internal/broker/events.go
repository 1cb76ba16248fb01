package broker

// Event is one element of a request's response stream: a token, or exactly
// one terminal done/error signal. The zero value is meaningless; use the
// constructors.
type Event struct {
	Token string
	Done  bool
	Err   string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Done || e.Err != ""
}

// TokenEvent wraps one generated token chunk.
func TokenEvent(text string) Event {
	return Event{Token: text}
}

// DoneEvent signals clean end of stream.
func DoneEvent() Event {
	return Event{Done: true}
}

// ErrorEvent signals stream failure. It is terminal; no tokens follow it.
func ErrorEvent(msg string) Event {
	return Event{Err: msg}
}
