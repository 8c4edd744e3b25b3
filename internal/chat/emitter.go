package chat

// Emitter receives protocol frames in signal order. One emitter serves one
// request; transports adapt it to their wire format.
//
// Emit errors indicate the client went away. The orchestrator treats them
// as advisory: side effects and persistence continue regardless.
type Emitter interface {
	// Start opens the stream.
	Start(req Request) error

	// Chunk delivers a piece of streamed answer text.
	Chunk(text string) error

	// SQL reports the captured statement, at most once per request.
	SQL(sql string) error

	// Result reports the materialized result artifact URL, at most once.
	Result(url string) error

	// Error reports a terminal failure. The stream still ends with Complete.
	Error(err error) error

	// Complete closes the stream with the terminal response. Always called,
	// always last.
	Complete(resp *Response) error
}

// nopEmitter backs the synchronous transport, which only needs the
// terminal response.
type nopEmitter struct{}

func (nopEmitter) Start(Request) error      { return nil }
func (nopEmitter) Chunk(string) error       { return nil }
func (nopEmitter) SQL(string) error         { return nil }
func (nopEmitter) Result(string) error      { return nil }
func (nopEmitter) Error(error) error        { return nil }
func (nopEmitter) Complete(*Response) error { return nil }
