package icmp

// NewFinishedReply builds a Reply that is already finished with err, for
// tests of callers (the discovery coordinator, the monitor registry)
// that depend on the concrete *Reply type but must not open a real raw
// socket to get one.
func NewFinishedReply(err Error) *Reply {
	r := &Reply{done: make(chan struct{})}
	r.finish(err, 0, "")
	return r
}
