package reconcile

type NoticeKind string

const (
	NoticeDecode        NoticeKind = "decode_failure"
	NoticeStorageRead   NoticeKind = "storage_read_failure"
	NoticeStorageWrite  NoticeKind = "storage_write_failure"
	NoticeStreamAborted NoticeKind = "stream_aborted"
)

// Notice is a non-fatal problem the user should be told about.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

func (e *Engine) notice(kind NoticeKind, msg string) {
	e.notices = append(e.notices, Notice{Kind: kind, Message: msg})
}

// Notices returns the queued notices without removing them.
func (e *Engine) Notices() []Notice {
	return append([]Notice(nil), e.notices...)
}

// DrainNotices returns the queued notices and clears the queue.
func (e *Engine) DrainNotices() []Notice {
	out := e.notices
	e.notices = nil
	return out
}
