package ping

import "time"

type Kind string

const (
	KindSuccess Kind = "success"
	KindFail    Kind = "fail"
	KindStart   Kind = "start"
	KindLog     Kind = "log"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSuccess, KindFail, KindStart, KindLog:
		return true
	}
	return false
}

// AffectsStatus reports whether pings of this kind take part in status evaluation.
func (k Kind) AffectsStatus() bool { return k != KindLog }

type Ping struct {
	ID         int64     `json:"id"`
	CheckID    int64     `json:"check_id"`
	N          int64     `json:"n"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       Kind      `json:"kind"`
	ExitStatus *int      `json:"exit_status,omitempty"`
	Scheme     string    `json:"scheme"`
	Method     string    `json:"method"`
	RemoteAddr string    `json:"remote_addr"`
	UserAgent  string    `json:"user_agent"`
	BodySize   int       `json:"body_size"`
	Body       []byte    `json:"-"`
}
