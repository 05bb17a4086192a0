package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed backend call.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindConnectivity Kind = "connectivity"
	KindBackend      Kind = "backend"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrTimeout      = errors.New("backend request timed out")
	ErrConnectivity = errors.New("backend unreachable")
	ErrBackend      = errors.New("backend returned an error")
)

// Error describes a failed backend call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int // backend status, set for KindBackend responses
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrConnectivity:
		return e.Kind == KindConnectivity
	case ErrBackend:
		return e.Kind == KindBackend
	}
	return false
}

var userMessages = map[Kind]string{
	KindTimeout:      "요청 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요.",
	KindConnectivity: "서버에 연결할 수 없습니다. 네트워크 연결을 확인해 주세요.",
	KindBackend:      "동의서 처리 중 오류가 발생했습니다.",
}

// HTTPStatus maps err to the status reported to API clients: 408 for
// timeouts, 503 for connectivity failures and 500 otherwise.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrConnectivity):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the fixed message shown to clinicians for err.
func UserMessage(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		if msg, ok := userMessages[gerr.Kind]; ok {
			return msg
		}
	}
	return userMessages[KindBackend]
}
