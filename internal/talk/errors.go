package talk

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var (
	// ErrTimeout reports a long-poll or call deadline that elapsed with no data.
	ErrTimeout = errors.New("talk: timed out waiting for the server")
	// ErrSessionSuperseded reports that another login invalidated this session.
	ErrSessionSuperseded = errors.New("talk: logged in on another machine")
	// ErrPINRequired reports the unsupported two-factor login path.
	ErrPINRequired = errors.New("talk: PIN required for login")
)

// Remote exception codes.
const (
	CodeAuthenticationFailed = 1
	CodeNotAuthorizedDevice  = 8
)

const (
	exceptionDomain = "talk"
	exceptionReason = "TALK_EXCEPTION"
)

// AuthError is returned when the credential exchange does not succeed.
type AuthError struct {
	Result LoginResultType
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed (result %d): %v", e.Result, e.Err)
	}
	return fmt.Sprintf("login returned result code %d", e.Result)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is any communication failure other than a timeout or a
// superseded session. Code and Reason are set for remote exceptions.
type TransportError struct {
	Op     string
	Code   int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: remote error code %d: %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewException builds the gRPC status a server uses to report a remote
// exception with the given code.
func NewException(code int, reason string) error {
	st := grpcstatus.New(codes.FailedPrecondition, reason)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Domain: exceptionDomain,
		Reason: exceptionReason,
		Metadata: map[string]string{
			"code":   strconv.Itoa(code),
			"reason": reason,
		},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// translate maps a gRPC call error into the package taxonomy.
func translate(op string, err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return &TransportError{Op: op, Err: err}
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetReason() != exceptionReason {
			continue
		}
		code, _ := strconv.Atoi(info.GetMetadata()["code"])
		if code == CodeNotAuthorizedDevice {
			return fmt.Errorf("%s: %w", op, ErrSessionSuperseded)
		}
		return &TransportError{Op: op, Code: code, Reason: info.GetMetadata()["reason"], Err: err}
	}
	if st.Code() == codes.DeadlineExceeded {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &TransportError{Op: op, Err: err}
}

// translatePoll is translate for the long-poll call, where a connection that
// ends with EOF before any data arrives is an empty batch like a timeout.
func translatePoll(op string, err error) error {
	if isEOF(err) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return translate(op, err)
}

func isEOF(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	st, ok := grpcstatus.FromError(err)
	if !ok || st.Code() != codes.Unavailable {
		return false
	}
	return strings.Contains(st.Message(), "EOF")
}
