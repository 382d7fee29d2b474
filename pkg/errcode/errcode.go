package errcode

import (
	"errors"
	"fmt"
)

// Error is an application level failure carried in a {code, message} envelope.
// Code 0 is success; every other code is a failure regardless of HTTP status.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// Is matches on code so wrapped copies with a different message still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of an *Error in err's chain, or -1 when there is none.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return -1
}

var (
	OK = New(0, "success")

	BackendServiceNotAvailable = New(-9001, "no backend service available")
	BackendAlreadyExist        = New(-9002, "backend already exists")
	BackendServiceError        = New(-9003, "backend service error")
	APINotFound                = New(-9005, "api not found")
	ClusterAlreadyExist        = New(-9006, "cluster already exists")
	ClusterNotFound            = New(-9007, "cluster not found")
	APIAlreadyExist            = New(-9008, "api already exists")
	BackendNotFound            = New(-9009, "backend not found")
	PluginAlreadyExist         = New(-9010, "plugin already exists")
	ParamParseFailed           = New(-9011, "failed to parse request payload")
	ClusterNameEmpty           = New(-9012, "cluster name must not be empty")
	UnknownMethod              = New(-9017, "unknown method")
	URLNotValid                = New(-9018, "url must not be empty")
	TooManyNodes               = New(-9019, "too many nodes")
	PluginNotFound             = New(-9027, "plugin not found")
	ValidationRuleInvalid      = New(-9028, "invalid validation pattern")
	RouteInvalid               = New(-9029, "invalid route rule")
	StoreFailed                = New(-9030, "storage failure")
)
