package api

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mapchat/syncd/internal/service"
)

var errNoCaller = errors.New("request is not authenticated")

var codes = map[service.Kind]connect.Code{
	service.KindNotFound:        connect.CodeNotFound,
	service.KindInvalid:         connect.CodeInvalidArgument,
	service.KindPermission:      connect.CodePermissionDenied,
	service.KindConflict:        connect.CodeAborted,
	service.KindUnavailable:     connect.CodeUnavailable,
	service.KindPrecondition:    connect.CodeFailedPrecondition,
	service.KindCancelled:       connect.CodeCanceled,
	service.KindUnauthenticated: connect.CodeUnauthenticated,
	service.KindFailed:          connect.CodeInternal,
}

// toConnectError converts a service error into a connect error. The message
// is the user-facing text; the domain and code travel as metadata.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	code, ok := codes[service.KindOf(err)]
	if !ok {
		code = connect.CodeUnknown
	}
	out := connect.NewError(code, errors.New(service.UserMessage(err)))

	var de *service.Error
	if errors.As(err, &de) {
		out.Meta().Set("Mapchat-Error-Domain", string(de.Domain))
		out.Meta().Set("Mapchat-Error-Code", de.Code)
	}
	var ue *service.UnknownError
	if errors.As(err, &ue) {
		out.Meta().Set("Mapchat-Error-Domain", string(ue.Domain))
		out.Meta().Set("Mapchat-Error-Code", "unknown")
	}
	return out
}
