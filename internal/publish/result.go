package publish

import (
	"errors"
	"time"

	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

// Result error codes.
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeTransient     = "TRANSIENT_ERROR"
	CodePermanent     = "PERMANENT_ERROR"
	CodeNotSupported  = "NOT_SUPPORTED"
	CodeUploadAborted = "UPLOAD_ABORTED"
	CodeNoAction      = "NO_ACTION"
	CodeExecution     = "EXECUTION_ERROR"
	CodeShutdown      = "SHUTDOWN"
)

func succeeded(postID string) xpost.Result {
	return xpost.Result{Success: true, PostID: postID, Timestamp: time.Now().UTC()}
}

func failed(err error) xpost.Result {
	return xpost.Result{Success: false, Error: resultError(err), Timestamp: time.Now().UTC()}
}

// resultError maps err onto a stable code, keeping the upstream payload.
func resultError(err error) *xpost.ResultError {
	re := &xpost.ResultError{Code: CodeExecution, Message: err.Error()}

	var (
		rl xpost.RateLimitedError
		te xpost.TransientError
		pe xpost.PermanentError
		ue xpost.UnsupportedError
		ve xpost.ValidationError
		me xpost.MissingEnvError
		ae upload.AbortedError
	)
	switch {
	case errors.Is(err, queue.ErrClosed):
		re.Code = CodeShutdown
	case errors.Is(err, xpost.ErrNoAction):
		re.Code = CodeNoAction
	case errors.As(err, &ae):
		re.Code = CodeUploadAborted
	case errors.As(err, &ue):
		re.Code = CodeNotSupported
	case errors.As(err, &rl):
		re.Code = CodeRateLimited
		re.Raw = rl.Raw
	case errors.As(err, &te):
		re.Code = CodeTransient
		re.Raw = te.Raw
	case errors.As(err, &pe):
		re.Code = CodePermanent
		re.Raw = pe.Raw
	case errors.As(err, &ve), errors.As(err, &me):
		re.Code = CodePermanent
	}
	return re
}
