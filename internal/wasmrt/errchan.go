package wasmrt

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/loomgate/loomgate/internal/abi"
)

// ReadAndClearError runs the guest error channel protocol: get_err_no tells
// us whether a CustomError is pending, get_err_msg (when nonzero) returns a
// guest-owned pointer to its message bytes, and err_clear always runs last
// so the channel is reset for the next call regardless of which branch was
// taken. Returning a non-nil *abi.CustomError here means "the guest reported
// a CustomError", not "the host call failed" — callers use it to form a
// Rejected outcome, not a Go error.
func ReadAndClearError(ctx context.Context, mod api.Module) (*abi.CustomError, error) {
	getErrNo := mod.ExportedFunction(abi.ExportGetErrNo)
	getErrMsg := mod.ExportedFunction(abi.ExportGetErrMsg)
	errClear := mod.ExportedFunction(abi.ExportErrClear)
	if getErrNo == nil || getErrMsg == nil || errClear == nil {
		return nil, &ProtocolError{Op: "error channel", Reason: "guest missing get_err_no/get_err_msg/err_clear"}
	}

	defer func() {
		// err_clear runs unconditionally: the channel must reset even on
		// the error path below, or a stale CustomError would bleed into
		// the next call made against this instance.
		_, _ = errClear.Call(ctx)
	}()

	noResults, err := getErrNo.Call(ctx)
	if err != nil {
		return nil, &ResourceError{Op: "get_err_no", Reason: "guest call trapped", Err: err}
	}
	if len(noResults) != 1 {
		return nil, &ProtocolError{Op: "get_err_no", Reason: "expected 1 result"}
	}
	errNo := int32(noResults[0])
	if errNo == 0 {
		return nil, nil
	}

	msgResults, err := getErrMsg.Call(ctx)
	if err != nil {
		return nil, &ResourceError{Op: "get_err_msg", Reason: "guest call trapped", Err: err}
	}
	if len(msgResults) != 1 {
		return nil, &ProtocolError{Op: "get_err_msg", Reason: "expected 1 result"}
	}

	ptr := uint32(msgResults[0])

	raw, rerr := ReadOutAt(mod, ptr, abi.MaxErrMsgLen)
	if rerr != nil {
		return nil, rerr
	}
	msg := trimNulTail(raw)

	return &abi.CustomError{Code: errNo, Message: msg}, nil
}

func trimNulTail(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
