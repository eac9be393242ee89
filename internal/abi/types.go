// Package abi defines the exact wire types, enum ordinals and codecs that
// cross the host/guest linear-memory boundary. Everything here must stay in
// lockstep with whatever a compiled guest module expects: ordinals are part
// of the on-the-wire contract, not implementation detail, and must never be
// renumbered once a guest module ships against them.
package abi

// HttpMethod mirrors the guest-side enum ordinals exactly.
type HttpMethod int32

const (
	MethodGET HttpMethod = iota
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodCONNECT
	MethodOPTIONS
	MethodTRACE
	MethodPATCH
)

// HttpMethodFromString maps a net/http method string to its wire ordinal.
// Unknown methods fall back to GET rather than failing the request outright;
// guests that care can still reject based on headers/arguments.
func HttpMethodFromString(s string) HttpMethod {
	switch s {
	case "GET":
		return MethodGET
	case "HEAD":
		return MethodHEAD
	case "POST":
		return MethodPOST
	case "PUT":
		return MethodPUT
	case "DELETE":
		return MethodDELETE
	case "CONNECT":
		return MethodCONNECT
	case "OPTIONS":
		return MethodOPTIONS
	case "TRACE":
		return MethodTRACE
	case "PATCH":
		return MethodPATCH
	default:
		return MethodGET
	}
}

// HttpVersion mirrors the guest-side enum ordinals exactly.
type HttpVersion int32

const (
	Http0_9 HttpVersion = iota
	Http1_0
	Http1_1
	Http2
	Http3
)

// HttpVersionFromProto maps an http.Request.Proto string to its wire ordinal.
func HttpVersionFromProto(proto string) HttpVersion {
	switch proto {
	case "HTTP/0.9":
		return Http0_9
	case "HTTP/1.0":
		return Http1_0
	case "HTTP/2.0", "HTTP/2":
		return Http2
	case "HTTP/3.0", "HTTP/3":
		return Http3
	default:
		return Http1_1
	}
}

// MiddlewareResult is the return value of the http_validator export.
type MiddlewareResult int32

const (
	ResultContinue MiddlewareResult = 0
	ResultError    MiddlewareResult = 1
)

// SetupOK / SetupErr are the two possible _setup return values; any nonzero
// value is an error, but SetupErr(1) is the canonical "generic failure" value
// used when a CustomError could not be recovered from the guest.
const (
	SetupOK  int32 = 0
	SetupErr int32 = 1
)

// MaxErrMsgLen is the maximum size, including the trailing NUL, of the
// message buffer returned by get_err_msg.
const MaxErrMsgLen = 1024

// CustomError is the structured failure a guest communicates through the
// error channel (get_err_no / get_err_msg / err_clear).
type CustomError struct {
	Code    int32
	Message string
}

func (e *CustomError) Error() string {
	if e == nil {
		return "<nil guest error>"
	}
	return e.Message
}

// Reserved export names every plugin module must expose.
const (
	ExportAlloc         = "alloc"
	ExportDealloc       = "dealloc"
	ExportSetup         = "_setup"
	ExportErrClear      = "err_clear"
	ExportGetErrNo      = "get_err_no"
	ExportGetErrMsg     = "get_err_msg"
	ExportHttpValidator = "http_validator"
	ExportMemory        = "memory"
)

// RequiredExports lists every export a plugin module must provide for the
// Module Loader to accept it. Checked once at load time so a malformed
// module fails fast with a LoadError instead of panicking mid-request.
var RequiredExports = []string{
	ExportAlloc,
	ExportDealloc,
	ExportSetup,
	ExportErrClear,
	ExportGetErrNo,
	ExportGetErrMsg,
	ExportHttpValidator,
}
