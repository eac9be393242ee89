package wasmrt

// Hand-built minimal WASM binaries for exercising the loader and the
// guest-call machinery without a real compiled plugin. Wazero has no WAT
// parser, so these are assembled byte-by-byte, following the same
// section/LEB128 encoding helpers used to build fixture modules against a
// host ABI in the broader plugin-host ecosystem.

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// fixtureOpts controls the behavior baked into a built module's _setup
// and http_validator bodies.
type fixtureOpts struct {
	setupFails        bool
	setupLeavesErrno  byte // if nonzero, a successful _setup still leaves this errno set
	validatorBehavior string // "continue", "reject", "errno_only", "leave_errno"
	errMsg            string
	errCode           byte
	omitExport        string // export name to leave out, for validateExports failure tests
}

// buildValidatorWasm assembles a module exporting exactly the required
// surface: memory, alloc, dealloc, _setup, err_clear, get_err_no,
// get_err_msg, http_validator.
func buildValidatorWasm(opts fixtureOpts) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // magic
	b.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	// --- Type section ---
	i32x8 := []byte{0x60, 8, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 1, 0x7f}
	types := [][]byte{
		{0x60, 0, 1, 0x7f},             // type 0: () -> i32
		{0x60, 1, 0x7f, 1, 0x7f},       // type 1: (i32) -> i32
		{0x60, 2, 0x7f, 0x7f, 0},       // type 2: (i32,i32) -> ()
		{0x60, 0, 0},                   // type 3: () -> ()
		i32x8,                          // type 4: (i32*8) -> i32
	}
	b.Write(encodeSection(1, encodeVector(types)))

	// --- Function section ---
	// 0 alloc(t1) 1 dealloc(t2) 2 _setup(t0) 3 err_clear(t3)
	// 4 get_err_no(t0) 5 get_err_msg(t0) 6 http_validator(t4)
	b.Write(encodeSection(3, []byte{7, 1, 2, 0, 3, 0, 0, 4}))

	// --- Memory section --- 1 memory, min 2 pages, no max
	b.Write(encodeSection(5, []byte{1, 0x00, 2}))

	// --- Global section --- 0: bump ptr (mutable i32, init 4096)
	// 1: errno (mutable i32, init 0)
	globals := [][]byte{
		append([]byte{0x7f, 0x01, 0x41}, append(encodeSignedLEB128(4096), 0x0b)...),
		{0x7f, 0x01, 0x41, 0x00, 0x0b},
	}
	b.Write(encodeSection(6, encodeVector(globals)))

	// --- Export section ---
	allExports := [][2]interface{}{
		{"memory", byte(0x02)},
		{"alloc", byte(0x00)},
		{"dealloc", byte(0x00)},
		{"_setup", byte(0x00)},
		{"err_clear", byte(0x00)},
		{"get_err_no", byte(0x00)},
		{"get_err_msg", byte(0x00)},
		{"http_validator", byte(0x00)},
	}
	funcIdx := map[string]byte{
		"alloc": 0, "dealloc": 1, "_setup": 2, "err_clear": 3,
		"get_err_no": 4, "get_err_msg": 5, "http_validator": 6,
	}
	var exportEntries [][]byte
	for _, e := range allExports {
		name := e[0].(string)
		if name == opts.omitExport {
			continue
		}
		kind := e[1].(byte)
		idx := byte(0)
		if name != "memory" {
			idx = funcIdx[name]
		}
		exportEntries = append(exportEntries, encodeExportEntry(name, kind, idx))
	}
	b.Write(encodeSection(7, encodeVector(exportEntries)))

	// --- Code section ---
	var codeBodies [][]byte

	// alloc(len) -> i32: bump allocator using one extra local (index 1)
	// holding the pointer returned, so the post-increment can be computed
	// without clobbering the value handed back to the caller.
	codeBodies = append(codeBodies, encodeCode(1, []byte{
		0x23, 0x00, // global.get 0
		0x21, 0x01, // local.set 1
		0x20, 0x01, // local.get 1
		0x20, 0x00, // local.get 0
		0x6a,       // i32.add
		0x24, 0x00, // global.set 0
		0x20, 0x01, // local.get 1
		0x0b,
	}))

	// dealloc: no-op
	codeBodies = append(codeBodies, encodeCode(0, []byte{0x0b}))

	// _setup
	if opts.setupFails {
		codeBodies = append(codeBodies, encodeCode(0, []byte{
			0x41, opts.errCode, // i32.const errCode
			0x24, 0x01, // global.set 1 (errno)
			0x41, 0x01, // i32.const 1 (SetupErr)
			0x0b,
		}))
	} else if opts.setupLeavesErrno != 0 {
		codeBodies = append(codeBodies, encodeCode(0, []byte{
			0x41, opts.setupLeavesErrno, // i32.const errno
			0x24, 0x01, // global.set 1
			0x41, 0x00, // return SetupOK(0)
			0x0b,
		}))
	} else {
		codeBodies = append(codeBodies, encodeCode(0, []byte{0x41, 0x00, 0x0b}))
	}

	// err_clear: errno = 0
	codeBodies = append(codeBodies, encodeCode(0, []byte{0x41, 0x00, 0x24, 0x01, 0x0b}))

	// get_err_no: return errno
	codeBodies = append(codeBodies, encodeCode(0, []byte{0x23, 0x01, 0x0b}))

	// get_err_msg: return fixed offset 0, where the message data segment lives
	codeBodies = append(codeBodies, encodeCode(0, []byte{0x41, 0x00, 0x0b}))

	// http_validator
	var validatorBody []byte
	switch opts.validatorBehavior {
	case "leave_errno":
		// Returns Continue without touching errno itself, so a stale
		// nonzero errno from a prior call reappears only if the host's own
		// err_clear call inside InvokeHTTPValidator didn't run.
		validatorBody = []byte{0x41, 0x00, 0x0b}
	case "reject":
		validatorBody = []byte{
			0x41, opts.errCode, 0x24, 0x01, // errno = errCode
			0x41, 0x01, // return ResultError(1)
			0x0b,
		}
	case "errno_only":
		validatorBody = []byte{
			0x41, opts.errCode, 0x24, 0x01, // errno = errCode
			0x41, 0x00, // return ResultContinue(0)
			0x0b,
		}
	default: // "continue"
		validatorBody = []byte{
			0x41, 0x00, 0x24, 0x01, // errno = 0
			0x41, 0x00, // return ResultContinue(0)
			0x0b,
		}
	}
	codeBodies = append(codeBodies, encodeCode(0, validatorBody))

	b.Write(encodeSection(10, encodeVector(codeBodies)))

	// --- Data section --- message at offset 0, for get_err_msg
	if opts.errMsg != "" {
		b.Write(encodeSection(11, encodeVector([][]byte{
			encodeDataSegment(0, []byte(opts.errMsg)),
		})))
	}

	return b.Bytes()
}

// buildTruncatedWasm returns a valid magic number followed by a truncated
// version field, for exercising CompileModule's failure path.
func buildTruncatedWasm() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00}
}

func writeWasmFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.wasm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- WASM binary encoding helpers ---

func encodeSection(id byte, content []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(id)
	buf.Write(encodeLEB128(uint32(len(content))))
	buf.Write(content)
	return buf.Bytes()
}

func encodeVector(items [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(items))))
	for _, item := range items {
		buf.Write(item)
	}
	return buf.Bytes()
}

func encodeExportEntry(name string, kind, idx byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(name))))
	buf.WriteString(name)
	buf.WriteByte(kind)
	buf.WriteByte(idx)
	return buf.Bytes()
}

func encodeCode(localI32Count int, body []byte) []byte {
	var locals []byte
	if localI32Count == 0 {
		locals = []byte{0}
	} else {
		locals = []byte{1, byte(localI32Count), 0x7f}
	}
	full := append(locals, body...)
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(full))))
	buf.Write(full)
	return buf.Bytes()
}

func encodeDataSegment(offset int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x00) // active, memory 0
	buf.WriteByte(0x41) // i32.const
	buf.Write(encodeSignedLEB128(int32(offset)))
	buf.WriteByte(0x0b)
	buf.Write(encodeLEB128(uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func encodeLEB128(value uint32) []byte {
	var buf []byte
	for {
		bb := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			bb |= 0x80
		}
		buf = append(buf, bb)
		if value == 0 {
			break
		}
	}
	return buf
}

func encodeSignedLEB128(value int32) []byte {
	var buf []byte
	for {
		bb := byte(value & 0x7f)
		value >>= 7
		if (value == 0 && bb&0x40 == 0) || (value == -1 && bb&0x40 != 0) {
			buf = append(buf, bb)
			break
		}
		bb |= 0x80
		buf = append(buf, bb)
	}
	return buf
}
