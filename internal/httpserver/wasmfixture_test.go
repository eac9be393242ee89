package httpserver

// A hand-built WASM binary fixture, trimmed to exercise the Rejected (403)
// status mapping end-to-end through a real bound pipeline step. See
// internal/wasmrt's fixture for the fuller, behavior-parameterized version.

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomgate/loomgate/internal/config"
	"github.com/loomgate/loomgate/internal/wasmrt"
)

func buildRejectingWasm(errCode byte, errMsg string) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d})
	b.Write([]byte{0x01, 0x00, 0x00, 0x00})

	i32x8 := []byte{0x60, 8, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 1, 0x7f}
	types := [][]byte{
		{0x60, 0, 1, 0x7f},
		{0x60, 1, 0x7f, 1, 0x7f},
		{0x60, 2, 0x7f, 0x7f, 0},
		{0x60, 0, 0},
		i32x8,
	}
	b.Write(hsSection(1, hsVector(types)))
	b.Write(hsSection(3, []byte{7, 1, 2, 0, 3, 0, 0, 4}))
	b.Write(hsSection(5, []byte{1, 0x00, 2}))

	globals := [][]byte{
		{0x7f, 0x01, 0x41, 0x80, 0x20, 0x0b},
		{0x7f, 0x01, 0x41, 0x00, 0x0b},
	}
	b.Write(hsSection(6, hsVector(globals)))

	exports := [][]byte{
		hsExport("memory", 0x02, 0),
		hsExport("alloc", 0x00, 0),
		hsExport("dealloc", 0x00, 1),
		hsExport("_setup", 0x00, 2),
		hsExport("err_clear", 0x00, 3),
		hsExport("get_err_no", 0x00, 4),
		hsExport("get_err_msg", 0x00, 5),
		hsExport("http_validator", 0x00, 6),
	}
	b.Write(hsSection(7, hsVector(exports)))

	codes := [][]byte{
		hsCode(1, []byte{0x23, 0x00, 0x21, 0x01, 0x20, 0x01, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x20, 0x01, 0x0b}),
		hsCode(0, []byte{0x0b}),
		hsCode(0, []byte{0x41, 0x00, 0x0b}),
		hsCode(0, []byte{0x41, 0x00, 0x24, 0x01, 0x0b}),
		hsCode(0, []byte{0x23, 0x01, 0x0b}),
		hsCode(0, []byte{0x41, 0x00, 0x0b}),
		hsCode(0, []byte{0x41, errCode, 0x24, 0x01, 0x41, 0x01, 0x0b}),
	}
	b.Write(hsSection(10, hsVector(codes)))

	if errMsg != "" {
		b.Write(hsSection(11, hsVector([][]byte{hsData(0, []byte(errMsg))})))
	}
	return b.Bytes()
}

func loadRejectingStep(t *testing.T) *config.StepInternal {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "validator.wasm")
	if err := os.WriteFile(path, buildRejectingWasm(3, "forbidden"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt, err := wasmrt.Load(context.Background(), wasmrt.LoadOptions{
		Name:     "rejecting-step",
		WasmPath: path,
		Engine:   wasmrt.EngineConfig{Mode: "interpreter", MemoryLimitPages: 4},
	})
	if err != nil {
		t.Fatalf("wasmrt.Load failed: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return &config.StepInternal{Uses: "rejecting-step", Name: "rejecting-step", Runtime: rt}
}

func hsSection(id byte, content []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(id)
	buf.Write(hsLEB(uint32(len(content))))
	buf.Write(content)
	return buf.Bytes()
}

func hsVector(items [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(hsLEB(uint32(len(items))))
	for _, item := range items {
		buf.Write(item)
	}
	return buf.Bytes()
}

func hsExport(name string, kind, idx byte) []byte {
	var buf bytes.Buffer
	buf.Write(hsLEB(uint32(len(name))))
	buf.WriteString(name)
	buf.WriteByte(kind)
	buf.WriteByte(idx)
	return buf.Bytes()
}

func hsCode(localI32Count int, body []byte) []byte {
	var locals []byte
	if localI32Count == 0 {
		locals = []byte{0}
	} else {
		locals = []byte{1, byte(localI32Count), 0x7f}
	}
	full := append(locals, body...)
	var buf bytes.Buffer
	buf.Write(hsLEB(uint32(len(full))))
	buf.Write(full)
	return buf.Bytes()
}

func hsData(offset int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x00)
	buf.WriteByte(0x41)
	buf.Write(hsLEB(uint32(offset)))
	buf.WriteByte(0x0b)
	buf.Write(hsLEB(uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func hsLEB(value uint32) []byte {
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
