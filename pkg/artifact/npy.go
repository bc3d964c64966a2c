package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Minimal NPY v1.0 codec. Artifacts are written as NPZ (a zip of NPY
// entries) so they stay readable by the numpy tooling the rest of the
// platform uses; only the dtypes the pipeline produces are supported.

var npyMagic = []byte("\x93NUMPY")

// Dtype descriptors as they appear in NPY headers.
const (
	DtypeUint8   = "|u1"
	DtypeFloat32 = "<f4"
)

// writeNPY encodes one array in NPY v1.0 format. data must already be
// in C order with the element width implied by descr.
func writeNPY(w io.Writer, descr string, shape []int, data []byte) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	// Pad so the data section starts 64-byte aligned, newline last.
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	pad := (64 - total%64) % 64
	header = header + strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

var (
	descrRe = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	shapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// readNPY decodes an NPY v1.0/v2.0 stream, returning the dtype
// descriptor, shape, and raw data bytes.
func readNPY(r io.Reader) (descr string, shape []int, data []byte, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", nil, nil, err
	}
	if len(raw) < 10 || !bytes.HasPrefix(raw, npyMagic) {
		return "", nil, nil, fmt.Errorf("not an NPY stream")
	}
	major := raw[6]
	var headerLen, headerOff int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(raw[8:10]))
		headerOff = 10
	case 2:
		if len(raw) < 12 {
			return "", nil, nil, fmt.Errorf("truncated NPY v2 header")
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[8:12]))
		headerOff = 12
	default:
		return "", nil, nil, fmt.Errorf("unsupported NPY version %d", major)
	}
	if len(raw) < headerOff+headerLen {
		return "", nil, nil, fmt.Errorf("truncated NPY header")
	}
	header := string(raw[headerOff : headerOff+headerLen])

	m := descrRe.FindStringSubmatch(header)
	if m == nil {
		return "", nil, nil, fmt.Errorf("NPY header missing descr")
	}
	descr = m[1]

	m = shapeRe.FindStringSubmatch(header)
	if m == nil {
		return "", nil, nil, fmt.Errorf("NPY header missing shape")
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return "", nil, nil, fmt.Errorf("bad NPY shape entry %q", part)
		}
		shape = append(shape, d)
	}

	return descr, shape, raw[headerOff+headerLen:], nil
}

func float32FromLE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
