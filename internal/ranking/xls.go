package ranking

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	errNoWorkbook  = errors.New("no workbook stream")
	errBIFFVersion = errors.New("only Excel 97-2003 workbooks are supported")
	errBIFFRecord  = errors.New("malformed record")
)

const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809

	biff8        = 0x0600
	biff8Columns = 256
	maxXLSStream = 32 << 20
)

var zipMagic = []byte("PK\x03\x04")

// ParseXLS reads legacy Excel 97-2003 workbooks. Files saved as .xls that
// are really OOXML packages go through ParseXLSX. Rows feed the same
// name/amount rule as spreadsheets.
func ParseXLS(data []byte) ([]Entry, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return ParseXLSX(data)
	}
	stream, err := workbookStream(data)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets, err := readBIFF(stream)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}

	var entries []Entry
	for _, cells := range sheets {
		eachRow(cells, func(row []string) {
			if e, ok := rowEntry(row); ok {
				entries = append(entries, e)
			}
		})
	}
	return entries, nil
}

// workbookStream extracts the BIFF stream from the compound file container.
func workbookStream(data []byte) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for f, err := doc.Next(); err == nil; f, err = doc.Next() {
		switch f.Name {
		case "Workbook":
			if f.Size > maxXLSStream {
				return nil, fmt.Errorf("workbook stream of %d bytes", f.Size)
			}
			return io.ReadAll(f)
		case "Book":
			return nil, errBIFFVersion
		}
	}
	return nil, errNoWorkbook
}

type biffRecord struct {
	id   uint16
	data []byte
}

type biffReader struct {
	buf []byte
	off int
}

func (r *biffReader) next() (biffRecord, error) {
	if r.off+4 > len(r.buf) {
		return biffRecord{}, io.EOF
	}
	id := binary.LittleEndian.Uint16(r.buf[r.off:])
	size := int(binary.LittleEndian.Uint16(r.buf[r.off+2:]))
	start := r.off + 4
	if start+size > len(r.buf) {
		return biffRecord{}, fmt.Errorf("%w: record %#04x overruns stream", errBIFFRecord, id)
	}
	r.off = start + size
	return biffRecord{id: id, data: r.buf[start:r.off]}, nil
}

// peek reports the id of the following record without consuming it.
func (r *biffReader) peek() uint16 {
	if r.off+4 > len(r.buf) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[r.off:])
}

type cellPos struct{ row, col uint16 }

// readBIFF returns the cell text of every worksheet keyed by position.
func readBIFF(stream []byte) ([]map[cellPos]string, error) {
	r := &biffReader{buf: stream}
	bof, err := r.next()
	if err != nil {
		return nil, fmt.Errorf("%w: empty stream", errBIFFRecord)
	}
	if bof.id != recBOF || len(bof.data) < 4 {
		return nil, fmt.Errorf("%w: stream does not start with BOF", errBIFFRecord)
	}
	if binary.LittleEndian.Uint16(bof.data) != biff8 {
		return nil, errBIFFVersion
	}

	var (
		sst     []string
		offsets []int
	)
	for {
		rec, err := r.next()
		if err != nil {
			return nil, fmt.Errorf("%w: workbook globals end early", errBIFFRecord)
		}
		if rec.id == recEOF {
			break
		}
		switch rec.id {
		case recBoundSheet:
			if len(rec.data) < 6 {
				return nil, fmt.Errorf("%w: short BOUNDSHEET", errBIFFRecord)
			}
			// type 0 is a worksheet; charts and macro sheets carry no cells
			if rec.data[5] == 0 {
				offsets = append(offsets, int(binary.LittleEndian.Uint32(rec.data)))
			}
		case recSST:
			segs := [][]byte{rec.data}
			for r.peek() == recContinue {
				cont, err := r.next()
				if err != nil {
					return nil, err
				}
				segs = append(segs, cont.data)
			}
			if sst, err = readSST(segs); err != nil {
				return nil, err
			}
		}
	}

	sheets := make([]map[cellPos]string, 0, len(offsets))
	for _, off := range offsets {
		if off < 0 || off >= len(stream) {
			return nil, fmt.Errorf("%w: sheet offset %d outside stream", errBIFFRecord, off)
		}
		cells, err := readSheet(&biffReader{buf: stream, off: off}, sst)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, cells)
	}
	return sheets, nil
}

func readSheet(r *biffReader, sst []string) (map[cellPos]string, error) {
	if bof, err := r.next(); err != nil || bof.id != recBOF {
		return nil, fmt.Errorf("%w: sheet does not start with BOF", errBIFFRecord)
	}
	cells := map[cellPos]string{}
	var pending *cellPos
	for {
		rec, err := r.next()
		if err != nil {
			return nil, fmt.Errorf("%w: sheet ends without EOF", errBIFFRecord)
		}
		d := rec.data
		if isCell(rec.id) && (len(d) < 4 || binary.LittleEndian.Uint16(d[2:]) >= biff8Columns) {
			return nil, fmt.Errorf("%w: cell record %#04x outside the sheet", errBIFFRecord, rec.id)
		}
		switch rec.id {
		case recEOF:
			return cells, nil
		case recLabelSST:
			if len(d) < 10 {
				return nil, fmt.Errorf("%w: short LABELSST", errBIFFRecord)
			}
			idx := int(binary.LittleEndian.Uint32(d[6:]))
			if idx >= len(sst) {
				return nil, fmt.Errorf("%w: shared string %d of %d", errBIFFRecord, idx, len(sst))
			}
			cells[position(d)] = sst[idx]
		case recLabel:
			if len(d) < 6 {
				return nil, fmt.Errorf("%w: short LABEL", errBIFFRecord)
			}
			s, err := unicodeString(d[6:])
			if err != nil {
				return nil, err
			}
			cells[position(d)] = s
		case recNumber:
			if len(d) < 14 {
				return nil, fmt.Errorf("%w: short NUMBER", errBIFFRecord)
			}
			cells[position(d)] = formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(d[6:])))
		case recRK:
			if len(d) < 10 {
				return nil, fmt.Errorf("%w: short RK", errBIFFRecord)
			}
			cells[position(d)] = formatNumber(rkValue(binary.LittleEndian.Uint32(d[6:])))
		case recMulRK:
			if len(d) < 6 || (len(d)-6)%6 != 0 {
				return nil, fmt.Errorf("%w: short MULRK", errBIFFRecord)
			}
			p := position(d)
			if int(p.col)+(len(d)-6)/6 > biff8Columns {
				return nil, fmt.Errorf("%w: MULRK past the last column", errBIFFRecord)
			}
			for i := 0; 4+i*6+6 <= len(d)-2; i++ {
				rk := binary.LittleEndian.Uint32(d[4+i*6+2:])
				cells[cellPos{p.row, p.col + uint16(i)}] = formatNumber(rkValue(rk))
			}
		case recFormula:
			if len(d) < 14 {
				return nil, fmt.Errorf("%w: short FORMULA", errBIFFRecord)
			}
			p := position(d)
			res := d[6:14]
			if binary.LittleEndian.Uint16(res[6:]) != 0xFFFF {
				cells[p] = formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(res)))
			} else if res[0] == 0 {
				// string result follows in a STRING record
				pending = &p
			}
		case recString:
			if pending == nil {
				continue
			}
			s, err := unicodeString(d)
			if err != nil {
				return nil, err
			}
			cells[*pending] = s
			pending = nil
		}
	}
}

func isCell(id uint16) bool {
	switch id {
	case recLabelSST, recLabel, recNumber, recRK, recMulRK, recFormula:
		return true
	}
	return false
}

func position(d []byte) cellPos {
	return cellPos{row: binary.LittleEndian.Uint16(d), col: binary.LittleEndian.Uint16(d[2:])}
}

// eachRow hands fn one row at a time in sheet order, padded with empty
// cells up to the last used column.
func eachRow(cells map[cellPos]string, fn func([]string)) {
	byRow := map[uint16][]uint16{}
	for p := range cells {
		byRow[p.row] = append(byRow[p.row], p.col)
	}
	rowIDs := make([]int, 0, len(byRow))
	for row := range byRow {
		rowIDs = append(rowIDs, int(row))
	}
	sort.Ints(rowIDs)

	for _, id := range rowIDs {
		row := uint16(id)
		width := 0
		for _, col := range byRow[row] {
			width = max(width, int(col)+1)
		}
		values := make([]string, width)
		for _, col := range byRow[row] {
			values[col] = cells[cellPos{row, col}]
		}
		fn(values)
	}
}

// rkValue decodes the compressed number form: bit 0 scales by 1/100, bit 1
// marks a 30-bit integer, otherwise the upper bits of a float64.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// unicodeString decodes a cell string: 16-bit length, option byte, then
// either 8-bit or UTF-16LE characters.
func unicodeString(d []byte) (string, error) {
	if len(d) < 3 {
		return "", fmt.Errorf("%w: short string", errBIFFRecord)
	}
	n := int(binary.LittleEndian.Uint16(d))
	wide := d[2]&0x01 != 0
	body := d[3:]
	if wide {
		n *= 2
	}
	if len(body) < n {
		return "", fmt.Errorf("%w: string overruns record", errBIFFRecord)
	}
	return decodeChars(body[:n], wide)
}

var (
	latinDecoder = charmap.Windows1252
	wideDecoder  = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

func decodeChars(b []byte, wide bool) (string, error) {
	var (
		out []byte
		err error
	)
	if wide {
		out, err = wideDecoder.NewDecoder().Bytes(b)
	} else {
		out, err = latinDecoder.NewDecoder().Bytes(b)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBIFFRecord, err)
	}
	return string(out), nil
}

// sstReader walks the shared string table across its CONTINUE records.
// Character data split between records restarts with a fresh option byte.
type sstReader struct {
	segs [][]byte
	seg  int
	off  int
}

func (r *sstReader) advance() bool {
	for r.off >= len(r.segs[r.seg]) {
		if r.seg+1 >= len(r.segs) {
			return false
		}
		r.seg++
		r.off = 0
	}
	return true
}

func (r *sstReader) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if !r.advance() {
			return nil, fmt.Errorf("%w: shared string table truncated", errBIFFRecord)
		}
		take := min(n-len(out), len(r.segs[r.seg])-r.off)
		out = append(out, r.segs[r.seg][r.off:r.off+take]...)
		r.off += take
	}
	return out, nil
}

func (r *sstReader) skip(n int) error {
	for n > 0 {
		if !r.advance() {
			return fmt.Errorf("%w: shared string table truncated", errBIFFRecord)
		}
		take := min(n, len(r.segs[r.seg])-r.off)
		r.off += take
		n -= take
	}
	return nil
}

func (r *sstReader) chars(n int, wide bool) (string, error) {
	var s string
	for n > 0 {
		seg := r.segs[r.seg]
		if r.off >= len(seg) {
			if r.seg+1 >= len(r.segs) {
				return "", fmt.Errorf("%w: shared string table truncated", errBIFFRecord)
			}
			r.seg++
			r.off = 1
			seg = r.segs[r.seg]
			if len(seg) == 0 {
				return "", fmt.Errorf("%w: empty CONTINUE", errBIFFRecord)
			}
			wide = seg[0]&0x01 != 0
			continue
		}
		width := 1
		if wide {
			width = 2
		}
		take := min(n, (len(seg)-r.off)/width)
		if take == 0 {
			return "", fmt.Errorf("%w: character split across records", errBIFFRecord)
		}
		part, err := decodeChars(seg[r.off:r.off+take*width], wide)
		if err != nil {
			return "", err
		}
		s += part
		r.off += take * width
		n -= take
	}
	return s, nil
}

func readSST(segs [][]byte) ([]string, error) {
	r := &sstReader{segs: segs}
	head, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	unique := int(binary.LittleEndian.Uint32(head[4:]))
	// every string takes at least three bytes
	total := 0
	for _, s := range segs {
		total += len(s)
	}
	if unique > total/3 {
		return nil, fmt.Errorf("%w: %d shared strings in %d bytes", errBIFFRecord, unique, total)
	}

	out := make([]string, 0, unique)
	for range unique {
		hdr, err := r.bytes(3)
		if err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(hdr))
		flags := hdr[2]
		var runs, ext int
		if flags&0x08 != 0 {
			b, err := r.bytes(2)
			if err != nil {
				return nil, err
			}
			runs = int(binary.LittleEndian.Uint16(b))
		}
		if flags&0x04 != 0 {
			b, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			ext = int(binary.LittleEndian.Uint32(b))
		}
		s, err := r.chars(n, flags&0x01 != 0)
		if err != nil {
			return nil, err
		}
		if err := r.skip(runs*4 + ext); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
