package pattern

// gutmannPass describes one of the 35 passes of the Gutmann method.
// Passes with a nil Bytes field are random; otherwise the pass fills with
// the given repeating byte sequence. Captured verbatim from the reference
// algorithm table rather than re-derived, since getting the repeating
// 3-byte magnetic-encoding patterns (passes 7-9, 26-28, 29-31) wrong would
// silently produce a weaker wipe that still reports success.
type gutmannPass struct {
	Random bool
	Bytes  []byte
}

var gutmannPasses = [35]gutmannPass{
	0:  {Random: true},
	1:  {Random: true},
	2:  {Random: true},
	3:  {Random: true},
	4:  {Bytes: []byte{0x55}},
	5:  {Bytes: []byte{0xAA}},
	6:  {Bytes: []byte{0x92, 0x49, 0x24}},
	7:  {Bytes: []byte{0x49, 0x24, 0x92}},
	8:  {Bytes: []byte{0x24, 0x92, 0x49}},
	9:  {Bytes: []byte{0x00}},
	10: {Bytes: []byte{0x11}},
	11: {Bytes: []byte{0x22}},
	12: {Bytes: []byte{0x33}},
	13: {Bytes: []byte{0x44}},
	14: {Bytes: []byte{0x55}},
	15: {Bytes: []byte{0x66}},
	16: {Bytes: []byte{0x77}},
	17: {Bytes: []byte{0x88}},
	18: {Bytes: []byte{0x99}},
	19: {Bytes: []byte{0xAA}},
	20: {Bytes: []byte{0xBB}},
	21: {Bytes: []byte{0xCC}},
	22: {Bytes: []byte{0xDD}},
	23: {Bytes: []byte{0xEE}},
	24: {Bytes: []byte{0xFF}},
	25: {Bytes: []byte{0x92, 0x49, 0x24}},
	26: {Bytes: []byte{0x49, 0x24, 0x92}},
	27: {Bytes: []byte{0x24, 0x92, 0x49}},
	28: {Bytes: []byte{0x6D, 0xB6, 0xDB}},
	29: {Bytes: []byte{0xB6, 0xDB, 0x6D}},
	30: {Bytes: []byte{0xDB, 0x6D, 0xB6}},
	31: {Random: true},
	32: {Random: true},
	33: {Random: true},
	34: {Random: true},
}
