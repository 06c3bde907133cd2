package esobs

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformedKey = errors.New("malformed record key")

// KeySeparator joins the segments of an encoded record key.
const KeySeparator = "##"

const keyEscape = '\\'

// RecordKey identifies a single observation record.
type RecordKey struct {
	RecordType string
	ProducerID string
	Timestamp  float64 // seconds since epoch
}

// Encode renders the key as `<recordType>##<int64 bits of timestamp>##<producerID>`.
// The timestamp is written as the signed decimal form of its IEEE-754 bit
// pattern so it survives the round trip exactly. Any '#' or '\' inside the
// record type or producer id is escaped with '\'; keys without them are
// byte-identical to the unescaped layout.
func (k RecordKey) Encode() string {
	var sb strings.Builder
	sb.Grow(len(k.RecordType) + len(k.ProducerID) + 2*len(KeySeparator) + 20)

	writeEscaped(&sb, k.RecordType)
	sb.WriteString(KeySeparator)
	sb.WriteString(strconv.FormatInt(int64(math.Float64bits(k.Timestamp)), 10))
	sb.WriteString(KeySeparator)
	writeEscaped(&sb, k.ProducerID)

	return sb.String()
}

func (k RecordKey) String() string {
	return k.Encode()
}

// DecodeKey parses an encoded key. It fails with ErrMalformedKey unless the
// input splits into exactly three segments with a valid timestamp.
func DecodeKey(s string) (RecordKey, error) {
	segments, err := splitKey(s)
	if err != nil {
		return RecordKey{}, err
	}

	if len(segments) != 3 {
		return RecordKey{}, errors.Wrapf(ErrMalformedKey, "%q has %d segments", s, len(segments))
	}

	bits, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil {
		return RecordKey{}, errors.Wrapf(ErrMalformedKey, "%q has invalid timestamp bits", s)
	}

	return RecordKey{
		RecordType: segments[0],
		Timestamp:  math.Float64frombits(uint64(bits)),
		ProducerID: segments[2],
	}, nil
}

// ParseKey is the lenient form of DecodeKey: nil on any malformed input.
func ParseKey(s string) *RecordKey {
	k, err := DecodeKey(s)
	if err != nil {
		return nil
	}
	return &k
}

func writeEscaped(sb *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' || s[i] == keyEscape {
			sb.WriteByte(keyEscape)
		}
		sb.WriteByte(s[i])
	}
}

// splitKey cuts on unescaped separators. A lone '#' is taken literally so
// keys written before escaping existed still decode.
func splitKey(s string) ([]string, error) {
	var segments []string
	var cur strings.Builder

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == keyEscape:
			if i+1 >= len(s) {
				return nil, errors.Wrapf(ErrMalformedKey, "%q ends with a dangling escape", s)
			}
			i++
			cur.WriteByte(s[i])
		case c == '#' && i+1 < len(s) && s[i+1] == '#':
			segments = append(segments, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteByte(c)
		}
	}

	return append(segments, cur.String()), nil
}
