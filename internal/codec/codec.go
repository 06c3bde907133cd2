// Package codec serializes opaque metadata blobs: record store descriptors
// and data source descriptions. The byte layout is gob compressed with
// snappy and carries a one byte version prefix.
package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

var ErrEmptyBlob = errors.New("empty blob")
var ErrUnknownVersion = errors.New("unknown blob version")

const version1 byte = 1

func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "could not encode %T", v)
	}

	out := make([]byte, 1, 1+snappy.MaxEncodedLen(buf.Len()))
	out[0] = version1
	return append(out, snappy.Encode(nil, buf.Bytes())...), nil
}

// Decode fills dest, which must be a pointer, from a blob made by Encode.
func Decode(b []byte, dest interface{}) error {
	if len(b) == 0 {
		return ErrEmptyBlob
	}

	if b[0] != version1 {
		return errors.Wrapf(ErrUnknownVersion, "version %d", b[0])
	}

	raw, err := snappy.Decode(nil, b[1:])
	if err != nil {
		return errors.Wrap(err, "could not decompress blob")
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(dest); err != nil {
		return errors.Wrapf(err, "could not decode into %T", dest)
	}

	return nil
}
