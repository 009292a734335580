package regress

import (
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
)

// Encode writes v as gzip-compressed JSON.
func Encode(w io.Writer, v any) error {
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		zw.Close() //nolint:errcheck
		return eris.Wrap(err, "regress: encode")
	}
	return eris.Wrap(zw.Close(), "regress: flush")
}

// Decode reads gzip-compressed JSON into v.
func Decode(r io.Reader, v any) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return eris.Wrap(err, "regress: open gzip")
	}
	defer zr.Close() //nolint:errcheck
	return eris.Wrap(json.NewDecoder(zr).Decode(v), "regress: decode")
}
