// Package crate decodes the newline-delimited JSON index entries that
// describe a single published crate version.
package crate

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/alecthomas/errors"
)

// Metadata describes one published version of a crate, as recorded by a
// single line of an index file. Fields beyond the ones below exist in the
// real index (deps, features, ...) but are irrelevant to the mirror and are
// dropped on decode.
type Metadata struct {
	Name   string `json:"name"`
	Vers   string `json:"vers"`
	Cksum  string `json:"cksum"`
	Yanked bool   `json:"yanked"`
}

// ParseLine decodes a single NDJSON line into a Metadata value. Unlike
// encoding/json alone, it rejects a decode that leaves name or vers empty
// rather than silently keeping a zero-valued entry. cksum and yanked are not
// checked: a line without them decodes with "" and false.
func ParseLine(line []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(line, &m); err != nil {
		return m, err
	}
	if m.Name == "" || m.Vers == "" {
		return m, errors.Errorf("missing required field in %q", line)
	}
	return m, nil
}

// ParseReader reads r line by line and decodes each as Metadata, silently
// skipping lines that fail to parse. This is the de-facto filter that lets
// the index walk include non-index files (README, .gitattributes) without
// special-casing them.
func ParseReader(r io.Reader) []Metadata {
	var out []Metadata
	scanner := bufio.NewScanner(r)
	// Index lines can be considerably longer than bufio.Scanner's 64KiB
	// default token size once a crate accumulates many dependencies.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		m, err := ParseLine(line)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
