// Package io provides low-level SMTP line reading shared by the
// client protocol layer.
package io

import (
	"bufio"
	"errors"
)

var (
	ErrLineTooLong = errors.New("smtp: line too long")
)

// ReadLine reads a single SMTP reply line with length enforcement.
// The returned line has its trailing CRLF (or bare LF, which some
// servers emit) stripped. Lines longer than max bytes fail with
// ErrLineTooLong; the rest of the overlong line is drained so the
// reader stays synchronized with the reply stream.
func ReadLine(reader *bufio.Reader, max int) (string, error) {
	// FAST PATH: try to read the full line in one go (zero-copy view).
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return trimAndConvert(line, max)
	}

	// If it's not ErrBufferFull, it's a read error (EOF, etc).
	if err != bufio.ErrBufferFull {
		return "", err
	}

	// SLOW PATH: the line is larger than the bufio buffer.
	// Accumulate chunks; the next ReadSlice overwrites the first one.
	var buf []byte
	buf = append(buf, line...)

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			drainLine(reader)
			return "", ErrLineTooLong
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return "", err
		}
	}

	return trimAndConvert(buf, max)
}

// trimAndConvert checks length, strips the line ending, and converts
// to string. b is known to end in '\n'.
func trimAndConvert(b []byte, max int) (string, error) {
	if len(b) > max {
		return "", ErrLineTooLong
	}

	end := len(b) - 1
	if end > 0 && b[end-1] == '\r' {
		end--
	}
	return string(b[:end]), nil
}

// drainLine discards the rest of the current line to recover protocol
// synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
