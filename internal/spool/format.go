// Package spool implements the spool file format shared by SMTP
// reception, the dispatcher, and bounce generation: a line-delimited,
// CRLF-terminated record of one accepted SMTP transaction, written
// atomically via a NEW-prefixed file renamed to a MSG-prefixed file.
package spool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Magic is the required first line of every spool file.
const Magic = "MAILSERV SENDER FILE"

// Terminator is the exact five-byte sequence (CRLF . CRLF) that must end
// a complete spool file. A file lacking it is still being written.
var Terminator = []byte{0x0D, 0x0A, 0x2E, 0x0D, 0x0A}

// MsgPrefix names a fully materialized, dispatch-ready file.
const MsgPrefix = "MSG"

// NewPrefix names a file still being written; invisible to readers.
const NewPrefix = "NEW"

const endMarker = "<END>"

// ErrIncomplete is returned by Parse when the file lacks the terminator.
// The caller must leave the file alone; it is likely still being written.
var ErrIncomplete = errors.New("spool: missing terminator, file incomplete")

// ErrCorrupt is returned by Parse when the file has the terminator but
// its header is malformed (bad magic, or no recipients).
var ErrCorrupt = errors.New("spool: malformed spool header")

// Address is a (local-part, domain) mailbox pair as found in a spool
// header, serialized one component per line.
type Address struct {
	Local  string
	Domain string
}

func (a Address) String() string {
	return a.Local + "@" + a.Domain
}

// Header is the parsed sender/recipient block of a spool file.
type Header struct {
	Sender     Address
	Recipients []Address
}

// Parsed is a spool file opened and validated for reading. Payload()
// returns a reader bounded to exactly the message bytes, excluding the
// trailing terminator.
type Parsed struct {
	Header        Header
	Path          string
	PayloadOffset int64
	PayloadSize   int64

	file *os.File
}

// Parse opens path, validates the terminator and header, and returns a
// Parsed ready for payload streaming. Callers must call Close.
//
// Distinguishing incomplete files (no terminator: leave alone) from
// corrupt ones (terminator present, header broken: caller should
// unlink) is the central contract of this function (spec.md §7).
func Parse(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()

	if size < int64(len(Terminator)) {
		f.Close()
		return nil, ErrIncomplete
	}

	tail := make([]byte, len(Terminator))
	if _, err := f.ReadAt(tail, size-int64(len(Terminator))); err != nil {
		f.Close()
		return nil, err
	}
	if string(tail) != string(Terminator) {
		f.Close()
		return nil, ErrIncomplete
	}

	header, payloadOffset, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &Parsed{
		Header:        header,
		Path:          path,
		PayloadOffset: payloadOffset,
		PayloadSize:   size - payloadOffset - int64(len(Terminator)),
		file:          f,
	}, nil
}

// Payload returns a reader bounded to exactly the message bytes.
func (p *Parsed) Payload() io.Reader {
	return io.NewSectionReader(p.file, p.PayloadOffset, p.PayloadSize)
}

// Close releases the underlying file handle.
func (p *Parsed) Close() error {
	return p.file.Close()
}

func readHeader(f *os.File) (Header, int64, error) {
	r := bufio.NewReader(f)
	var header Header
	var offset int64

	line, err := readCRLFLine(r)
	if err != nil {
		return header, 0, err
	}
	offset += int64(len(line)) + 2
	if line != Magic {
		return header, 0, fmt.Errorf("bad magic line %q", line)
	}

	senderLocal, n, err := readRequiredLine(r)
	if err != nil {
		return header, 0, err
	}
	offset += n
	senderDomain, n, err := readRequiredLine(r)
	if err != nil {
		return header, 0, err
	}
	offset += n
	header.Sender = Address{Local: senderLocal, Domain: senderDomain}

	for {
		first, n, err := readRequiredLine(r)
		if err != nil {
			return header, 0, err
		}
		offset += n
		if first == endMarker {
			break
		}
		second, n, err := readRequiredLine(r)
		if err != nil {
			return header, 0, err
		}
		offset += n
		header.Recipients = append(header.Recipients, Address{Local: first, Domain: second})
	}

	if len(header.Recipients) == 0 {
		return header, 0, errors.New("no recipients between sender block and <END>")
	}

	return header, offset, nil
}

func readRequiredLine(r *bufio.Reader) (string, int64, error) {
	line, err := readCRLFLine(r)
	if err != nil {
		return "", 0, err
	}
	return line, int64(len(line)) + 2, nil
}

// readCRLFLine reads one line up to and including CRLF, returning the
// line content without the terminator.
func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", fmt.Errorf("line not CRLF-terminated: %q", line)
	}
	return line[:len(line)-2], nil
}
