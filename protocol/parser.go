//Package protocol implements the incremental HTTP/1.x request-head parser and
//the response builders of the server loop. The parser is re-invoked on the
//whole accumulated byte prefix of a connection until it yields a complete
//head or an error.
package protocol

import "bytes"

var crlfcrlf = []byte("\r\n\r\n")

//FindHeadEnd locate the first \r\n\r\n in buf and return the offset just past
//it, or -1 when the head is still incomplete.
func FindHeadEnd(buf []byte) int {
	idx := bytes.Index(buf, crlfcrlf)
	if idx == -1 {
		return -1
	}
	return idx + len(crlfcrlf)
}

//Parse recognize a request head at the start of buf. Returns ErrIncomplete
//while no terminating empty line is present. On success the returned Request
//borrows its slices from buf.
func Parse(buf []byte) (*Request, error) {
	headEnd := FindHeadEnd(buf)
	if headEnd == -1 {
		return nil, ErrIncomplete
	}

	req := &Request{HeadEnd: headEnd}

	head := buf[:headEnd]
	var line []byte
	lineNo := 0
	for len(head) > 0 {
		nl := bytes.IndexByte(head, '\n')
		if nl == -1 {
			line = head
			head = nil
		} else {
			line = head[:nl]
			head = head[nl+1:]
		}
		line = bytes.TrimRight(line, "\r")

		if lineNo == 0 {
			if err := parseRequestLine(line, req); err != nil {
				return nil, err
			}
			lineNo++
			continue
		}

		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return nil, ErrInvalidRequest
		}

		if req.headerCount >= MaxHeaders {
			return nil, ErrTooManyHeaders
		}

		value := line[colon+1:]
		for len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		req.headers[req.headerCount] = Header{Name: line[:colon], Value: value}
		req.headerCount++
		lineNo++
	}

	// The loop answers before any body arrives; trailing bytes after the head
	// are deliberately left out of the parsed result.
	req.Body = buf[headEnd:headEnd]

	return req, nil
}

func parseRequestLine(line []byte, req *Request) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return ErrInvalidRequest
	}
	rest := line[sp1+1:]

	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 == -1 {
		return ErrInvalidRequest
	}

	methodTok := line[:sp1]
	uriTok := rest[:sp2]
	versionTok := rest[sp2+1:]

	if len(versionTok) == 0 || bytes.IndexByte(versionTok, ' ') != -1 {
		return ErrInvalidRequest
	}

	method, ok := parseMethod(methodTok)
	if !ok {
		return ErrInvalidRequest
	}

	if len(uriTok) > MaxURILen {
		return ErrURITooLong
	}

	req.Method = method
	req.URI = uriTok

	// Unknown version tokens downgrade to HTTP/1.0 instead of being rejected.
	if string(versionTok) == "HTTP/1.1" {
		req.Version = HTTP11
	} else {
		req.Version = HTTP10
	}

	return nil
}
