package protocol

import (
	"encoding/json"
	"strconv"
)

//BadRequestResponse full wire form of the 400 answer.
var BadRequestResponse = []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")

type echoHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type echoBody struct {
	Method     string       `json:"method"`
	URI        string       `json:"uri"`
	Version    string       `json:"version"`
	Headers    []echoHeader `json:"headers"`
	RawRequest string       `json:"raw_request"`
}

//AppendEchoResponse append a 200 response whose JSON body echoes the parsed
//request head and the raw request bytes. dst is typically an empty window of
//a pool buffer.
func AppendEchoResponse(dst []byte, req *Request, raw []byte) ([]byte, error) {
	body := echoBody{
		Method:     req.Method.String(),
		URI:        string(req.URI),
		Version:    req.Version.String(),
		Headers:    make([]echoHeader, 0, len(req.Headers())),
		RawRequest: string(raw),
	}
	for _, h := range req.Headers() {
		body.Headers = append(body.Headers, echoHeader{Name: string(h.Name), Value: string(h.Value)})
	}

	payload, err := json.Marshal(&body)
	if err != nil {
		return dst, err
	}

	dst = append(dst, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, "\r\nConnection: close\r\n\r\n"...)
	dst = append(dst, payload...)

	return dst, nil
}
