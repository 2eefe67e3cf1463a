package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/certen/bundler-gateway/pkg/interservice"
)

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func verifyInterservice(secretHex string, r *http.Request, body []byte) error {
	return interservice.Verify(secretHex, r.Method, r.URL.Path, r.Header, body)
}
