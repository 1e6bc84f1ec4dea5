package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
)

func newHttpClient(settings *ConnectionSettings) *http.Client {
	dialer := &net.Dialer{
		Timeout: settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: settings.HttpTlsTimeout,
		// the local api uses a self-signed certificate
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   settings.HttpTimeout,
	}
}

type RequestOptions struct {
	// json encoded unless it is already `[]byte` or `json.RawMessage`
	Body   any
	Query  url.Values
	Header http.Header
	// return non-2xx responses instead of an `*HttpError`
	AllowErrorStatus bool
}

type Response struct {
	Method     string
	Path       string
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (self *Response) Json(result any) error {
	if len(bytes.TrimSpace(self.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(self.Body, result)
}

// Requester issues requests on the http side channel
type Requester interface {
	Request(ctx context.Context, method string, path string, options *RequestOptions) (*Response, error)
}

// Request issues an http request with the credentials of the current descriptor.
func (self *ConnectionManager) Request(ctx context.Context, method string, path string, options *RequestOptions) (*Response, error) {
	descriptor := self.Descriptor()
	if descriptor == nil {
		return nil, errNoDescriptor
	}
	if options == nil {
		options = &RequestOptions{}
	}

	requestUrl := fmt.Sprintf("%s://%s:%d%s", descriptor.Scheme, self.settings.Host, descriptor.Port, path)
	if 0 < len(options.Query) {
		requestUrl = requestUrl + "?" + options.Query.Encode()
	}

	var body io.Reader
	switch v := options.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	case json.RawMessage:
		body = bytes.NewReader(v)
	default:
		requestBodyBytes, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(requestBodyBytes)
	}

	method = strings.ToUpper(method)
	req, err := http.NewRequestWithContext(ctx, method, requestUrl, body)
	if err != nil {
		return nil, err
	}
	for key, values := range options.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(self.settings.Username, descriptor.Password)

	r, err := self.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("[h]%s %s = %d\n", method, path, r.StatusCode)

	response := &Response{
		Method:     method,
		Path:       path,
		Proto:      r.Proto,
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Header,
		Body:       responseBodyBytes,
	}
	if !options.AllowErrorStatus && (r.StatusCode < 200 || 300 <= r.StatusCode) {
		return response, &HttpError{
			Method:     method,
			Path:       path,
			StatusCode: r.StatusCode,
			Body:       bytes.TrimSpace(responseBodyBytes),
		}
	}
	return response, nil
}

// RequestJson issues a request and decodes the json response body into `R`.
func RequestJson[R any](ctx context.Context, requester Requester, method string, path string, body any) (R, error) {
	var result R
	response, err := requester.Request(ctx, method, path, &RequestOptions{
		Body: body,
	})
	if err != nil {
		return result, err
	}
	if err := response.Json(&result); err != nil {
		return result, err
	}
	return result, nil
}
