package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

const maxReportedBody = 300

// OpenAPIValidator checks API traffic against the OpenAPI document.
type OpenAPIValidator struct {
	router routers.Router
}

// LoadOpenAPIValidator loads and validates the document at specPath.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec from %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{router: router}, nil
}

// Check validates an exchange: the request as sent (reqBody may be nil) and
// the response received for it. resp.Body is restored for the caller.
func (v *OpenAPIValidator) Check(req *http.Request, reqBody []byte, resp *http.Response) error {
	// The document's server is "/", so match on the path alone.
	routeReq, err := http.NewRequest(req.Method, req.URL.RequestURI(), nil)
	if err != nil {
		return fmt.Errorf("build route request: %w", err)
	}
	route, pathParams, err := v.router.FindRoute(routeReq)
	if err != nil {
		return fmt.Errorf("%s %s is not documented: %w", req.Method, req.URL.Path, err)
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	ctx := context.Background()
	input := &openapi3filter.RequestValidationInput{
		Request:    withBody(req, reqBody),
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	var errs []error
	if err := openapi3filter.ValidateRequest(ctx, input); err != nil {
		errs = append(errs, fmt.Errorf("request %s %s does not match the contract: %s",
			req.Method, req.URL.Path, truncate(err.Error())))
	}

	input.Request = withBody(req, reqBody)
	output := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(respBody)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}
	if err := openapi3filter.ValidateResponse(ctx, output); err != nil {
		errs = append(errs, fmt.Errorf("response %d to %s %s does not match the contract: %s (body: %s)",
			resp.StatusCode, req.Method, req.URL.Path, truncate(err.Error()), truncate(string(respBody))))
	}
	return errors.Join(errs...)
}

func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(context.Background())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return clone
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxReportedBody {
		return s[:maxReportedBody] + "..."
	}
	return s
}
