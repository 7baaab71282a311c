package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

// MIMEApplicationCBOR is accepted for request bodies and, via Accept, for
// responses.
const MIMEApplicationCBOR = "application/cbor"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 20

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeEngineError(c *echo.Context, err error) error {
	status, errType := statusFor(err)
	return writeError(c, status, errType, err.Error())
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeBody(c, status, ErrorResponse{Error: ResponseError{
		Message:   msg,
		Type:      errType,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}})
}

// writeBody encodes v as CBOR when the client asks for it and JSON otherwise.
func writeBody(c *echo.Context, status int, v any) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationCBOR) {
		b, err := cbor.Marshal(v)
		if err != nil {
			return err
		}
		return c.Blob(status, MIMEApplicationCBOR, b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}

// decodeBody reads a JSON or CBOR request body depending on Content-Type.
func decodeBody[T any](c *echo.Context) (T, error) {
	var out T
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return out, newInvalidRequest(fmt.Sprintf("read body: %v", err))
	}
	if len(body) == 0 {
		return out, newInvalidRequest("empty request body")
	}

	mt, _, _ := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	switch mt {
	case MIMEApplicationCBOR:
		if err := cbor.Unmarshal(body, &out); err != nil {
			return out, newInvalidRequest(fmt.Sprintf("cbor: %v", err))
		}
	case "", echo.MIMEApplicationJSON:
		if err := json.Unmarshal(body, &out); err != nil {
			return out, newInvalidRequest(fmt.Sprintf("json: %v", err))
		}
	default:
		return out, newInvalidRequest(fmt.Sprintf("unsupported content type %q", mt))
	}
	return out, nil
}

// requestID echoes X-Request-Id or assigns a fresh one.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

func newJobID() string {
	return "job_" + uuid.NewString()
}
