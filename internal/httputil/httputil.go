package httputil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/clientapi/jsonerror"
)

// JSONResponse represents an HTTP response which contains a JSON body.
type JSONResponse struct {
	// HTTP status code.
	Code int
	// JSON represents the JSON that should be serialised and sent to the client
	JSON interface{}
	// Headers represent any headers that should be sent to the client
	Headers map[string]string
}

// MessageResponse returns a JSONResponse with a 'message' field containing
// the given text.
func MessageResponse(code int, msg string) JSONResponse {
	return JSONResponse{
		Code: code,
		JSON: struct {
			Message string `json:"message"`
		}{msg},
	}
}

// ErrorResponse returns an HTTP 500 JSONResponse with the stringified form of
// the given error.
func ErrorResponse(err error) JSONResponse {
	return MessageResponse(http.StatusInternalServerError, err.Error())
}

// UnmarshalJSONRequest into the given interface pointer. Returns an error
// JSONResponse if the request body couldn't be decoded.
func UnmarshalJSONRequest(req *http.Request, iface interface{}) *JSONResponse {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		logrus.WithError(err).Error("failed to read request body")
		return &JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.BadJSON("The request body could not be read: " + err.Error()),
		}
	}
	return UnmarshalJSON(body, iface)
}

// UnmarshalJSON into the given interface pointer, mapping failures onto the
// appropriate client error shape.
func UnmarshalJSON(body []byte, iface interface{}) *JSONResponse {
	if err := json.Unmarshal(body, iface); err != nil {
		// custom error so the client knows the body wasn't valid JSON at all,
		// as opposed to not matching the expected shape
		if _, ok := err.(*json.SyntaxError); ok {
			return &JSONResponse{
				Code: http.StatusBadRequest,
				JSON: jsonerror.NotJSON("The request body could not be decoded into valid JSON: " + err.Error()),
			}
		}
		return &JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.BadJSON(err.Error()),
		}
	}
	return nil
}

// URLDecodeMapValues is a function that iterates through each of the items in a
// map, URL decodes the value, and returns a new map with the decoded values.
func URLDecodeMapValues(vmap map[string]string) (map[string]string, error) {
	decoded := make(map[string]string, len(vmap))
	for key, value := range vmap {
		decodedVal, err := url.PathUnescape(value)
		if err != nil {
			return make(map[string]string), err
		}
		decoded[key] = decodedVal
	}
	return decoded, nil
}

type requestIDKey struct{}

var requestsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "halcyon",
		Subsystem: "clientapi",
		Name:      "requests_total",
		Help:      "The number of requests handled, by handler and status code.",
	},
	[]string{"handler", "code"},
)

var requestDurations = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "halcyon",
		Subsystem: "clientapi",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling requests, by handler.",
	},
	[]string{"handler"},
)

// MakeExternalAPI turns a function that returns a JSONResponse into an
// http.Handler, adding a request log entry, prometheus instrumentation and
// sentry capture of panics.
func MakeExternalAPI(metricsName string, f func(*http.Request) JSONResponse) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(req.Context(), requestIDKey{}, reqID)
		req = req.WithContext(ctx)
		logger := logrus.WithFields(logrus.Fields{
			"req.method": req.Method,
			"req.path":   req.URL.Path,
			"req.id":     reqID,
		})

		var res JSONResponse
		timer := prometheus.NewTimer(requestDurations.WithLabelValues(metricsName))
		func() {
			defer func() {
				if r := recover(); r != nil {
					sentry.CurrentHub().Recover(r)
					logger.WithField("panic", r).Error("request panicked")
					res = JSONResponse{
						Code: http.StatusInternalServerError,
						JSON: jsonerror.InternalServerError{},
					}
				}
			}()
			res = f(req)
		}()
		timer.ObserveDuration()
		requestsCounter.WithLabelValues(metricsName, statusText(res.Code)).Inc()

		if res.Code >= 400 {
			logger.WithField("code", res.Code).Info("request failed")
		}
		respond(w, res)
	})
}

func statusText(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func respond(w http.ResponseWriter, res JSONResponse) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(res.JSON)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal JSONResponse")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errcode":"M_UNKNOWN","error":"Internal Server Error"}`)) // nolint: errcheck
		return
	}
	w.WriteHeader(res.Code)
	w.Write(body) // nolint: errcheck
}
