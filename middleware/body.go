package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 << 20 // 10MB

// BodyParser returns the stage that reads the request body and binds it
// according to the configured mode:
//
//   - json: decode into the request body slot; top-level object fields
//     are also merged into the parameter mapping
//   - raw: bind the bytes unchanged
//   - text: bind the bytes as a string
//
// Decode failures end the request with 400, read failures with 500, and
// bodies over the size limit with 413. Empty bodies pass through.
func BodyParser(cfg config.BodyParserConfig, logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	mode := cfg.Mode
	if mode != config.BodyModeJSON && mode != config.BodyModeRaw && mode != config.BodyModeText {
		return func(c *relay.Context) { c.Next() }
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(c *relay.Context) {
		if c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			rejectBody(c, logger, maxBytes)
			return
		}

		reader := http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		data, err := io.ReadAll(reader)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				rejectBody(c, logger, maxBytes)
				return
			}
			GetStageMetrics().bodyRejected.Inc()
			logger.Error("request body read failed",
				observability.String("path", c.Request.URL.Path),
				observability.Error(relay.NewBodyError("read", err)),
			)
			c.Error(http.StatusInternalServerError, "internal server error")
			return
		}
		if len(data) == 0 {
			c.Next()
			return
		}

		switch mode {
		case config.BodyModeJSON:
			var decoded any
			if err := json.Unmarshal(data, &decoded); err != nil {
				GetStageMetrics().bodyRejected.Inc()
				logger.Warn("request body decode failed",
					observability.String("path", c.Request.URL.Path),
					observability.Error(relay.NewBodyError("decode", err)),
				)
				c.Error(http.StatusBadRequest, relay.ErrMalformedBody.Error())
				return
			}
			c.SetBody(decoded)
			if fields, ok := decoded.(map[string]any); ok {
				for name, value := range fields {
					c.SetParam(name, value)
				}
			}
		case config.BodyModeRaw:
			c.SetBody(data)
		case config.BodyModeText:
			c.SetBody(string(data))
		}
		c.Next()
	}
}

func rejectBody(c *relay.Context, logger observability.Logger, maxBytes int64) {
	GetStageMetrics().bodyRejected.Inc()
	logger.Warn("request body too large",
		observability.String("path", c.Request.URL.Path),
		observability.Int64("content_length", c.Request.ContentLength),
		observability.Int64("max_bytes", maxBytes),
	)
	c.Error(http.StatusRequestEntityTooLarge, "request body too large")
}
