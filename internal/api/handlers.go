package api

import (
	"errors"
	"math"
	"net/http"
	"pagesum/internal/domain"
	"pagesum/internal/ratelimiter"
	"pagesum/internal/summarizer"
	"pagesum/internal/wire"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const rateLimitedMessage = "Rate limit exceeded. Please try again later."

func (s *Server) handleParse(c *gin.Context) {
	var req wire.ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Missing or invalid url",
			Kind:  wire.KindInvalidURL,
		})

		return
	}

	article, err := s.extractor.Extract(c.Request.Context(), req.URL)
	if err != nil {
		s.writeError(c, err, "url", req.URL)
		return
	}

	c.JSON(http.StatusOK, wire.ParseResponse{Article: article})
}

func (s *Server) handleSummarise(c *gin.Context) {
	identity := s.clientIdentity(c)

	if !s.limiter.CheckLimit(identity) {
		retryAfter := s.limiter.RetryAfter(identity)
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, wire.ErrorResponse{
			Error: rateLimitedMessage,
			Kind:  wire.KindRateLimited,
		})

		return
	}

	var req wire.SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Invalid JSON payload",
			Kind:  wire.KindInvalidRequest,
		})

		return
	}

	if strings.TrimSpace(req.Input) == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Missing input",
			Kind:  wire.KindInvalidRequest,
		})

		return
	}

	mode := domain.DefaultMode
	if req.SummaryMode != "" {
		parsed, err := domain.ParseMode(req.SummaryMode)
		if err != nil {
			s.writeError(c, err, "summaryMode", req.SummaryMode)
			return
		}
		mode = parsed
	}

	if s.summarizer == nil {
		s.log.ErrorContext(c.Request.Context(), "Summarizer is not configured",
			"identity", identity)
		c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{
			Error: "Summarization service temporarily unavailable",
			Kind:  wire.KindUnavailable,
		})

		return
	}

	ctx := c.Request.Context()

	if err := s.summarizer.Moderate(ctx, req.Input); err != nil {
		s.writeError(c, err, "identity", identity, "summaryMode", mode)
		return
	}

	summary, err := s.summarizer.Summarize(ctx, summarizer.Input{
		Text:      req.Input,
		Mode:      mode,
		SourceURL: req.URL,
	})
	if err != nil {
		s.writeError(c, err, "identity", identity, "summaryMode", mode)
		return
	}

	c.JSON(http.StatusOK, wire.SummaryResponse{
		Response:          summary,
		SummaryMode:       string(mode),
		RemainingRequests: s.limiter.Remaining(identity),
	})
}

func (s *Server) handleRateLimit(c *gin.Context) {
	identity := s.clientIdentity(c)

	c.JSON(http.StatusOK, wire.RateLimitResponse{
		Remaining:     s.limiter.Remaining(identity),
		Limit:         s.limiter.MaxRequests(),
		WindowSeconds: int64(s.limiter.Window().Seconds()),
	})
}

// clientIdentity picks the address the rate limiter keys on. Callers without one share a single bucket.
func (s *Server) clientIdentity(c *gin.Context) string {
	if s.trustProxyHeaders {
		if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}

		if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	if ip := c.RemoteIP(); ip != "" {
		return ip
	}

	return ratelimiter.UnknownIdentity
}

func (s *Server) writeError(c *gin.Context, err error, fields ...any) {
	kind := wire.KindOf(err)
	status := statusFor(kind)

	resp := wire.ErrorResponse{
		Error: err.Error(),
		Kind:  kind,
	}

	var flagged *domain.ContentFlaggedError
	if errors.As(err, &flagged) {
		resp.Categories = flagged.Categories
	}

	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "Request failed",
			append([]any{"error", err, "kind", kind}, fields...)...)

		if kind == wire.KindInternal {
			resp.Error = "Internal error"
		}
	}

	c.JSON(status, resp)
}

func statusFor(kind wire.Kind) int {
	switch kind {
	case wire.KindInvalidURL, wire.KindInvalidRequest, wire.KindContentFlagged, wire.KindUnknownMode:
		return http.StatusBadRequest
	case wire.KindRateLimited:
		return http.StatusTooManyRequests
	case wire.KindExtractionFailed:
		return http.StatusUnprocessableEntity
	case wire.KindGenerationFailed:
		return http.StatusBadGateway
	case wire.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case wire.KindUnavailable:
		return http.StatusServiceUnavailable
	case wire.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
