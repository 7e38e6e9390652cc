// Package classify normalizes arbitrary failures into typed, actionable
// error descriptions.
//
// # Purpose
//
// Operations wrapped by the recovery core fail with anything: wrapped
// stdlib errors, gRPC status errors, HTTP status codes stuffed into
// messages, or plain strings from an upstream AI provider. The classifier
// maps each of those onto one of nine closed error types, each carrying a
// severity, a recommended recovery strategy, and retry parameters, so the
// rest of the system never has to inspect raw errors again.
//
// # Matching
//
// Predicates run in a fixed order and the first match wins:
//
//	network → authentication → rate limit → timeout → storage →
//	processing → quota → validation → unknown
//
// Classification never fails: a nil or unrecognized error degrades to the
// unknown type rather than returning an error about an error.
package classify

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/probe"
	"github.com/vietddude/rescue/internal/metrics"
)

// policy holds the fixed retry parameters for one error type.
type policy struct {
	strategy    domain.RecoveryStrategy
	severity    domain.Severity
	recoverable bool
	retryable   bool
	maxRetries  int
	retryDelay  time.Duration
	ticket      bool
}

// policies is the closed per-type policy table.
var policies = map[domain.ErrorType]policy{
	domain.ErrorTypeNetwork: {
		strategy:    domain.StrategyAutoRetry,
		severity:    domain.SeverityMedium,
		recoverable: true,
		retryable:   true,
		maxRetries:  3,
		retryDelay:  2 * time.Second,
	},
	domain.ErrorTypeRateLimit: {
		strategy:    domain.StrategyAutoRetry,
		severity:    domain.SeverityMedium,
		recoverable: true,
		retryable:   true,
		maxRetries:  5,
		retryDelay:  30 * time.Second,
	},
	domain.ErrorTypeAuthentication: {
		strategy:    domain.StrategyManualIntervention,
		severity:    domain.SeverityHigh,
		recoverable: true,
		retryable:   false,
		maxRetries:  0,
		retryDelay:  0,
	},
	domain.ErrorTypeTimeout: {
		strategy:    domain.StrategyAutoRetry,
		severity:    domain.SeverityMedium,
		recoverable: true,
		retryable:   true,
		maxRetries:  3,
		retryDelay:  5 * time.Second,
	},
	domain.ErrorTypeStorage: {
		strategy:    domain.StrategyFallbackMethod,
		severity:    domain.SeverityHigh,
		recoverable: true,
		retryable:   true,
		maxRetries:  2,
		retryDelay:  3 * time.Second,
	},
	domain.ErrorTypeProcessing: {
		strategy:    domain.StrategyCheckpointRestore,
		severity:    domain.SeverityHigh,
		recoverable: true,
		retryable:   true,
		maxRetries:  2,
		retryDelay:  5 * time.Second,
	},
	domain.ErrorTypeQuotaExceeded: {
		strategy:    domain.StrategyGracefulDegradation,
		severity:    domain.SeverityHigh,
		recoverable: false,
		retryable:   false,
		maxRetries:  0,
		retryDelay:  0,
		ticket:      true,
	},
	domain.ErrorTypeValidation: {
		strategy:    domain.StrategyManualIntervention,
		severity:    domain.SeverityMedium,
		recoverable: true,
		retryable:   false,
		maxRetries:  0,
		retryDelay:  0,
	},
	domain.ErrorTypeUnknown: {
		strategy:    domain.StrategyUserRetry,
		severity:    domain.SeverityMedium,
		recoverable: true,
		retryable:   true,
		maxRetries:  1,
		retryDelay:  5 * time.Second,
		ticket:      true,
	},
}

// userText holds the fixed user-facing copy for one error type.
type userText struct {
	message string
	steps   []string
}

var userTexts = map[domain.ErrorType]userText{
	domain.ErrorTypeNetwork: {
		message: "A network problem interrupted the operation. It will be retried automatically.",
		steps: []string{
			"Check your internet connection",
			"Wait a moment for the automatic retry",
		},
	},
	domain.ErrorTypeRateLimit: {
		message: "The service is receiving too many requests right now. Your work will resume shortly.",
		steps: []string{
			"Wait for the rate limit window to pass",
			"Avoid submitting the same request repeatedly",
		},
	},
	domain.ErrorTypeAuthentication: {
		message: "Your session is no longer authorized for this operation.",
		steps: []string{
			"Sign in again",
			"Verify your account has access to this feature",
		},
	},
	domain.ErrorTypeTimeout: {
		message: "The operation took too long to complete. It will be retried automatically.",
		steps: []string{
			"Wait for the automatic retry",
			"Try again with a smaller input if the problem persists",
		},
	},
	domain.ErrorTypeStorage: {
		message: "A storage problem prevented saving or loading your data.",
		steps: []string{
			"Retry the operation",
			"Verify the file still exists and is accessible",
		},
	},
	domain.ErrorTypeProcessing: {
		message: "Processing failed partway through. Completed work has been saved and will be resumed.",
		steps: []string{
			"Wait for processing to resume from the last saved step",
			"Contact support if the same step keeps failing",
		},
	},
	domain.ErrorTypeQuotaExceeded: {
		message: "You have reached the usage limit for your current plan.",
		steps: []string{
			"Upgrade your plan to continue",
			"Wait for your quota to reset",
		},
	},
	domain.ErrorTypeValidation: {
		message: "The submitted data is incomplete or invalid.",
		steps: []string{
			"Review the highlighted fields",
			"Fill in all required information and resubmit",
		},
	},
	domain.ErrorTypeUnknown: {
		message: "Something unexpected went wrong. You can retry, and the issue has been recorded.",
		steps: []string{
			"Retry the operation",
			"Contact support with the error id if it keeps happening",
		},
	},
}

// Classifier maps raw errors to classified errors. Stateless apart from the
// injected environment probe; safe for concurrent use.
type Classifier struct {
	probe probe.EnvironmentProbe
}

// New creates a classifier backed by the given environment probe.
func New(p probe.EnvironmentProbe) *Classifier {
	return &Classifier{probe: p}
}

// Classify builds a ClassifiedError for one failure occurrence. It never
// returns nil and never panics; a nil error yields an unknown
// classification. The partial context is completed with a timestamp and a
// network snapshot when the caller left them zero.
func (c *Classifier) Classify(err error, pctx domain.ErrorContext) *domain.ClassifiedError {
	network := c.probe.Network(context.Background())

	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = c.probe.Now()
	}
	if pctx.Network == (domain.NetworkStatus{}) {
		pctx.Network = network
	}

	message := ""
	if err != nil {
		message = err.Error()
	}
	lower := strings.ToLower(message)
	code := extractCode(err, message)
	grpcCode, hasGRPC := grpcCodeOf(err)

	errType := match(err, lower, code, grpcCode, hasGRPC, network.Online)

	pol := policies[errType]
	text := userTexts[errType]

	telemetry := map[string]any{
		"raw_error": message,
		"online":    network.Online,
	}
	if ua := c.probe.System(context.Background()).UserAgent; ua != "" {
		telemetry["user_agent"] = ua
	}
	if code != 0 {
		telemetry["code"] = code
	}
	if hasGRPC {
		telemetry["grpc_code"] = grpcCode.String()
	}

	retryDelay := pol.retryDelay
	// Server-provided retry hints only ever raise the delay.
	if hint, ok := retryHint(err); ok && hint > retryDelay {
		retryDelay = hint
		telemetry["retry_hint"] = hint.String()
	}

	metrics.ErrorsClassified.WithLabelValues(string(errType)).Inc()

	return &domain.ClassifiedError{
		ID:                    uuid.New().String(),
		Type:                  errType,
		Severity:              pol.severity,
		Message:               message,
		UserMessage:           text.message,
		Strategy:              pol.strategy,
		Context:               pctx,
		Recoverable:           pol.recoverable,
		Retryable:             pol.retryable,
		MaxRetries:            pol.maxRetries,
		RetryDelay:            retryDelay,
		ActionableSteps:       text.steps,
		SupportTicketRequired: pol.ticket,
		Telemetry:             telemetry,
	}
}

// match runs the ordered predicates. First match wins.
func match(
	err error,
	lower string,
	code int,
	grpcCode codes.Code,
	hasGRPC bool,
	online bool,
) domain.ErrorType {
	if err == nil {
		return domain.ErrorTypeUnknown
	}

	// 1. Network
	if !online ||
		containsAny(lower, "network", "fetch", "connection", "offline") ||
		(hasGRPC && grpcCode == codes.Unavailable) ||
		isNetError(err) {
		return domain.ErrorTypeNetwork
	}

	// 2. Authentication
	if code == 401 || code == 403 ||
		containsAny(lower, "unauthorized", "permission denied", "forbidden") ||
		(hasGRPC && (grpcCode == codes.Unauthenticated || grpcCode == codes.PermissionDenied)) {
		return domain.ErrorTypeAuthentication
	}

	// 3. Rate limit
	if code == 429 ||
		containsAny(lower, "rate limit", "too many requests", "resource exhausted") ||
		(hasGRPC && grpcCode == codes.ResourceExhausted) {
		return domain.ErrorTypeRateLimit
	}

	// 4. Timeout
	if errors.Is(err, context.DeadlineExceeded) ||
		containsAny(lower, "timeout", "timed out", "deadline exceeded") ||
		(hasGRPC && grpcCode == codes.DeadlineExceeded) {
		return domain.ErrorTypeTimeout
	}

	// 5. Storage
	if errors.Is(err, sql.ErrNoRows) ||
		containsAny(lower, "storage", "bucket", "file not found", "no such file") ||
		(hasGRPC && grpcCode == codes.NotFound) {
		return domain.ErrorTypeStorage
	}

	// 6. Processing
	if containsAny(lower, "processing", "parse", "transform", "generation",
		"openai", "anthropic", "gemini") ||
		(hasGRPC && (grpcCode == codes.Internal || grpcCode == codes.DataLoss)) {
		return domain.ErrorTypeProcessing
	}

	// 7. Quota
	if code == 402 ||
		containsAny(lower, "quota exceeded", "billing", "payment required", "plan limit") {
		return domain.ErrorTypeQuotaExceeded
	}

	// 8. Validation
	if containsAny(lower, "validation", "invalid", "missing required", "malformed") ||
		(hasGRPC && (grpcCode == codes.InvalidArgument || grpcCode == codes.FailedPrecondition)) {
		return domain.ErrorTypeValidation
	}

	return domain.ErrorTypeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isNetError reports whether err is a transport-level failure from the net
// package or a connection-flavored syscall error. Timeouts are excluded so
// the timeout predicate classifies them.
func isNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// statusCoder is the conventional interface for errors carrying an HTTP
// status code.
type statusCoder interface {
	StatusCode() int
}

// httpStatuser is an alternative spelling some clients use.
type httpStatuser interface {
	HTTPStatus() int
}

// coder is a last-resort spelling. Values outside the codes the predicates
// match on are harmless; they only show up in telemetry.
type coder interface {
	Code() int
}

// knownCodes are the numeric codes the predicates care about. Message
// scanning is limited to these so that arbitrary numbers in error text
// (byte counts, block numbers) don't get misread as status codes.
var knownCodes = []int{401, 402, 403, 429}

// extractCode pulls a numeric status code out of an error, trying typed
// extraction first and falling back to scanning the message for the codes
// the classifier matches on.
func extractCode(err error, message string) int {
	if err == nil {
		return 0
	}

	var se *domain.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	var hs httpStatuser
	if errors.As(err, &hs) {
		return hs.HTTPStatus()
	}
	var co coder
	if errors.As(err, &co) {
		return co.Code()
	}

	for _, code := range knownCodes {
		if containsCodeToken(message, code) {
			return code
		}
	}
	return 0
}

// containsCodeToken reports whether message contains the code as a
// standalone token, i.e. not embedded in a longer number.
func containsCodeToken(message string, code int) bool {
	token := []byte{byte('0' + code/100), byte('0' + code/10%10), byte('0' + code%10)}
	for i := 0; i+3 <= len(message); i++ {
		if message[i] != token[0] || message[i+1] != token[1] || message[i+2] != token[2] {
			continue
		}
		if i > 0 && isDigit(message[i-1]) {
			continue
		}
		if i+3 < len(message) && isDigit(message[i+3]) {
			continue
		}
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// grpcStatuser is implemented by errors produced with status.Error.
type grpcStatuser interface {
	GRPCStatus() *status.Status
}

// grpcStatusOf unwraps err to a gRPC status. status.FromError treats plain
// errors as codes.Unknown, which would shadow the message predicates, so
// only genuine status errors count.
func grpcStatusOf(err error) (*status.Status, bool) {
	if err == nil {
		return nil, false
	}
	var gs grpcStatuser
	if !errors.As(err, &gs) {
		return nil, false
	}
	st := gs.GRPCStatus()
	if st == nil {
		return nil, false
	}
	return st, true
}

// grpcCodeOf extracts the gRPC status code when err originated from a gRPC
// call.
func grpcCodeOf(err error) (codes.Code, bool) {
	st, ok := grpcStatusOf(err)
	if !ok {
		return codes.OK, false
	}
	return st.Code(), true
}

// retryHint extracts a server-provided RetryInfo delay from gRPC status
// details, if any.
func retryHint(err error) (time.Duration, bool) {
	st, ok := grpcStatusOf(err)
	if !ok {
		return 0, false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}
