package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrModelNotInitialized is returned when no usable model client is configured.
var ErrModelNotInitialized = errors.New("model client is not initialized")

// ErrorKind classifies failures surfaced by a model client.
type ErrorKind int

const (
	KindNetworkOrUnknown ErrorKind = iota
	KindModelNotInitialized
	KindInvalidCredential
	KindQuotaExceeded
	KindBillingIssue
	KindContentBlockedBySafety
)

func (k ErrorKind) String() string {
	switch k {
	case KindModelNotInitialized:
		return "model_not_initialized"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindBillingIssue:
		return "billing_issue"
	case KindContentBlockedBySafety:
		return "content_blocked_by_safety"
	default:
		return "network_or_unknown"
	}
}

// Classify maps err onto an ErrorKind. Matching is best effort: status codes
// first, then well-known substrings of the message.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNetworkOrUnknown
	}
	if errors.Is(err, ErrModelNotInitialized) {
		return KindModelNotInitialized
	}

	code := statusCode(err)
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "api_key_invalid"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "permission_denied"),
		code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		return KindInvalidCredential
	case strings.Contains(msg, "billing"):
		return KindBillingIssue
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "rate limit"),
		code == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case strings.Contains(msg, "safety"),
		strings.Contains(msg, "blocked"):
		return KindContentBlockedBySafety
	}
	return KindNetworkOrUnknown
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// UserMessage converts err into the text shown to the user in an errored
// assistant message.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindModelNotInitialized:
		return "The AI model is not initialized. Please check that an API key is configured and try again."
	case KindInvalidCredential:
		return "The API key is not valid. Please check your API key configuration."
	case KindQuotaExceeded:
		return "The API quota has been exceeded. Please wait a moment and try again."
	case KindBillingIssue:
		return "There is a billing issue with the AI service account. Please check the billing settings."
	case KindContentBlockedBySafety:
		return "The response was blocked by the safety filters. Please rephrase your request."
	}
	if err == nil {
		return "An unknown error occurred."
	}
	return fmt.Sprintf("Sorry, something went wrong: %s", err.Error())
}
