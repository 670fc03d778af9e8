package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"not initialized", fmt.Errorf("create: %w", ErrModelNotInitialized), KindModelNotInitialized},
		{"bad key text", errors.New("API key not valid. Please pass a valid API key."), KindInvalidCredential},
		{"genai 403", genai.APIError{Code: http.StatusForbidden, Message: "denied"}, KindInvalidCredential},
		{"quota", errors.New("Error 429, Message: Resource has been exhausted (e.g. check quota)."), KindQuotaExceeded},
		{"status 429", &StatusError{Code: http.StatusTooManyRequests, Status: "429 Too Many Requests"}, KindQuotaExceeded},
		{"billing", errors.New("billing account not enabled"), KindBillingIssue},
		{"safety", errors.New("response blocked: SAFETY"), KindContentBlockedBySafety},
		{"network", errors.New("dial tcp: connection refused"), KindNetworkOrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	msg := UserMessage(errors.New("API key not valid"))
	assert.Contains(t, msg, "API key")
	assert.NotContains(t, msg, "something went wrong")

	raw := UserMessage(errors.New("dial tcp: connection refused"))
	assert.Contains(t, raw, "connection refused")
}
