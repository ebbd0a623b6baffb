package hcloudapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
)

func apiErr(code hcloud.ErrorCode) error {
	return hcloud.Error{Code: code, Message: string(code)}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFound(apiErr(hcloud.ErrorCodeNotFound)))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", apiErr(hcloud.ErrorCodeNotFound))))
	assert.False(t, IsNotFound(apiErr(hcloud.ErrorCodeRateLimitExceeded)))
	assert.False(t, IsNotFound(nil))
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	permanent := []hcloud.ErrorCode{
		hcloud.ErrorCodeUniquenessError,
		hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeResourceLimitExceeded,
		hcloud.ErrorCodeForbidden,
		hcloud.ErrorCodeUnauthorized,
		hcloud.ErrorCodeProtected,
	}
	for _, code := range permanent {
		assert.True(t, IsPermanent(apiErr(code)), "code %s", code)
		assert.False(t, IsTransient(apiErr(code)), "code %s", code)
	}

	assert.True(t, IsPermanent(&DuplicateLoadBalancerError{Count: 2}))
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("connection reset")))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	transient := []hcloud.ErrorCode{
		hcloud.ErrorCodeRateLimitExceeded,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
		hcloud.ErrorCodeServiceError,
	}
	for _, code := range transient {
		assert.True(t, IsTransient(apiErr(code)), "code %s", code)
	}

	// Transport-level failures carry no API code and default to
	// transient.
	assert.True(t, IsTransient(errors.New("connection reset")))

	assert.False(t, IsTransient(apiErr(hcloud.ErrorCodeNotFound)))
	assert.False(t, IsTransient(nil))
}

func TestDuplicateLoadBalancerError_Message(t *testing.T) {
	t.Parallel()

	err := &DuplicateLoadBalancerError{
		Selector: map[string]string{"robotlb/service": "web"},
		Count:    2,
	}
	assert.Contains(t, err.Error(), "2 load balancers")
	assert.Contains(t, err.Error(), "robotlb/service")
}

func TestLabelSelectorString(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"robotlb/namespace=default,robotlb/service=web",
		labelSelectorString(map[string]string{
			"robotlb/service":   "web",
			"robotlb/namespace": "default",
		}),
	)
	assert.Equal(t, "", labelSelectorString(nil))
}
