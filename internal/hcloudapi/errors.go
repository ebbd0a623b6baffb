package hcloudapi

import (
	"errors"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// DuplicateLoadBalancerError reports that more than one load balancer
// carries the correlation labels of a single Service. The reconciler
// refuses to pick one; an operator has to resolve the ambiguity.
type DuplicateLoadBalancerError struct {
	Selector map[string]string
	Count    int
}

func (e *DuplicateLoadBalancerError) Error() string {
	return fmt.Sprintf("%d load balancers match labels %v, expected at most one", e.Count, e.Selector)
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeNotFound)
}

// isResourceLocked checks if an error indicates a resource is locked by
// a running action. These errors resolve on their own and are retryable
// within the same pass.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// IsPermanent reports whether the error cannot be fixed by retrying the
// same request: the request itself is wrong, rejected, or over quota.
// Duplicate correlation labels count as permanent too.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var dup *DuplicateLoadBalancerError
	if errors.As(err, &dup) {
		return true
	}
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeUniquenessError,
		hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeResourceLimitExceeded,
		hcloud.ErrorCodeForbidden,
		hcloud.ErrorCodeUnauthorized,
		hcloud.ErrorCodeProtected,
	)
}

// IsTransient reports whether the error is worth a backoff retry. Any
// failure that is neither a not-found nor permanent is treated as
// transient; that covers rate limits, locks, server-side errors, and
// plain transport failures alike.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsNotFound(err) && !IsPermanent(err)
}
