package httpapi

import "errors"

var (
	errMissingTenant = errors.New("missing tenant/user/permissions headers")
	errRateLimited   = errors.New("rate limit exceeded")
	errBadRequest    = errors.New("malformed request body")
)
