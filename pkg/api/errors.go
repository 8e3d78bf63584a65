package api

import "errors"

var (
	errInvalidRequestBody = errors.New("invalid request body")
)
