package discovery

import "errors"

var (
	errNoLocalNetworks = errors.New("no usable local networks found")
	errNotIPv4Network  = errors.New("not an IPv4 network")
)
