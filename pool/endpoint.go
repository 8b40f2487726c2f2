// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "fmt"

// SSLMode describes how a Connection to an Endpoint negotiates transport
// security. It is fixed for the lifetime of an EndpointPool by the first
// call that resolves the pool for that Endpoint.
type SSLMode int

const (
	// SSLDisabled means connections are made in the clear.
	SSLDisabled SSLMode = iota
	// SSLRequired means connections must negotiate TLS.
	SSLRequired
)

func (m SSLMode) String() string {
	switch m {
	case SSLDisabled:
		return "disabled"
	case SSLRequired:
		return "required"
	default:
		return fmt.Sprintf("SSLMode(%d)", int(m))
	}
}

// Endpoint identifies one remote server by host and port. It is immutable
// and comparable, and is used as the map key for the ConnectionPool's
// EndpointPools.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
