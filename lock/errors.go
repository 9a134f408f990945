package lock

import "errors"

// ErrContention indicates the resource is held by a request with an equal or lower timestamp.
var ErrContention = errors.New("lock: resource held by an earlier request")
