package bake

import "time"

// Version is the current module version, written into the config tree's
// "version" key by config.Default and on every config.Load.
const Version = "0.1.0"

// ShutdownGracePeriod bounds how long a provider daemon waits, on
// shutdown, for the HTTP server to drain in-flight requests and for
// Deregister to finish.
const ShutdownGracePeriod = 10 * time.Second
