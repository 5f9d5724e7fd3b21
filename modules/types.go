package modules

import "net/http"

// Module is a self contained http handler mounted under a path prefix.
type Module interface {
	http.Handler
	Shutdown()
}
