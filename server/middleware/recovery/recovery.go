package recovery

import (
	"fmt"
	"net/http"

	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/pkg/x/runtime"
	"github.com/sluiceproxy/sluice/server/middleware"
)

func init() {
	middleware.Register("recovery", Middleware)
}

type middlewareOption struct{}

func Middleware(c *middleware.Config) (middleware.Middleware, func(), error) {
	var opts middlewareOption
	if err := c.Unmarshal(&opts); err != nil {
		return nil, nil, err
	}

	return func(origin http.RoundTripper) http.RoundTripper {
		return middleware.RoundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					// Here you can log the panic or handle it as needed
					log.Context(req.Context()).Errorf("middleware recovery: %s \n%s", r, runtime.PrintStackTrace(4))
					err = fmt.Errorf("middleware recovery: %v", r)
				}
			}()

			return origin.RoundTrip(req)
		})
	}, middleware.EmptyCleanup, nil
}
