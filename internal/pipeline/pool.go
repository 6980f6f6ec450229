package pipeline

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kiln-framework/kiln/internal/config"
)

// contextPool recycles *Context between requests behind a single
// *sync.Pool. Context already folds Request/Response into one value,
// so one pool is enough rather than one per sub-object.
var contextPool = sync.Pool{
	New: func() interface{} { return &Context{} },
}

// acquireContext gets a Context from the pool and resets it for r/w.
func acquireContext(r *http.Request, w http.ResponseWriter, env string, opts *config.Options) *Context {
	c := contextPool.Get().(*Context)

	c.Request = r
	c.Response = newResponse(w)
	c.Pathname = r.URL.Path
	c.Method = r.Method
	c.Env = env
	c.RequestID = uuid.NewString()
	c.Options = opts

	if c.Params == nil {
		c.Params = make(map[string]string)
	} else {
		for k := range c.Params {
			delete(c.Params, k)
		}
	}
	if c.storage == nil {
		c.storage = make(map[string]interface{})
	} else {
		for k := range c.storage {
			delete(c.storage, k)
		}
	}

	c.query = nil
	c.queryOnce = sync.Once{}
	c.body = nil
	c.bodyErr = nil
	c.bodyOnce = sync.Once{}

	return c
}

// releaseContext returns a Context to the pool. Callers must not retain
// any reference to c (or its Request/Response) past this call.
func releaseContext(c *Context) {
	contextPool.Put(c)
}
