package middleware

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kiln-framework/kiln/internal/pipeline"
)

// ServeStatic serves a single file from root, named by the trailing
// path parameter named param (e.g. a route defined as
// `/assets/:filepath`). It is a plain function call from within a route
// module's handler, not a routing mechanism of its own: static serving
// stays off the route table and opt-in.
func ServeStatic(ctx *pipeline.Context, root, param string) error {
	rel := ctx.Params[param]
	return ServeStaticFile(ctx, root, rel)
}

// ServeStaticFile serves the file at root/rel, rejecting any path that
// escapes root. Directories resolve to "index.html" within themselves;
// a missing index is a 404, not a directory listing.
func ServeStaticFile(ctx *pipeline.Context, root, rel string) error {
	clean := path.Clean("/" + rel)
	full := filepath.Join(root, filepath.FromSlash(clean))

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return err
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		ctx.Response.SetStatus(http.StatusNotFound)
		return ctx.Response.Send("not found")
	}

	f, err := os.Open(absFull)
	if err != nil {
		ctx.Response.SetStatus(http.StatusNotFound)
		return ctx.Response.Send("not found")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	if fi.IsDir() {
		indexPath := filepath.Join(absFull, "index.html")
		idx, err := os.Open(indexPath)
		if err != nil {
			ctx.Response.SetStatus(http.StatusNotFound)
			return ctx.Response.Send("not found")
		}
		defer idx.Close()
		idxInfo, err := idx.Stat()
		if err != nil {
			return err
		}
		http.ServeContent(ctx.Response.HTTPResponseWriter(), ctx.Request, idxInfo.Name(), idxInfo.ModTime(), idx)
		ctx.Response.MarkDone()
		return nil
	}

	http.ServeContent(ctx.Response.HTTPResponseWriter(), ctx.Request, fi.Name(), fi.ModTime(), f)
	ctx.Response.MarkDone()
	return nil
}
