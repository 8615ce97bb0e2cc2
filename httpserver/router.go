package httpserver

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Handler processes a parsed Request into a Response.
type Handler func(req *Request, resp *Response)

// MountPoint maps a URL prefix to a filesystem directory for static file
// serving, grounded on cooper's HttpServer::baseDirs_ entries
// ({mountPoint, baseDir, headers}).
type MountPoint struct {
	URLPrefix    string
	Directory    string
	ExtraHeaders map[string]string
}

// router holds the per-method exact-path tables and the static mount
// points, grounded on HttpServer's getRoutes_/postRoutes_/baseDirs_.
type router struct {
	get  map[string]Handler
	post map[string]Handler

	mounts     []MountPoint
	fileAuth   func(path string) bool
}

func newRouter() *router {
	return &router{get: make(map[string]Handler), post: make(map[string]Handler)}
}

// Handle registers handler for method/path; only GET and POST are
// supported, matching spec.md §3's "at least GET, POST" route table.
func (rt *router) Handle(method, path string, handler Handler) {
	switch method {
	case "GET":
		rt.get[path] = handler
	case "POST":
		rt.post[path] = handler
	}
}

// Mount adds a static-file mount point. The prefix must start with "/".
func (rt *router) Mount(urlPrefix, directory string, extraHeaders map[string]string) {
	rt.mounts = append(rt.mounts, MountPoint{URLPrefix: urlPrefix, Directory: directory, ExtraHeaders: extraHeaders})
}

// SetFileAuth installs the predicate consulted before serving any static
// file; a false result yields 403, matching spec.md §7's "file auth
// denied: 403".
func (rt *router) SetFileAuth(fn func(path string) bool) { rt.fileAuth = fn }

// resolveRoute looks up an exact-path handler, distinguishing a missing
// path (404) from a method the router has no table for at all (405),
// matching HttpServer::handleRequest.
func (rt *router) resolveRoute(method, path string) (Handler, routeOutcome) {
	switch method {
	case "GET":
		if h, ok := rt.get[path]; ok {
			return h, routeFound
		}
		return nil, routeMissing
	case "POST":
		if h, ok := rt.post[path]; ok {
			return h, routeFound
		}
		return nil, routeMissing
	default:
		return nil, routeMethodNotAllowed
	}
}

type routeOutcome int

const (
	routeFound routeOutcome = iota
	routeMissing
	routeMethodNotAllowed
)

// resolveStaticFile attempts to serve reqPath from a matching mount
// point, grounded on HttpServer::handleFileRequest: prefix match, "/"
// join, traversal rejection, index.html default, regular-file check,
// optional auth predicate.
func (rt *router) resolveStaticFile(method, reqPath string) (resolvedPath string, headers map[string]string, outcome staticOutcome) {
	if method != "GET" {
		return "", nil, staticNoMatch
	}
	for _, mount := range rt.mounts {
		if !strings.HasPrefix(reqPath, mount.URLPrefix) {
			continue
		}
		rawSub := "/" + strings.TrimPrefix(reqPath, mount.URLPrefix)
		subPath := path.Clean(rawSub)
		if !isValidPath(subPath) {
			continue
		}
		full := filepath.Join(mount.Directory, filepath.FromSlash(subPath))
		if strings.HasSuffix(rawSub, "/") {
			full = filepath.Join(full, "index.html")
		}
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if rt.fileAuth != nil && !rt.fileAuth(full) {
			return full, mount.ExtraHeaders, staticAuthDenied
		}
		return full, mount.ExtraHeaders, staticFound
	}
	return "", nil, staticNoMatch
}

type staticOutcome int

const (
	staticNoMatch staticOutcome = iota
	staticFound
	staticAuthDenied
)

// isValidPath rejects directory traversal that would escape the mount's
// root, grounded on utils::isValidPath (referenced, not defined, in the
// retrieved source). p is expected to already be path.Clean-ed and
// rooted; Clean alone resolves ".." components against a leading "/" and
// cannot produce a path that still escapes above it, so this is a
// defense-in-depth check against any caller that skips Clean.
func isValidPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.Contains(p, "..")
}
