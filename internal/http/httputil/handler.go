package httputil

import "github.com/gin-gonic/gin"

// IHttpHandler is implemented by each resource handler. Root names the
// resource path segment; SetRoutes attaches reads to pub, settlement calls
// to private, and configuration endpoints to admin.
type IHttpHandler interface {
	Root() string
	SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup)
}
