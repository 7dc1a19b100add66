// Package httpapi exposes the batch pipeline over HTTP with gin.
//
// Routes:
//
//	GET  /api/health/live              liveness probe
//	GET  /version                      build information
//	POST /api/v1/batches               multipart upload ("images" files, optional "clusters")
//	GET  /api/v1/batches/:id           stored batch summary
//	GET  /api/v1/batches/:id/archive   zip download
//	GET  /api/v1/stream                websocket streaming variant
//
// Every error answer carries an ErrorResponse body.
package httpapi
