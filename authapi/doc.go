// Package authapi exposes a [linkauth.Engine] over HTTP under /auth/v1.
//
// Every /auth/v1 route except the browser landing GET /auth/v1/verify
// requires the public key in the "apikey" header. Errors are JSON objects
// {"code", "message"}; see errors.go for the code table.
package authapi
