// Package httpapi is the gin transport in front of the auth engine.
// Handlers translate engine sentinels into status codes and keep the
// response bodies generic so they leak nothing about accounts or
// rejection causes.
package httpapi
