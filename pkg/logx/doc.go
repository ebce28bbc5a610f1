// Package logx wraps zerolog for streamkas.
//
// Console output is short and human readable, file output is JSON. Every
// component derives its logger with a "comp" field, and stream related lines
// carry a "stream" field with the stream id.
package logx
