// Package stream turns the events of one agent turn into the ordered chunks
// every front end renders. The console, the autonomous loop and the HTTP
// service all drain turns through the same Multiplex call.
package stream
