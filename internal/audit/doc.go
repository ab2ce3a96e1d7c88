// Package audit publishes a record of every action invocation to an external
// sink: an in-memory buffer, a Redis list, or a RabbitMQ queue. Delivery is
// best effort; failures never affect the turn that produced the event.
package audit
