// Package rabbitmq publishes ledger events to a RabbitMQ topic exchange
// with publisher confirms.
package rabbitmq
