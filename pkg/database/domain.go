package database

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Connection definition connection setting
type Connection struct {
	ConnectStr string

	RetryCount    int
	RetryInterval time.Duration
}

// MongoDB definition mongo db
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// KafkaConnection definition kafka
type KafkaConnection struct {
	Brokers       []string
	Topic         string
	RetryCount    int
	RetryInterval time.Duration
}

// RedisConnection sentinel when SentinelAddrs is set, single node Addr otherwise
type RedisConnection struct {
	MasterName    string
	SentinelAddrs []string
	Addr          string
	Password      string
	DB            int
}

// Attempts returns at least one attempt
func (c Connection) Attempts() int {
	if c.RetryCount < 1 {
		return 1
	}
	return c.RetryCount
}

// MongoURI build mongodb connection string
func MongoURI(user, password, host string, port int) string {
	if user == "" {
		return fmt.Sprintf("mongodb://%s:%d", host, port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d", user, password, host, port)
}

// PostgresURI build postgres connection string
func PostgresURI(user, password, host string, port int, database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, database)
}

// AMQPURI build rabbitmq connection string
func AMQPURI(user, password, host string, port int) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", user, password, host, port)
}
