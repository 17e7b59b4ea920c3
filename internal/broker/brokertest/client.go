// Package brokertest provides an in-memory MQTT client for tests
package brokertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one recorded publish
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes. Methods other than Publish and IsConnected are not
// implemented and panic when called.
type Client struct {
	mqtt.Client

	mu       sync.Mutex
	messages []Message
	Err      error
}

func (c *Client) IsConnected() bool { return true }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.messages = append(c.messages, Message{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	return &token{err: c.Err}
}

// Messages returns a copy of everything published so far
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

type token struct {
	err error
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
