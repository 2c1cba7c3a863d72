package mqtt

import (
	"github.com/sweeney/brew-controller/internal/brew"
)

// Message is one publish as the broker would receive it.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// FakePublisher stands in for the broker connection. Messages are built
// with the same topics, QoS and retain flags as RealPublisher.
type FakePublisher struct {
	Messages []Message

	// Shots and Events keep the values behind Messages for typed assertions.
	Shots  []brew.Shot
	Events []SystemEvent

	// Err fails every publish while set. Nothing is recorded.
	Err error

	Connected bool
	Closed    bool
}

var (
	_ Publisher        = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishShot(shot brew.Shot) error {
	if f.Err != nil {
		return f.Err
	}
	msg, err := shotMessage(shot)
	if err != nil {
		return err
	}
	f.record(msg)
	f.Shots = append(f.Shots, shot)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.Err != nil {
		return f.Err
	}
	msg, err := systemMessage(event)
	if err != nil {
		return err
	}
	f.record(msg)
	f.Events = append(f.Events, event)
	return nil
}

// OnTopic returns the messages published to topic, oldest first.
func (f *FakePublisher) OnTopic(topic string) []Message {
	var out []Message
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

func (f *FakePublisher) record(msg bufferedMsg) {
	f.Messages = append(f.Messages, Message{
		Topic:    msg.topic,
		Payload:  msg.payload,
		QoS:      msg.qos,
		Retained: msg.retained,
	})
}
