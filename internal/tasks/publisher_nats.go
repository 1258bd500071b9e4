package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher fans task records out on "<subject>.<task id>"
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

type progressMessage struct {
	TaskID string `json:"task_id"`
	Record
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("pma-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[Tasks] NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Tasks] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Notify(ctx context.Context, taskID string, rec Record) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}

	payload, err := encodeProgress(taskID, rec)
	if err != nil {
		return err
	}
	return p.nc.Publish(subjectFor(p.subject, taskID), payload)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func subjectFor(base, taskID string) string {
	return base + "." + taskID
}

func encodeProgress(taskID string, rec Record) ([]byte, error) {
	return json.Marshal(progressMessage{TaskID: taskID, Record: rec})
}
