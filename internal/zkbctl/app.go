// Package zkbctl implements the operator commands of the zkbctl tool.
package zkbctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sanity-io/litter"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/protocol"
)

const (
	TopicCommands = "commands"
	TopicData     = "data"
)

type Params struct {
	Bus      commonconfig.BusConfig
	Database commonconfig.DatabaseConfig
}

type App struct {
	Params Params
	// Out receives everything the commands print.
	Out io.Writer

	newClient func(config commonconfig.BusConfig, name string) (eventstream.Client, error)
}

func New(params Params) *App {
	return &App{
		Params:    params,
		Out:       os.Stdout,
		newClient: eventstream.NewClient,
	}
}

// Quit asks the hash manager to stop once it has processed everything queued before.
func (a *App) Quit(ctx context.Context) error {
	return a.sendCommand(ctx, protocol.NewQuit())
}

// Request asks the hash manager for up to count pending hashes.
func (a *App) Request(ctx context.Context, count uint32) error {
	return a.sendCommand(ctx, protocol.NewRequestLastHashes(count))
}

func (a *App) sendCommand(ctx context.Context, cmd *protocol.CmdEvent) error {
	client, err := a.newClient(a.Params.Bus, "zkbctl")
	if err != nil {
		return err
	}
	defer client.Close()

	publisher, err := client.NewPublisher(a.Params.Bus.CommandTopic)
	if err != nil {
		return err
	}
	defer publisher.Close()

	payload, err := protocol.MarshalCmd(cmd)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, payload); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Sent %s to %s\n", cmd.Kind(), a.Params.Bus.CommandTopic)
	return nil
}

// Watch prints every message published on topic, either commands or data, until ctx is cancelled.
func (a *App) Watch(ctx context.Context, topic string) error {
	var topicName string
	var decode func([]byte) (interface{}, error)
	switch topic {
	case TopicCommands:
		topicName = a.Params.Bus.CommandTopic
		decode = func(payload []byte) (interface{}, error) { return protocol.UnmarshalCmd(payload) }
	case TopicData:
		topicName = a.Params.Bus.DataTopic
		decode = func(payload []byte) (interface{}, error) { return protocol.UnmarshalData(payload) }
	default:
		return errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "topic",
			Value:   topic,
			Message: fmt.Sprintf("topic must be either %s or %s", TopicCommands, TopicData),
		})
	}

	client, err := a.newClient(a.Params.Bus, "zkbctl")
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Subscribe(ctx, topicName, fmt.Sprintf("zkbctl-watch-%s", uuid.New()))
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			msg.Ack()
			event, err := decode(msg.Payload)
			if err != nil {
				fmt.Fprintf(a.Out, "Could not decode message published at %s: %s\n", msg.PublishTime, err)
				continue
			}
			fmt.Fprintf(a.Out, "Published: %s\nMessage: %s\n", msg.PublishTime, litter.Sdump(event))
		}
	}
}
