package cmds

import (
	"context"

	"github.com/go-go-golems/threadline/pkg/chat"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func loadSettings() (*settings.Settings, error) {
	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return s, nil
}

func newRouter() (*events.EventRouter, error) {
	return events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
}

func newController(s *settings.Settings, sinks ...events.EventSink) (*chat.Controller, error) {
	store, err := s.NewStore()
	if err != nil {
		return nil, err
	}
	options := append(s.ControllerOptions(), chat.WithEventSinks(sinks...))
	return chat.NewController(store, s.NewClient(), options...), nil
}

// waitForRouter blocks until the router subscribed its handlers, events
// published before that are lost.
func waitForRouter(ctx context.Context, router *events.EventRouter) error {
	select {
	case <-router.Running():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
