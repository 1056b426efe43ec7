package lib

import (
	"time"

	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/thejerf/suture/v4"
)

//Services are the background workers the API needs running: the write-through persister and the view syncer.
func (api *API) Services() []suture.Service {
	return []suture.Service{api.persister, api.syncer}
}

//NewSupervisor returns a supervisor which restarts failed services and logs what it does to them.
func NewSupervisor(name string, shutdownTimeout time.Duration) *suture.Supervisor {
	log := logging.With().Str("component", "supervisor").Logger()
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			switch e.Type() {
			case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
				log.Error().Fields(e.Map()).Msg(e.String())
			default:
				log.Warn().Fields(e.Map()).Msg(e.String())
			}
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
