package transport

import (
	"context"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Echo logs every sample instead of sending it anywhere. It is the
// transport of "echo" participants, used to watch what the bridge routes.
type Echo struct {
	participant identity.ParticipantID
	logger      *logging.Logger
	verbose     bool
	count       atomic.Uint64
}

// NewEcho creates an echo domain. With verbose set the payload is logged
// as well as the routing metadata.
func NewEcho(participant identity.ParticipantID, logger *logging.Logger, verbose bool) *Echo {
	if logger == nil {
		logger = logging.Global()
	}
	return &Echo{
		participant: participant,
		logger:      logger.WithParticipant(string(participant)),
		verbose:     verbose,
	}
}

// Send logs msg.
func (e *Echo) Send(_ context.Context, msg *writer.Message) error {
	n := e.count.Add(1)
	fields := map[string]any{
		"topic":    msg.Topic.Name,
		"type":     msg.Topic.Type,
		"sequence": uint64(msg.Sequence),
		"bytes":    msg.Buffer.Len(),
		"count":    n,
	}
	if !msg.ReplyTo.IsZero() {
		fields["replyTo"] = msg.ReplyTo.String()
	}
	if e.verbose {
		fields["payload"] = string(msg.Payload())
	}
	e.logger.Infof("echo", fields)
	return nil
}

// Count returns the number of samples echoed.
func (e *Echo) Count() uint64 { return e.count.Load() }
