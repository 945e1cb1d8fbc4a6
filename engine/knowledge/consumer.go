package knowledge

import (
	"context"
	"log/slog"

	"github.com/alphacar/aichat-engine/engine/semantic"
	"github.com/alphacar/aichat-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectAdd receives live knowledge additions from operators/tools.
	SubjectAdd = "aichat.knowledge.add"
	// SubjectDLQ receives additions whose index write failed.
	SubjectDLQ = "aichat.knowledge.dlq"
)

// AddRequest is a raw knowledge addition: pre-formatted document text
// plus its provenance identifier.
type AddRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// dlqEntry carries a failed addition and the persist error.
type dlqEntry struct {
	Request AddRequest `json:"request"`
	Error   string     `json:"error"`
}

// StartConsumer subscribes to SubjectAdd and appends each addition to
// the store. Persistence failures are forwarded to the DLQ rather than
// dropped, so no acknowledged message loses knowledge silently.
func StartConsumer(nc *nats.Conn, store DocumentStore, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return natsutil.Subscribe(nc, SubjectAdd, func(ctx context.Context, req AddRequest) {
		if req.Text == "" || req.Source == "" {
			logger.Warn("knowledge: dropping add with empty text or source")
			return
		}

		doc := semantic.Document{Text: req.Text, Source: req.Source}
		if err := store.Add(ctx, []semantic.Document{doc}); err != nil {
			logger.Error("knowledge: live add failed", "source", req.Source, "error", err)
			if pubErr := natsutil.Publish(ctx, nc, SubjectDLQ, dlqEntry{Request: req, Error: err.Error()}); pubErr != nil {
				logger.Error("knowledge: DLQ publish failed", "error", pubErr)
			}
			return
		}
		logger.Info("knowledge: live add stored", "source", req.Source)
	})
}
