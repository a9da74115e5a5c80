// The worker is the reference external completion collaborator: it
// claims queued user messages, calls the completion provider and reports
// results back through the server's completion callback. It is
// replaceable by any process speaking the same two-phase protocol.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/ai/completion"
	"github.com/lumiclass/chat-backend/internal/config"
	"github.com/lumiclass/chat-backend/internal/storage/postgres"
	"github.com/lumiclass/chat-backend/internal/types"
)

type worker struct {
	cfg      *config.Config
	msgRepo  *postgres.MessageRepository
	roomRepo *postgres.RoomRepository
	provider *completion.Client
	http     *http.Client
	logger   *logrus.Logger
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger.Info("starting completion worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	w := &worker{
		cfg:      cfg,
		msgRepo:  postgres.NewMessageRepository(db.Pool()),
		roomRepo: postgres.NewRoomRepository(db.Pool()),
		provider: completion.NewClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker")
		cancel()
	}()

	ticker := time.NewTicker(cfg.Completion.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				logger.WithError(err).Error("poll failed")
			}
		}
	}
}

func (w *worker) poll(ctx context.Context) error {
	queued, err := w.msgRepo.OldestQueued(ctx, w.cfg.Completion.BatchSize)
	if err != nil {
		return err
	}

	for _, msg := range queued {
		if err := w.claim(ctx, msg.ID); err != nil {
			// Another worker claimed it first.
			w.logger.WithError(err).WithField("message_id", msg.ID).Debug("skipping message")
			continue
		}
		w.process(ctx, msg)
	}
	return nil
}

// claim goes through the server rather than the repository so the
// transition reaches connected room participants.
func (w *worker) claim(ctx context.Context, id uuid.UUID) error {
	return w.callback(ctx, fmt.Sprintf("/chat/messages/%s/claim", id), struct{}{})
}

func (w *worker) process(ctx context.Context, msg types.Message) {
	log := w.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
	})

	instances, err := w.roomRepo.ListRoleInstances(ctx, msg.ThreadID)
	if err != nil {
		log.WithError(err).Error("failed to list role instances")
		w.reportFailure(ctx, msg, "failed to resolve room role instances")
		return
	}
	if len(instances) == 0 {
		w.reportFailure(ctx, msg, "no role instances bound to room")
		return
	}

	// Every persona in the room responds to the message.
	for _, instance := range instances {
		resp, err := w.provider.Complete(ctx, &completion.Request{
			Model: instance.Model,
			Messages: []completion.Message{
				{Role: "user", Content: msg.Content},
			},
		})
		if err != nil {
			log.WithError(err).WithField("role_instance", instance.ID).Error("completion failed")
			w.reportFailure(ctx, msg, fmt.Sprintf("completion failed: %v", err))
			return
		}

		if err := w.reportCompletion(ctx, msg, instance, resp); err != nil {
			log.WithError(err).WithField("role_instance", instance.ID).Error("completion callback failed")
			return
		}
	}

	log.Info("message processed")
}

func (w *worker) reportCompletion(ctx context.Context, msg types.Message, instance types.RoleInstance, resp *completion.Response) error {
	body := map[string]any{
		"user_client_msg_id":   msg.ClientMsgID,
		"role_instance_id":     instance.ID,
		"provider_response_id": resp.ID,
		"content":              resp.Text,
		"usage": types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		"model": resp.Model,
	}
	path := fmt.Sprintf("/chat/rooms/%s/messages/complete", msg.ThreadID)
	return w.callback(ctx, path, body)
}

func (w *worker) reportFailure(ctx context.Context, msg types.Message, summary string) {
	path := fmt.Sprintf("/chat/messages/%s/fail", msg.ID)
	if err := w.callback(ctx, path, map[string]any{"error": summary}); err != nil {
		w.logger.WithError(err).WithField("message_id", msg.ID).Error("failure callback failed")
	}
}

func (w *worker) callback(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Completion.ServerURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.Completion.WorkerToken)

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
