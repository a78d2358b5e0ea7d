package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/events"
	"github.com/wuwenbin0122/mindful.ai/internal/gateway"
	"github.com/wuwenbin0122/mindful.ai/internal/history"
	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

// ErrorMarker is written in-band when the model fails after the response has
// already started.
const ErrorMarker = "\n\n[Error: Failed to complete response]"

const defaultPersistTimeout = 10 * time.Second

var (
	ErrStoreRequired   = errors.New("relay: history store is required")
	ErrGatewayRequired = errors.New("relay: gateway is required")
	ErrChannelRequired = errors.New("relay: client channel is required")
	ErrUserIDRequired  = errors.New("relay: user id is required")
	ErrEmptyPrompt     = errors.New("relay: prompt cannot be empty")

	// ErrWindowing and ErrGatewayStart are only returned while nothing has
	// been written to the client, so callers may still answer with an error
	// status.
	ErrWindowing    = errors.New("relay: failed to load conversation history")
	ErrGatewayStart = errors.New("relay: model stream failed before first fragment")
)

type State int

const (
	StateInit State = iota
	StateWindowing
	StateStreaming
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWindowing:
		return "windowing"
	case StateStreaming:
		return "streaming"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClientChannel is the response side of one exchange.
//
// Begin commits the response framing (status, headers) and is called at most
// once, right before the first Write. Fail appends an in-band marker after a
// failure on a committed channel. Close ends the response.
type ClientChannel interface {
	Begin() error
	Write(fragment string) error
	Fail(marker string) error
	Close() error
}

// EventSink receives a summary of every exchange that reached the model.
type EventSink interface {
	PublishExchange(ctx context.Context, event events.ExchangeEvent) error
}

type ExchangeResult struct {
	State      State
	Reply      string
	Fragments  int
	Committed  bool
	ClientGone bool
	Persisted  bool
	// StreamErr is the provider failure seen after the response was
	// committed. It is reported in-band, not as HandleExchange's error.
	StreamErr error
}

type Config struct {
	Store             history.Store
	Gateway           gateway.Gateway
	Gate              *Gate
	Events            EventSink
	SystemInstruction string
	WindowSize        int
	ExchangeTimeout   time.Duration
	PersistTimeout    time.Duration
	Logger            *zap.SugaredLogger
}

// Relay runs one exchange at a time per call; a single Relay is shared by
// all requests.
type Relay struct {
	store           history.Store
	windower        *history.Windower
	gateway         gateway.Gateway
	gate            *Gate
	events          EventSink
	instruction     string
	exchangeTimeout time.Duration
	persistTimeout  time.Duration
	logger          *zap.SugaredLogger
	now             func() time.Time
}

func New(cfg Config) (*Relay, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Gateway == nil {
		return nil, ErrGatewayRequired
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewGate(nil, 0, logger)
	}
	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}

	return &Relay{
		store:           cfg.Store,
		windower:        history.NewWindower(cfg.Store, cfg.WindowSize),
		gateway:         cfg.Gateway,
		gate:            gate,
		events:          cfg.Events,
		instruction:     cfg.SystemInstruction,
		exchangeTimeout: cfg.ExchangeTimeout,
		persistTimeout:  persistTimeout,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleExchange streams the model's reply to prompt into channel and records
// the exchange in userID's history.
//
// A non-nil error means nothing was written to channel and the caller owns
// the failure response. Once the channel is committed the outcome travels
// in-band and the error is nil; inspect the result's State instead.
func (r *Relay) HandleExchange(ctx context.Context, userID, prompt string, channel ClientChannel) (*ExchangeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if channel == nil {
		return nil, ErrChannelRequired
	}

	requestCtx := ctx
	if r.exchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.exchangeTimeout)
		defer cancel()
	}

	logger := r.logger.With("user_id", userID)
	result := &ExchangeResult{State: StateWindowing}

	entries, err := r.windower.Load(ctx, userID)
	if err != nil {
		result.State = StateFailed
		logger.Errorw("history lookup failed", "error", err)
		return result, fmt.Errorf("%w: %w", ErrWindowing, err)
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := r.gateway.StartStream(streamCtx, gateway.Request{
		SystemInstruction: r.instruction,
		History:           entries,
		Prompt:            prompt,
	})
	if err != nil {
		result.State = StateFailed
		logger.Errorw("model stream failed to start", "error", err)
		r.publish(ctx, userID, result, err)
		return result, fmt.Errorf("%w: %w", ErrGatewayStart, err)
	}
	defer stream.Close()

	result.State = StateStreaming
	var reply strings.Builder
	streamErr := r.forward(stream, channel, result, &reply, cancelStream)
	result.Reply = reply.String()

	// A cancelled request context means the client went away; the stream
	// error is just the echo of that cancellation.
	if streamErr != nil && errors.Is(requestCtx.Err(), context.Canceled) {
		result.ClientGone = true
		streamErr = nil
	}

	if streamErr != nil && !result.Committed {
		result.State = StateFailed
		logger.Errorw("model stream failed before first fragment", "error", streamErr)
		r.publish(ctx, userID, result, streamErr)
		return result, fmt.Errorf("%w: %w", ErrGatewayStart, streamErr)
	}

	if streamErr != nil {
		result.State = StateFailed
		result.StreamErr = streamErr
		logger.Warnw("model stream failed mid-reply",
			"fragments", result.Fragments,
			"reply_bytes", len(result.Reply),
			"error", streamErr,
		)
		if err := channel.Fail(ErrorMarker); err != nil {
			logger.Debugw("failed to write error marker", "error", err)
		}
		r.closeChannel(logger, channel)
		result.Persisted = r.persist(ctx, logger, userID, prompt, result.Reply)
		r.publish(ctx, userID, result, streamErr)
		return result, nil
	}

	if !result.Committed && !result.ClientGone {
		// Empty but successful reply; the client still needs a response.
		if err := channel.Begin(); err != nil {
			result.ClientGone = true
		} else {
			result.Committed = true
		}
	}

	result.State = StatePersisting
	if result.ClientGone && result.Reply == "" {
		logger.Infow("client disconnected before the first fragment, nothing to persist")
	} else {
		result.Persisted = r.persist(ctx, logger, userID, prompt, result.Reply)
	}

	result.State = StateDone
	if !result.ClientGone {
		r.closeChannel(logger, channel)
	} else {
		logger.Infow("client disconnected mid-reply", "fragments", result.Fragments, "persisted", result.Persisted)
	}
	r.publish(ctx, userID, result, nil)

	return result, nil
}

// forward copies fragments from stream to channel until the stream ends or
// the client stops accepting writes. It returns the provider error, if any.
func (r *Relay) forward(stream gateway.FragmentStream, channel ClientChannel, result *ExchangeResult, reply *strings.Builder, cancel context.CancelFunc) error {
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if fragment == "" {
			continue
		}

		reply.WriteString(fragment)
		result.Fragments++

		if !result.Committed {
			if err := channel.Begin(); err != nil {
				result.ClientGone = true
				cancel()
				return nil
			}
			result.Committed = true
		}

		if err := channel.Write(fragment); err != nil {
			result.ClientGone = true
			cancel()
			return nil
		}
	}
}

// persist stores the turn under the user's gate. Failures are logged only;
// by now the client has its answer.
func (r *Relay) persist(ctx context.Context, logger *zap.SugaredLogger, userID, prompt, reply string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()

	release, err := r.gate.Acquire(ctx, userID)
	if err != nil {
		logger.Errorw("failed to persist turn", "stage", "gate", "error", err)
		return false
	}
	defer release()

	turn := models.ConversationTurn{
		UserText:      prompt,
		AssistantText: reply,
		OccurredAt:    r.now(),
	}

	err = r.store.AppendTurn(ctx, userID, turn)
	if err == nil {
		return true
	}
	logger.Warnw("append turn failed, retrying with upsert", "error", err)

	if err := r.store.UpsertTurn(ctx, userID, turn); err != nil {
		logger.Errorw("failed to persist turn", "stage", "upsert", "error", err)
		return false
	}
	return true
}

func (r *Relay) closeChannel(logger *zap.SugaredLogger, channel ClientChannel) {
	if err := channel.Close(); err != nil {
		logger.Debugw("failed to close client channel", "error", err)
	}
}

func (r *Relay) publish(ctx context.Context, userID string, result *ExchangeResult, cause error) {
	if r.events == nil {
		return
	}

	event := events.ExchangeEvent{
		Type:       events.TypeExchangeCompleted,
		UserID:     userID,
		State:      result.State.String(),
		Fragments:  result.Fragments,
		ReplyBytes: len(result.Reply),
		Persisted:  result.Persisted,
		ClientGone: result.ClientGone,
		OccurredAt: r.now(),
	}
	if result.State == StateFailed {
		event.Type = events.TypeExchangeFailed
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	if err := r.events.PublishExchange(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warnw("failed to publish exchange event", "user_id", userID, "type", event.Type, "error", err)
	}
}
