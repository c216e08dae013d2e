package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/internal/domain/scenario"
	"github.com/dialogforge/dialogforge/internal/infrastructure/eventbus"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
	"github.com/dialogforge/dialogforge/pkg/safego"
)

// AdapterProvider resolves the platform adapter bound to a bot's
// credentials.
type AdapterProvider interface {
	Adapter(ctx context.Context, botID, platformName string) (platform.Adapter, error)
}

// DialogManagerConfig holds the event pipeline budgets.
type DialogManagerConfig struct {
	EventTimeout       time.Duration
	AutoTransitionMax  int
	MaxSendRetries     int
	MaxConflictRetries int
	HistoryBuffer      int
}

const faultNotice = "Something went wrong on our side. Send /reset to start over, or contact support."

const defaultHelpText = "Available commands:\n" +
	"/start - start the conversation from the beginning\n" +
	"/reset - clear your answers and start fresh\n" +
	"/help - show this message"

// DialogManager is the orchestrator. HandleEvent is the single public
// entry point and is safe to call concurrently from many workers; events
// for the same conversation are serialized through ConversationLocks.
type DialogManager struct {
	states    repository.StateRepository
	scenarios repository.ScenarioRepository
	bots      repository.BotRepository
	processor *scenario.Processor
	validator *Validator
	media     *MediaManager
	locks     *ConversationLocks
	seen      *SeenSet
	adapters  AdapterProvider
	bus       eventbus.Bus
	cfg       DialogManagerConfig
	logger    *zap.Logger

	// history entries flow through a single writer so Seq assignment
	// follows processing order across the whole process.
	histCh   chan *entity.DialogHistoryEntry
	histDone chan struct{}
}

// NewDialogManager wires the orchestrator and starts its history writer.
func NewDialogManager(
	states repository.StateRepository,
	scenarios repository.ScenarioRepository,
	bots repository.BotRepository,
	processor *scenario.Processor,
	validator *Validator,
	media *MediaManager,
	locks *ConversationLocks,
	seen *SeenSet,
	adapters AdapterProvider,
	bus eventbus.Bus,
	cfg DialogManagerConfig,
	logger *zap.Logger,
) *DialogManager {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 20 * time.Second
	}
	if cfg.AutoTransitionMax <= 0 {
		cfg.AutoTransitionMax = 16
	}
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = 3
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 3
	}
	if cfg.HistoryBuffer <= 0 {
		cfg.HistoryBuffer = 64
	}

	m := &DialogManager{
		states:    states,
		scenarios: scenarios,
		bots:      bots,
		processor: processor,
		validator: validator,
		media:     media,
		locks:     locks,
		seen:      seen,
		adapters:  adapters,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "dialog-manager")),
		histCh:    make(chan *entity.DialogHistoryEntry, cfg.HistoryBuffer),
		histDone:  make(chan struct{}),
	}

	safego.Go(m.logger, "history-writer", m.historyWriter)

	return m
}

// Close flushes and stops the history writer.
func (m *DialogManager) Close() {
	close(m.histCh)
	<-m.histDone
}

func (m *DialogManager) historyWriter() {
	defer close(m.histDone)
	for entry := range m.histCh {
		if err := m.states.AppendHistory(context.Background(), entry); err != nil {
			m.logger.Error("History append failed",
				zap.String("dialog_id", entry.DialogID),
				zap.Error(err),
			)
		}
	}
}

// appendHistory enqueues an entry. A full buffer blocks the caller, which
// forces a flush before more entries pile up.
func (m *DialogManager) appendHistory(dialogID string, mt entity.MessageType, payload string) {
	m.histCh <- entity.NewHistoryEntry(dialogID, mt, payload)
}

// session carries one event's working set through the pipeline.
type session struct {
	adapter  platform.Adapter
	botID    string
	platform string
	event    platform.Event
	state    *entity.DialogState
	graph    *entity.Graph
	isNew    bool
}

// HandleEvent processes one raw webhook update for a bot. Replayed update
// ids and unparseable payloads are dropped before any dialog work.
func (m *DialogManager) HandleEvent(ctx context.Context, botID, platformName string, raw []byte) error {
	adapter, err := m.adapters.Adapter(ctx, botID, platformName)
	if err != nil {
		return fmt.Errorf("resolve adapter for bot %s: %w", botID, err)
	}

	ev := adapter.ParseEvent(raw)
	if ev.Kind == platform.EventUnknown || ev.ChatID == "" {
		m.logger.Debug("Dropping unrecognized update", zap.String("bot_id", botID))
		return nil
	}

	// Button presses are acknowledged up front; the platform keeps showing
	// a spinner (and redelivering) until the callback is answered.
	if ev.CallbackID != "" {
		if acker, ok := adapter.(platform.CallbackAcker); ok {
			if err := acker.AckCallback(ctx, ev.CallbackID); err != nil {
				m.logger.Debug("Callback ack failed", zap.Error(err))
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.EventTimeout)
	defer cancel()

	release, err := m.locks.Acquire(ctx, botID, platformName, ev.ChatID)
	if err != nil {
		m.publish(ctx, eventbus.EventTypeEventDropped, botID, platformName, ev.ChatID, "", string(apperrors.CodeOf(err)))
		return err
	}
	defer release()

	// The replay check runs under the lock: an event rejected with Busy is
	// never marked seen, so the platform's redelivery still goes through.
	if m.seen.Seen(botID, ev.UpdateID) {
		m.logger.Debug("Dropping replayed update",
			zap.String("bot_id", botID),
			zap.String("update_id", ev.UpdateID),
		)
		return nil
	}

	s := &session{adapter: adapter, botID: botID, platform: platformName, event: ev}

	err = m.process(ctx, s)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && s.state != nil {
		m.appendHistory(s.state.ID, entity.MessageSystem, "Timeout")
	}
	return err
}

func (m *DialogManager) process(ctx context.Context, s *session) error {
	state, err := m.states.Get(ctx, s.botID, s.platform, s.event.ChatID)
	if err != nil && !apperrors.IsNotFound(err) {
		return fmt.Errorf("load dialog state: %w", err)
	}
	s.state = state

	currentStep := ""
	if s.state != nil {
		currentStep = s.state.CurrentStepID
	}

	if err := m.validator.CheckEvent(ctx, s.botID, s.event.ChatID, currentStep, s.event); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeDuplicate:
			m.logger.Debug("Dropping duplicate click",
				zap.String("bot_id", s.botID),
				zap.String("chat_id", s.event.ChatID),
			)
			return nil
		case apperrors.CodeRateLimited:
			if s.state != nil {
				m.appendHistory(s.state.ID, entity.MessageSystem, "RateLimited")
			}
			return nil
		default:
			return err
		}
	}

	if s.event.Kind == platform.EventCommand {
		return m.handleCommand(ctx, s)
	}

	return m.handleUserEvent(ctx, s)
}

// --- Commands ---

func (m *DialogManager) handleCommand(ctx context.Context, s *session) error {
	switch s.event.Command {
	case "start":
		return m.restart(ctx, s, eventbus.EventTypeDialogStarted)
	case "reset":
		return m.restart(ctx, s, eventbus.EventTypeDialogReset)
	case "help":
		return m.sendHelp(ctx, s)
	default:
		m.logger.Debug("Ignoring unknown command",
			zap.String("bot_id", s.botID),
			zap.String("command", s.event.Command),
		)
		return nil
	}
}

// restart backs both /start and /reset: rebind to the bot's active
// scenario at its start step, wipe collected data, keep history.
func (m *DialogManager) restart(ctx context.Context, s *session, eventType string) error {
	active, err := m.scenarios.GetActive(ctx, s.botID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Quiescent mode: the bot has nothing to run.
			return m.sendText(ctx, s, "This bot has no active scenario yet. Please try again later.", nil)
		}
		return fmt.Errorf("load active scenario: %w", err)
	}

	if s.state == nil {
		s.state = entity.NewDialogState(s.botID, s.platform, s.event.ChatID, active)
		s.isNew = true
	} else {
		s.state.ResetTo(active)
	}
	s.graph = active.Graph

	m.appendHistory(s.state.ID, entity.MessageUser, "/"+s.event.Command)
	m.publish(ctx, eventType, s.botID, s.platform, s.event.ChatID, s.state.CurrentStepID, "")

	return m.runFrom(ctx, s, s.graph.StartStep)
}

func (m *DialogManager) sendHelp(ctx context.Context, s *session) error {
	text := defaultHelpText
	if s.state != nil {
		if sc, err := m.scenarios.GetByID(ctx, s.state.ScenarioID); err == nil && sc.Graph.HelpText != "" {
			text = sc.Graph.HelpText
		}
		m.appendHistory(s.state.ID, entity.MessageUser, "/help")
	}
	return m.sendText(ctx, s, text, nil)
}

// --- User events (text / button) ---

func (m *DialogManager) handleUserEvent(ctx context.Context, s *session) error {
	if s.state == nil {
		// No conversation yet; only /start materializes one.
		m.logger.Debug("Dropping event for nonexistent dialog",
			zap.String("bot_id", s.botID),
			zap.String("chat_id", s.event.ChatID),
		)
		return nil
	}

	if s.state.InFault() {
		return m.sendText(ctx, s, faultNotice, nil)
	}

	sc, err := m.scenarios.GetByID(ctx, s.state.ScenarioID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// The pinned scenario is gone (deleted underneath the dialog).
			return m.fault(ctx, s, apperrors.NewFatal("pinned scenario no longer exists"))
		}
		return fmt.Errorf("load scenario: %w", err)
	}
	s.graph = sc.Graph

	step := s.graph.StepByID(s.state.CurrentStepID)
	if step == nil {
		return m.fault(ctx, s, apperrors.NewFatal(
			fmt.Sprintf("current step %q is not in the scenario graph", s.state.CurrentStepID)))
	}

	if step.ExpectedInput == nil {
		// Nothing is expected here (terminal step or free chatter).
		m.appendHistory(s.state.ID, entity.MessageUser, userPayload(s.event))
		return m.persist(ctx, s)
	}

	value, verr := m.validator.ValidateInput(step, step.ExpectedInput, s.event)
	if verr != nil {
		return m.reprompt(ctx, s, step, verr)
	}

	s.state.SetVariable(step.ExpectedInput.Variable, value)
	m.appendHistory(s.state.ID, entity.MessageUser, userPayload(s.event))

	next := m.processor.ResolveNext(s.graph, step, s.state.CollectedData)
	if next == "" {
		// Terminal: keep the conversation parked on the completed step.
		return m.persist(ctx, s)
	}

	return m.runFrom(ctx, s, next)
}

// reprompt handles invalid input: the user stays on the step and gets the
// error message, or for a bad button press the original prompt again.
func (m *DialogManager) reprompt(ctx context.Context, s *session, step *entity.Step, verr error) error {
	code := apperrors.CodeOf(verr)
	m.appendHistory(s.state.ID, entity.MessageSystem, string(code)+": "+userPayload(s.event))

	if code == apperrors.CodeInvalidButton {
		res, err := m.processor.EvaluateStep(ctx, s.graph, s.state.CurrentStepID, s.state.CollectedData)
		if err != nil {
			return m.fault(ctx, s, err)
		}
		if res.Rendered != nil {
			return m.sendRendered(ctx, s, res.Rendered)
		}
		return nil
	}

	var appErr *apperrors.AppError
	message := "Invalid input, please try again."
	if errors.As(verr, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	return m.sendText(ctx, s, message, nil)
}

// --- Step execution ---

// runFrom drives the auto-transition loop starting at startID: evaluate,
// accumulate rendered messages, follow edges until a step awaits input or
// the graph ends. The visited set plus a hop budget guard against cycles;
// tripping the guard leaves the conversation at the last unique step.
//
// The state write is deferred until every send succeeded, so a failed
// send never strands the conversation past messages the user never saw.
func (m *DialogManager) runFrom(ctx context.Context, s *session, startID string) error {
	visited := make(map[string]bool)
	hops := 0
	stepID := startID
	var outbound []*scenario.RenderedMessage

	for stepID != "" {
		if visited[stepID] || hops > m.cfg.AutoTransitionMax {
			m.logger.Warn("Auto-transition loop guard tripped",
				zap.String("bot_id", s.botID),
				zap.String("chat_id", s.event.ChatID),
				zap.String("step_id", stepID),
				zap.Int("hops", hops),
			)
			m.appendHistory(s.state.ID, entity.MessageSystem, "AutoTransitionLoop")
			m.publish(ctx, eventbus.EventTypeAutoTransitionLoop, s.botID, s.platform, s.event.ChatID, s.state.CurrentStepID, "")
			break
		}
		visited[stepID] = true

		res, err := m.processor.EvaluateStep(ctx, s.graph, stepID, s.state.CollectedData)
		if err != nil {
			return m.fault(ctx, s, err)
		}

		for k, v := range res.VariableUpdates {
			s.state.SetVariable(k, v)
		}
		s.state.CurrentStepID = stepID

		if res.Rendered != nil {
			outbound = append(outbound, res.Rendered)
		}

		if res.AwaitsInput {
			break
		}

		m.publish(ctx, eventbus.EventTypeStepExecuted, s.botID, s.platform, s.event.ChatID, stepID, "")
		stepID = res.NextStepID
		hops++
	}

	for _, msg := range outbound {
		if err := m.sendRendered(ctx, s, msg); err != nil {
			return err
		}
	}

	return m.persist(ctx, s)
}

// fault parks the conversation in the fault sub-state; only /reset leaves
// it. The notice send is best effort.
func (m *DialogManager) fault(ctx context.Context, s *session, cause error) error {
	m.logger.Error("Dialog faulted",
		zap.String("bot_id", s.botID),
		zap.String("chat_id", s.event.ChatID),
		zap.Error(cause),
	)

	s.state.CurrentStepID = entity.FaultStepID
	m.appendHistory(s.state.ID, entity.MessageSystem, "Fatal: "+cause.Error())
	m.publish(ctx, eventbus.EventTypeDialogFaulted, s.botID, s.platform, s.event.ChatID, entity.FaultStepID, cause.Error())

	if err := m.sendText(ctx, s, faultNotice, nil); err != nil {
		m.logger.Warn("Could not deliver fault notice", zap.Error(err))
	}

	return m.persist(ctx, s)
}

// --- Sending ---

// sendRendered resolves media and delivers one message, preserving the
// order the processor produced. Unresolvable media degrades to text with
// the asset description prefixed.
func (m *DialogManager) sendRendered(ctx context.Context, s *session, msg *scenario.RenderedMessage) error {
	text := msg.Text

	var items []platform.OutMedia
	if len(msg.Media) > 0 {
		var failures []ResolveFailure
		items, failures = m.media.Resolve(ctx, s.botID, s.adapter, msg.Media)
		for _, f := range failures {
			m.appendHistory(s.state.ID, entity.MessageSystem, "MediaUploadFailed: "+f.Ref.FileID)
			m.publish(ctx, eventbus.EventTypeMediaUploadFailed, s.botID, s.platform, s.event.ChatID, s.state.CurrentStepID, f.Ref.FileID)
			if f.Ref.Description != "" {
				text = f.Ref.Description + "\n" + text
			}
		}
	}

	if len(items) == 0 {
		return m.sendText(ctx, s, text, msg.Buttons)
	}

	err := m.withSendRetry(ctx, s, func() error {
		_, serr := s.adapter.SendMedia(ctx, s.event.ChatID, items, text, msg.Buttons)
		return serr
	})
	if err == nil {
		m.appendHistory(s.state.ID, entity.MessageBot, text)
		return nil
	}

	var groupErr *platform.MediaGroupError
	if errors.As(err, &groupErr) {
		return m.downgradeGroup(ctx, s, items, groupErr.Index, text, msg.Buttons)
	}
	return err
}

// downgradeGroup delivers the remainder of a partially failed media group
// one item at a time, then the caption. Items that still fail fold their
// description into the caption.
func (m *DialogManager) downgradeGroup(ctx context.Context, s *session, items []platform.OutMedia, from int, text string, buttons []entity.Button) error {
	for i := from; i < len(items); i++ {
		item := items[i]
		err := m.withSendRetry(ctx, s, func() error {
			_, serr := s.adapter.SendMedia(ctx, s.event.ChatID, []platform.OutMedia{item}, "", nil)
			return serr
		})
		if err != nil {
			m.logger.Warn("Media item send failed after group downgrade",
				zap.Int("index", i),
				zap.Error(err),
			)
			m.appendHistory(s.state.ID, entity.MessageSystem, "MediaUploadFailed: "+item.FileID)
			if item.Description != "" {
				text = item.Description + "\n" + text
			}
		}
	}
	return m.sendText(ctx, s, text, buttons)
}

func (m *DialogManager) sendText(ctx context.Context, s *session, text string, buttons []entity.Button) error {
	if text == "" {
		return nil
	}
	err := m.withSendRetry(ctx, s, func() error {
		_, serr := s.adapter.SendText(ctx, s.event.ChatID, text, buttons)
		return serr
	})
	if err != nil {
		return err
	}
	if s.state != nil {
		m.appendHistory(s.state.ID, entity.MessageBot, text)
	}
	return nil
}

// withSendRetry retries transient adapter failures with backoff. Rejected
// credentials mark the bot's platform credential unhealthy and are never
// retried.
func (m *DialogManager) withSendRetry(ctx context.Context, s *session, op func() error) error {
	err := retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.MaxSendRetries)),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(apperrors.IsTransient),
	)
	if err != nil && apperrors.IsUnauthorized(err) {
		m.logger.Error("Platform rejected credentials, marking unhealthy",
			zap.String("bot_id", s.botID),
			zap.String("platform", s.platform),
		)
		if merr := m.bots.MarkCredentialUnhealthy(ctx, s.botID, s.platform); merr != nil {
			m.logger.Error("Could not mark credential unhealthy", zap.Error(merr))
		}
	}
	return err
}

// --- Persistence ---

// persist writes the state, retrying optimistic conflicts against a fresh
// read up to the configured bound.
func (m *DialogManager) persist(ctx context.Context, s *session) error {
	s.state.LastInteractionAt = time.Now().UTC()

	if s.isNew {
		err := m.states.Create(ctx, s.state)
		if err == nil || !apperrors.Is(err, apperrors.CodeAlreadyExist) {
			return err
		}
		// Raced with another replica creating the same conversation; fall
		// through to the conflict path against the winner's row.
		s.isNew = false
	}

	for attempt := 0; ; attempt++ {
		err := m.states.Update(ctx, s.state)
		if err == nil {
			return nil
		}
		if !apperrors.IsConflict(err) || attempt >= m.cfg.MaxConflictRetries {
			if apperrors.IsConflict(err) {
				return apperrors.NewTransient("state conflict retries exhausted", err)
			}
			return err
		}

		fresh, gerr := m.states.Get(ctx, s.botID, s.platform, s.event.ChatID)
		if gerr != nil {
			return gerr
		}
		fresh.ScenarioID = s.state.ScenarioID
		fresh.ScenarioVersion = s.state.ScenarioVersion
		fresh.CurrentStepID = s.state.CurrentStepID
		fresh.CollectedData = s.state.CollectedData
		fresh.LastInteractionAt = s.state.LastInteractionAt
		s.state = fresh
	}
}

// --- Misc ---

func (m *DialogManager) publish(ctx context.Context, eventType, botID, platformName, chatID, stepID, detail string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, eventbus.NewEvent(eventType, eventbus.DialogPayload{
		BotID:    botID,
		Platform: platformName,
		ChatID:   chatID,
		StepID:   stepID,
		Detail:   detail,
	}))
}

func userPayload(ev platform.Event) string {
	switch ev.Kind {
	case platform.EventButton:
		return "button:" + ev.Value
	case platform.EventCommand:
		return "/" + ev.Command
	default:
		return ev.Text
	}
}
