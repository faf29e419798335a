package canvassync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"canvas-server/pkg/crosstab"
	"canvas-server/pkg/optimistic"
	"canvas-server/pkg/realtime"
	"canvas-server/shared/constants"
	"canvas-server/shared/models"
)

// Source указывает, откуда пришло изменение состояния узла.
type Source string

// Источники изменений.
const (
	SourceLocal    Source = "local"    // оптимистичное локальное изменение
	SourceServer   Source = "server"   // подтвержденное серверное событие
	SourceSibling  Source = "sibling"  // соседняя вкладка того же устройства
	SourceRollback Source = "rollback" // откат неподтвержденного изменения
)

// NodeChange - одно изменение состояния узла, доставляемое потребителю
// (рендереру канваса).
type NodeChange struct {
	NodeID string
	State  models.NodeState
	Source Source
}

// crossTabPayload - формат сообщения синхронизатора вкладок.
type crossTabPayload struct {
	NodeID string
	State  models.NodeState
}

// Config содержит зависимости сессии. Все три слоя создаются снаружи
// и передаются ссылками: сессия ими не владеет, кроме своей подписки.
type Config struct {
	DocumentID uuid.UUID
	Realtime   *realtime.Manager
	Tab        *crosstab.Tab
	Pending    *optimistic.Manager
	Logger     zerolog.Logger

	// Buffer - емкость канала изменений для потребителя.
	Buffer int
}

// Session связывает три клиентских слоя для одного открытого документа:
// оптимистичные изменения применяются сразу, подписка на топик документа
// подтверждает или откатывает их, принятые состояния ретранслируются
// соседним вкладкам.
type Session struct {
	documentID uuid.UUID
	topic      string

	rt      *realtime.Manager
	tab     *crosstab.Tab
	pending *optimistic.Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	nodes   map[string]models.NodeState
	connErr error
	closed  bool

	changes chan NodeChange
	sub     *realtime.Subscription

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open открывает сессию документа: подписывается на его топик и начинает
// обрабатывать серверные события и межвкладочные сообщения.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.DocumentID == uuid.Nil {
		return nil, errors.New("canvassync: document id is required")
	}
	if cfg.Realtime == nil || cfg.Tab == nil || cfg.Pending == nil {
		return nil, errors.New("canvassync: realtime, tab and pending managers are required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}

	s := &Session{
		documentID: cfg.DocumentID,
		topic:      constants.DocumentTopic(cfg.DocumentID.String()),
		rt:         cfg.Realtime,
		tab:        cfg.Tab,
		pending:    cfg.Pending,
		logger:     cfg.Logger.With().Str("component", "CanvasSession").Str("documentID", cfg.DocumentID.String()).Logger(),
		nodes:      make(map[string]models.NodeState),
		changes:    make(chan NodeChange, cfg.Buffer),
		done:       make(chan struct{}),
	}

	sub, err := s.rt.Subscribe(ctx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("canvassync: subscribe failed: %w", err)
	}
	s.sub = sub

	s.wg.Add(2)
	go s.serverLoop()
	go s.siblingLoop()
	return s, nil
}

// Changes возвращает канал изменений состояния узлов для потребителя.
func (s *Session) Changes() <-chan NodeChange {
	return s.changes
}

// Err возвращает терминальную ошибку подписки на топик документа,
// если она случилась.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

// NodeState возвращает текущее состояние узла в сессии.
func (s *Session) NodeState(nodeID string) (models.NodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.nodes[nodeID]
	return state, ok
}

// ApplyNodeState применяет спекулятивное изменение узла: состояние
// меняется сразу, до серверного подтверждения, прежнее значение
// запоминается для отката, соседние вкладки уведомляются.
func (s *Session) ApplyNodeState(ctx context.Context, nodeID string, next models.NodeState) error {
	if nodeID == "" {
		return errors.New("canvassync: node id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("canvassync: session closed")
	}
	previous, ok := s.nodes[nodeID]
	if !ok {
		previous = models.NodeState{Status: models.NodeStatusIdle}
	}
	s.pending.Add(nodeID, previous)
	s.nodes[nodeID] = next
	s.emitLocked(NodeChange{NodeID: nodeID, State: next, Source: SourceLocal})
	s.mu.Unlock()

	now := time.Now()
	s.tab.Publish(s.topic, crossTabPayload{NodeID: nodeID, State: next}, now)

	// Эфемерное состояние транслируется и другим клиентам документа.
	// Отсутствие соединения не откатывает локальное изменение: его
	// судьбу решит серверное событие.
	payload, err := json.Marshal(models.DocumentUpdatedPayload{
		DocumentID: s.documentID.String(),
		NodeID:     nodeID,
		State:      next,
	})
	if err != nil {
		return err
	}
	if err := s.rt.Broadcast(ctx, s.topic, constants.EventNodeState, payload); err != nil {
		s.logger.Warn().Err(err).Str("nodeID", nodeID).Msg("Failed to broadcast node state")
	}
	return nil
}

// serverLoop обрабатывает события топика документа.
func (s *Session) serverLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.sub.C:
			if !ok {
				return
			}
			if ev.Err != nil {
				// Ошибка соединения не роняет сессию: она видна через
				// Err(), возобновление - забота вызывающего.
				s.logger.Error().Err(ev.Err).Msg("Document subscription terminated")
				s.mu.Lock()
				s.connErr = ev.Err
				s.mu.Unlock()
				return
			}
			s.handleServerEvent(ev)
		case <-s.done:
			return
		}
	}
}

// handleServerEvent подтверждает или откатывает оптимистичные изменения
// по серверному событию и ретранслирует итог соседним вкладкам.
func (s *Session) handleServerEvent(ev realtime.Event) {
	switch ev.Name {
	case constants.EventDocumentUpdated:
	case constants.EventNodeState:
		// Эфемерные состояния других клиентов применяются, но не
		// трогают собственные неподтвержденные изменения.
		s.applyRemoteNodeState(ev.Payload)
		return
	default:
		return
	}

	var payload models.DocumentUpdatedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Malformed document.updated payload")
		return
	}
	if payload.NodeID == "" {
		return
	}

	confirmed := payload.State

	var applied bool
	if payload.State.Status == models.NodeStatusError && !payload.State.Kind.Suppressed() {
		// Сервер сообщил об ошибке: неподтвержденное изменение откатывается.
		if restored, err := s.pending.Rollback(payload.NodeID); err == nil {
			if prev, ok := restored.(models.NodeState); ok {
				s.setNode(payload.NodeID, prev, SourceRollback)
			}
		}
		// Само состояние ошибки тоже доносится до потребителя.
		applied = s.setNode(payload.NodeID, confirmed, SourceServer)
	} else {
		if err := s.pending.Confirm(payload.NodeID); err != nil && !errors.Is(err, optimistic.ErrNotFound) {
			s.logger.Warn().Err(err).Str("nodeID", payload.NodeID).Msg("Failed to confirm optimistic update")
		}
		applied = s.setNode(payload.NodeID, confirmed, SourceServer)
	}
	if !applied {
		return
	}

	// Подтвержденное состояние ретранслируется соседним вкладкам.
	s.tab.Publish(s.topic, crossTabPayload{NodeID: payload.NodeID, State: confirmed}, confirmedTimestamp(confirmed))
}

// applyRemoteNodeState применяет эфемерное состояние чужого клиента.
func (s *Session) applyRemoteNodeState(raw json.RawMessage) {
	var payload models.DocumentUpdatedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.NodeID == "" {
		return
	}
	if s.pending.Pending(payload.NodeID) {
		return
	}
	s.setNode(payload.NodeID, payload.State, SourceServer)
}

// siblingLoop применяет обновления, принятые от соседних вкладок.
func (s *Session) siblingLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-s.tab.Updates():
			if !ok {
				return
			}
			if msg.Stream != s.topic {
				continue
			}
			payload, ok := msg.Payload.(crossTabPayload)
			if !ok {
				continue
			}
			s.setNode(payload.NodeID, payload.State, SourceSibling)
		case <-s.done:
			return
		}
	}
}

// setNode записывает состояние узла и уведомляет потребителя. Возвращает
// false, если состояние отброшено как устаревшее или сессия закрыта.
func (s *Session) setNode(nodeID string, state models.NodeState, source Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if source == SourceServer && s.staleLocked(nodeID, state) {
		s.logger.Debug().Str("nodeID", nodeID).Msg("Dropping stale server node state")
		return false
	}
	s.nodes[nodeID] = state
	s.emitLocked(NodeChange{NodeID: nodeID, State: state, Source: source})
	return true
}

// staleLocked повторяет межвкладочное правило last-write-wins: серверное
// состояние с меткой не новее хранимой отбрасывается, при равенстве
// меток уже принятое состояние остается.
func (s *Session) staleLocked(nodeID string, state models.NodeState) bool {
	cur, ok := s.nodes[nodeID]
	if !ok {
		return false
	}
	curTS := cur.StateTimestamp()
	if curTS.IsZero() {
		return false
	}
	return !state.StateTimestamp().After(curTS)
}

// emitLocked доставляет изменение потребителю, не блокируясь.
func (s *Session) emitLocked(change NodeChange) {
	select {
	case s.changes <- change:
	default:
		s.logger.Warn().Str("nodeID", change.NodeID).Msg("Changes channel full, dropping node change")
	}
}

// Close закрывает сессию и ее подписку на топик документа.
// Общие Tab и Pending остаются жить: ими владеет вызывающий.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.sub.Close()
		s.wg.Wait()
		close(s.changes)
	})
}

// confirmedTimestamp выбирает метку времени для межвкладочного LWW.
func confirmedTimestamp(state models.NodeState) time.Time {
	if ts := state.StateTimestamp(); !ts.IsZero() {
		return ts
	}
	return time.Now()
}
