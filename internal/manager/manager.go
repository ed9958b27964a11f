package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/textroute/sms-router/internal/gateway"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/repository"
	"github.com/textroute/sms-router/pkg/clock"
	"github.com/textroute/sms-router/pkg/logger"
)

var (
	// ErrSensitiveAsync is a caller bug: deferred delivery would require
	// durably queuing sensitive content, which is disallowed. Fix the call
	// site, do not retry.
	ErrSensitiveAsync = errors.New("sensitive messages cannot be sent asynchronously")

	ErrEmptyRecipient = errors.New("recipient is required")

	// ErrMessageNotFound and ErrMultipleMessages are the recoverable
	// exactly-one lookup failures of GetMessage.
	ErrMessageNotFound  = errors.New("message not found")
	ErrMultipleMessages = errors.New("multiple messages match filter")

	ErrGatewayInstanceNotFound = errors.New("gateway instance not found")

	// ErrNoQueue is returned by Enqueue when the manager was built without a
	// dispatch queue.
	ErrNoQueue = errors.New("no dispatch queue configured")
)

type GatewayInstanceRepository interface {
	Create(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error)
	UpdateEnabled(ctx context.Context, id int64, enabled bool) error
	List(ctx context.Context, f model.GatewayInstanceFilter) ([]*model.GatewayInstance, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Update(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, f model.MessageFilter) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	Iterate(ctx context.Context, f model.MessageFilter) (repository.MessageIterator, error)
}

type DeliveryReportRepository interface {
	Create(ctx context.Context, report *model.DeliveryReport) (*model.DeliveryReport, error)
	ListByMessage(ctx context.Context, messageID int64) ([]*model.DeliveryReport, error)
	ListWithReports(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveryReports, int64, error)
}

// DispatchQueue carries async send requests to the processor.
type DispatchQueue interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// SendRequest is the input of Send and Enqueue.
type SendRequest struct {
	Recipient       string  `json:"recipient"`
	Content         *string `json:"content"`
	Component       string  `json:"component"`
	MessageType     string  `json:"message_type"`
	RecipientUserID *int64  `json:"recipient_user_id,omitempty"`
	Sensitive       bool    `json:"sensitive"`
	Async           bool    `json:"async"`
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.Recipient) == "" {
		return ErrEmptyRecipient
	}
	return nil
}

// Candidate is one gateway instance able to handle a message, with the
// priority it reported.
type Candidate struct {
	Instance *model.GatewayInstance
	Gateway  gateway.Gateway
	Priority int
}

// Manager orchestrates gateway instance lifecycle, per-message routing, and
// the send pipeline. It holds no state between calls; everything lives in
// the injected repositories.
type Manager struct {
	instances GatewayInstanceRepository
	messages  MessageRepository
	reports   DeliveryReportRepository
	registry  *gateway.Registry
	clk       clock.Clock
	queue     DispatchQueue
	metrics   *Metrics
}

type Option func(*Manager)

// WithQueue enables the async dispatch path.
func WithQueue(q DispatchQueue) Option {
	return func(m *Manager) { m.queue = q }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func NewManager(
	instances GatewayInstanceRepository,
	messages MessageRepository,
	reports DeliveryReportRepository,
	registry *gateway.Registry,
	opts ...Option,
) *Manager {
	m := &Manager{
		instances: instances,
		messages:  messages,
		reports:   reports,
		registry:  registry,
		clk:       clock.System(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

/* ------------------------- gateway instance lifecycle ------------------------ */

func (m *Manager) CreateGatewayInstance(ctx context.Context, gatewayType string, cfg model.GatewayConfig, enabled bool) (*model.GatewayInstance, error) {
	inst := &model.GatewayInstance{
		Gateway: gatewayType,
		Config:  cfg,
		Enabled: enabled,
	}
	created, err := m.instances.Create(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("create gateway instance: %w", err)
	}
	logger.Info("gateway instance created", "id", created.ID, "gateway", created.Gateway, "enabled", created.Enabled)
	return created, nil
}

// EnableGateway persists enabled=true and returns a fresh record. The input
// record is never mutated; callers must discard their stale reference.
func (m *Manager) EnableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error) {
	return m.setEnabled(ctx, inst, true)
}

// DisableGateway is symmetric with EnableGateway.
func (m *Manager) DisableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error) {
	return m.setEnabled(ctx, inst, false)
}

func (m *Manager) setEnabled(ctx context.Context, inst *model.GatewayInstance, enabled bool) (*model.GatewayInstance, error) {
	updated := inst.WithEnabled(enabled)
	if inst.Enabled == enabled {
		// Idempotent: nothing to persist, but the caller still gets a copy.
		return updated, nil
	}
	if err := m.instances.UpdateEnabled(ctx, inst.ID, enabled); err != nil {
		if errors.Is(err, repository.ErrGatewayInstanceNotFound) {
			return nil, ErrGatewayInstanceNotFound
		}
		return nil, fmt.Errorf("update gateway instance: %w", err)
	}
	return updated, nil
}

// GetGatewayInstance fetches one instance by id.
func (m *Manager) GetGatewayInstance(ctx context.Context, id int64) (*model.GatewayInstance, error) {
	list, err := m.instances.List(ctx, model.GatewayInstanceFilter{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrGatewayInstanceNotFound
	}
	return list[0], nil
}

// GetGatewayInstances lists known instances keyed by id, optionally filtered
// by gateway type. Instances whose type is no longer installed are excluded,
// never an error.
func (m *Manager) GetGatewayInstances(ctx context.Context, gatewayType string) (map[int64]*model.GatewayInstance, error) {
	f := model.GatewayInstanceFilter{}
	if gatewayType != "" {
		f.Gateway = &gatewayType
	}
	return m.listInstalled(ctx, f)
}

// GetEnabledGatewayInstances is GetGatewayInstances restricted to
// enabled records.
func (m *Manager) GetEnabledGatewayInstances(ctx context.Context) (map[int64]*model.GatewayInstance, error) {
	enabled := true
	return m.listInstalled(ctx, model.GatewayInstanceFilter{Enabled: &enabled})
}

func (m *Manager) listInstalled(ctx context.Context, f model.GatewayInstanceFilter) (map[int64]*model.GatewayInstance, error) {
	list, err := m.instances.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list gateway instances: %w", err)
	}
	out := make(map[int64]*model.GatewayInstance, len(list))
	for _, inst := range list {
		if !m.registry.Installed(inst.Gateway) {
			continue
		}
		out[inst.ID] = inst
	}
	return out, nil
}

/* ------------------------------- routing ------------------------------------ */

// GetPossibleGatewaysForMessage returns every enabled, installed gateway
// instance whose implementation reports a usable priority for the message.
// The result is unordered; GetGatewayForMessage resolves the winner.
func (m *Manager) GetPossibleGatewaysForMessage(ctx context.Context, msg *model.Message) ([]Candidate, error) {
	enabled, err := m.GetEnabledGatewayInstances(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(enabled))
	for _, inst := range enabled {
		g, ok := m.registry.Build(inst)
		if !ok {
			continue
		}
		priority := g.SendPriority(msg)
		if priority == gateway.PriorityNone {
			continue
		}
		candidates = append(candidates, Candidate{Instance: inst, Gateway: g, Priority: priority})
	}
	return candidates, nil
}

// GetGatewayForMessage picks the candidate with the highest priority, or nil
// when no gateway can handle the message. Equal priorities are broken by the
// lowest instance id, so the choice is stable across runs.
func (m *Manager) GetGatewayForMessage(ctx context.Context, msg *model.Message) (*Candidate, error) {
	candidates, err := m.GetPossibleGatewaysForMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveCandidates(len(candidates))
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Instance.ID < candidates[j].Instance.ID
	})
	best := candidates[0]
	return &best, nil
}

/* ----------------------------- send pipeline -------------------------------- */

// Send runs the full pipeline synchronously: construct, route, deliver,
// persist. Delivery failures and the no-capable-gateway case are recorded as
// message state, never returned as errors. The async flag only matters for
// the sensitive-content contract; execution is always synchronous here.
func (m *Manager) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if req.Sensitive && req.Async {
		return nil, ErrSensitiveAsync
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	msg := model.NewMessage(model.MessageParams{
		Recipient:       req.Recipient,
		Content:         req.Content,
		Component:       req.Component,
		MessageType:     req.MessageType,
		RecipientUserID: req.RecipientUserID,
		Sensitive:       req.Sensitive,
		TimeCreated:     m.clk.Now().Unix(),
	})

	routingStart := time.Now()
	cand, err := m.GetGatewayForMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveRouting(time.Since(routingStart))

	if cand == nil {
		logger.Warn("no capable gateway for message", "recipient", msg.Recipient, "component", msg.Component)
		msg.Status = model.MessageStatusGatewayNotAvailable
		m.metrics.CountSend(msg.Status, 0)
		return m.SaveMessage(ctx, msg)
	}

	status, sendErr := cand.Gateway.Send(ctx, msg)
	if sendErr != nil {
		logger.Warn("gateway send failed",
			"gateway_instance", cand.Instance.ID, "recipient", msg.Recipient, "error", sendErr)
		status = model.MessageStatusGatewayFailed
	}
	if !status.Valid() {
		status = model.MessageStatusGatewayFailed
	}

	msg.Status = status
	msg.Gateway = &cand.Instance.ID
	m.metrics.CountSend(status, cand.Instance.ID)

	return m.SaveMessage(ctx, msg)
}

// Enqueue publishes a send request for the async processor. The sensitive
// check happens here, before anything reaches the queue.
func (m *Manager) Enqueue(ctx context.Context, req SendRequest) error {
	if req.Sensitive {
		return ErrSensitiveAsync
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if m.queue == nil {
		return ErrNoQueue
	}

	req.Async = true
	id, err := m.queue.PublishJSON(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("enqueue send request: %w", err)
	}
	logger.Debug("send request enqueued", "queue_id", id, "recipient", req.Recipient)
	return nil
}

// SaveMessage is the single persistence funnel: unidentified messages are
// created (assigning their id), identified ones updated. Sensitive content
// is blanked here so it can never reach durable storage.
func (m *Manager) SaveMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	toStore := msg
	if msg.Sensitive && msg.Content != nil {
		blanked, err := msg.With(model.MessageUpdate{ClearContent: true})
		if err != nil {
			return nil, err
		}
		toStore = blanked
	}

	if toStore.ID == 0 {
		created, err := m.messages.Create(ctx, toStore)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		return created, nil
	}

	updated, err := m.messages.Update(ctx, toStore)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}
	return updated, nil
}

// GetMessage fetches exactly one stored message.
func (m *Manager) GetMessage(ctx context.Context, f model.MessageFilter) (*model.Message, error) {
	msg, err := m.messages.Get(ctx, f)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMessageNotFound):
			return nil, ErrMessageNotFound
		case errors.Is(err, repository.ErrMultipleMessages):
			return nil, ErrMultipleMessages
		}
		return nil, err
	}
	return msg, nil
}

// GetMessages returns a lazy iterator over stored messages. Each call
// produces a fresh cursor; the caller must Close it.
func (m *Manager) GetMessages(ctx context.Context, f model.MessageFilter) (repository.MessageIterator, error) {
	return m.messages.Iterate(ctx, f)
}

// ListMessages is the eager, paginated variant used by the HTTP listing.
func (m *Manager) ListMessages(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return m.messages.List(ctx, f)
}

/* ---------------------------- delivery reports ------------------------------- */

// ApplyDeliveryReport records a provider status callback: the message status
// is updated through the value object's single update path and a report row
// is kept for audit.
func (m *Manager) ApplyDeliveryReport(ctx context.Context, report *model.DeliveryReport) (*model.Message, error) {
	msg, err := m.GetMessage(ctx, model.MessageFilter{ID: &report.MessageID})
	if err != nil {
		return nil, err
	}

	status := model.MessageStatus(report.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("invalid delivery status %q", report.Status)
	}

	updated, err := msg.With(model.MessageUpdate{Status: &status})
	if err != nil {
		return nil, err
	}

	saved, err := m.SaveMessage(ctx, updated)
	if err != nil {
		return nil, err
	}

	if m.reports != nil {
		if _, err := m.reports.Create(ctx, report); err != nil {
			logger.Error("failed to record delivery report", "message_id", report.MessageID, "error", err)
		}
	}
	m.metrics.CountDeliveryReport(report.Status)
	return saved, nil
}

// GetDeliveryReports returns every report recorded for one message, oldest
// first. The message must exist.
func (m *Manager) GetDeliveryReports(ctx context.Context, messageID int64) ([]*model.DeliveryReport, error) {
	if _, err := m.GetMessage(ctx, model.MessageFilter{ID: &messageID}); err != nil {
		return nil, err
	}
	return m.reports.ListByMessage(ctx, messageID)
}

// ListMessagesWithReports is the audit view: messages joined with every
// delivery report received for them.
func (m *Manager) ListMessagesWithReports(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveryReports, int64, error) {
	return m.reports.ListWithReports(ctx, f)
}
