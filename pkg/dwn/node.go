// Package dwn is the node surface: it validates, authenticates, authorizes
// and applies one message at a time on behalf of a tenant.
package dwn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/dwn-core/pkg/authz"
	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/events"
	"github.com/Mindburn-Labs/dwn-core/pkg/grants"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/observability"
	"github.com/Mindburn-Labs/dwn-core/pkg/protocols"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
	"github.com/Mindburn-Labs/dwn-core/pkg/schema"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
	taskstore "github.com/Mindburn-Labs/dwn-core/pkg/store/tasks"
	"github.com/Mindburn-Labs/dwn-core/pkg/tasks"
)

// Config holds the collaborators of a Node. Broker and Observability are
// optional.
type Config struct {
	Messages      store.MessageStore
	Events        store.EventLog
	Data          store.DataStore
	Tasks         taskstore.Store
	Resolver      crypto.Resolver
	Broker        *events.Broker
	Observability *observability.Provider
	TaskOptions   tasks.Options
}

// Node processes messages for any number of tenants.
type Node struct {
	messages store.MessageStore
	events   store.EventLog
	data     store.DataStore

	validator *schema.Validator
	auth      *crypto.Authenticator
	records   *records.Engine
	protocols *protocols.Engine
	grants    *grants.Engine
	authz     *authz.Facade
	tasks     *tasks.Manager
	broker    *events.Broker
	obs       *observability.Provider
	logger    *slog.Logger
}

// New wires a Node and registers its resumable task handlers.
func New(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.Messages == nil || cfg.Events == nil || cfg.Data == nil || cfg.Tasks == nil || cfg.Resolver == nil {
		return nil, errors.New("dwn: messages, events, data, tasks and resolver are required")
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	obs := cfg.Observability
	if obs == nil {
		if obs, err = observability.New(ctx, &observability.Config{Enabled: false}); err != nil {
			return nil, err
		}
	}
	broker := cfg.Broker
	if broker == nil {
		broker = events.NewBroker()
	}
	taskOpts := cfg.TaskOptions
	if taskOpts.Observability == nil {
		taskOpts.Observability = obs
	}

	n := &Node{
		messages:  cfg.Messages,
		events:    cfg.Events,
		data:      cfg.Data,
		validator: validator,
		auth:      crypto.NewAuthenticator(cfg.Resolver),
		records:   records.NewEngine(cfg.Messages, cfg.Events, cfg.Data),
		protocols: protocols.NewEngine(cfg.Messages),
		grants:    grants.NewEngine(cfg.Messages, cfg.Events),
		tasks:     tasks.NewManager(cfg.Tasks, taskOpts),
		broker:    broker,
		obs:       obs,
		logger:    slog.Default().With("component", "dwn"),
	}
	n.authz = authz.NewFacade(n.protocols, n.grants)
	n.tasks.Register(records.DeleteTaskName, &records.DeleteHandler{Engine: n.records})
	return n, nil
}

// Broker returns the event broker subscriptions are served from.
func (n *Node) Broker() *events.Broker { return n.broker }

// ResumeTasks finishes tasks left behind by a previous process.
func (n *Node) ResumeTasks(ctx context.Context) error {
	return n.tasks.ResumeTasksAndWaitForCompletion(ctx)
}

// ProcessMessage handles msg for tenant. data is the payload of a
// RecordsWrite and is ignored for other kinds.
func (n *Node) ProcessMessage(ctx context.Context, tenant string, msg *message.Message, data []byte) (reply Reply) {
	ctx, done := n.obs.TrackOperation(ctx, "dwn.process",
		observability.MessageOperation(string(msg.Descriptor.Interface), string(msg.Descriptor.Method))...)
	defer func() {
		observability.SetSpanAttributes(ctx, observability.AttrTenant.String(tenant), observability.AttrStatus.Int(reply.Status.Code))
		if reply.Status.Code >= 500 {
			done(errors.New(reply.Status.Detail))
			return
		}
		done(nil)
	}()

	if err := n.validator.Validate(msg); err != nil {
		return errorReply(err)
	}
	if msg.Authorization != nil {
		if err := n.auth.Authenticate(ctx, msg); err != nil {
			return errorReply(err)
		}
	}

	var err error
	switch msg.Kind() {
	case message.KindRecordsWrite:
		reply, err = n.recordsWrite(ctx, tenant, msg, data)
	case message.KindRecordsRead:
		reply, err = n.recordsRead(ctx, tenant, msg)
	case message.KindRecordsQuery:
		reply, err = n.recordsQuery(ctx, tenant, msg)
	case message.KindRecordsSubscribe:
		reply, err = n.recordsSubscribe(ctx, tenant, msg)
	case message.KindRecordsDelete:
		reply, err = n.recordsDelete(ctx, tenant, msg)
	case message.KindProtocolsConfigure:
		reply, err = n.protocolsConfigure(ctx, tenant, msg)
	case message.KindProtocolsQuery:
		reply, err = n.protocolsQuery(ctx, tenant, msg)
	case message.KindPermissionsGrant:
		reply, err = n.permissionsGrant(ctx, tenant, msg)
	case message.KindPermissionsRevoke:
		reply, err = n.permissionsRevoke(ctx, tenant, msg)
	case message.KindMessagesGet:
		reply, err = n.messagesGet(ctx, tenant, msg)
	case message.KindMessagesQuery:
		reply, err = n.messagesQuery(ctx, tenant, msg)
	case message.KindUnknown:
		err = fmt.Errorf("%w: unsupported message %s%s", errBadRequest, msg.Descriptor.Interface, msg.Descriptor.Method)
	}
	if err != nil {
		reply = errorReply(err)
		if reply.Status.Code >= 500 {
			n.logger.ErrorContext(ctx, "message processing failed",
				"tenant", tenant, "kind", msg.Kind().String(), "error", err)
		}
	}
	return reply
}

// authorize turns a denial into an error carrying its reason.
func (n *Node) authorize(ctx context.Context, tenant string, msg *message.Message, state *records.State) error {
	d, err := n.authz.Authorize(ctx, tenant, msg, state)
	if err != nil {
		return err
	}
	if !d.Allowed {
		observability.SetSpanAttributes(ctx, observability.AttrReason.String(string(d.Reason)))
		n.obs.RecordDenial(ctx, string(d.Reason), observability.MessageOperation(string(msg.Descriptor.Interface), string(msg.Descriptor.Method))...)
		return &DeniedError{Decision: d}
	}
	return nil
}

// publish fans an accepted message out to live subscriptions.
func (n *Node) publish(tenant string, m *message.Message, idx store.Indexes) {
	c, err := message.CID(m)
	if err != nil {
		return
	}
	n.broker.Publish(events.Event{Tenant: tenant, CID: c, Message: m, Indexes: idx})
}

// actorOf returns the logical author of msg, or "" when it is unsigned.
func actorOf(msg *message.Message) string {
	if msg.Authorization == nil {
		return ""
	}
	author, err := message.Author(msg)
	if err != nil {
		return ""
	}
	return author
}
