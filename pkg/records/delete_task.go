package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/tasks"
)

// DeleteTaskName names the resumable record delete.
const DeleteTaskName = "RecordsDelete"

type deleteTaskData struct {
	Tenant  string           `json:"tenant"`
	Message *message.Message `json:"message"`
}

// NewDeleteTask builds the resumable task that applies an accepted
// RecordsDelete and its cascade.
func NewDeleteTask(tenant string, del *message.Message) (tasks.Task, error) {
	return tasks.NewTask(DeleteTaskName, deleteTaskData{Tenant: tenant, Message: del})
}

// DeleteHandler applies a RecordsDelete: it becomes the latest state, the
// superseded messages and payloads are removed and, when pruning, every
// descendant record is purged. Each step tolerates having already run.
type DeleteHandler struct {
	Engine *Engine
}

func (h *DeleteHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var d deleteTaskData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("records: decode delete task: %w", err)
	}
	if d.Message == nil {
		return fmt.Errorf("records: delete task without message")
	}
	del := d.Message
	recordID := del.Descriptor.RecordID

	state, err := Resolve(ctx, h.Engine.messages, d.Tenant, recordID)
	if err != nil {
		return err
	}
	if state == nil {
		// Purged by an ancestor's prune.
		return nil
	}
	if message.IsNewer(state.Latest, del) {
		h.Engine.logger.InfoContext(ctx, "delete superseded before it ran",
			"tenant", d.Tenant, "record_id", recordID)
		return nil
	}

	if err := h.Engine.Apply(ctx, d.Tenant, state, del); err != nil {
		return err
	}
	if err := h.Engine.Cleanup(ctx, d.Tenant, state, del); err != nil {
		return err
	}
	if del.Descriptor.Prune {
		return h.Engine.PurgeChildren(ctx, d.Tenant, recordID)
	}
	return nil
}
