package dwn

import (
	"errors"
	"net/http"

	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/events"
	"github.com/Mindburn-Labs/dwn-core/pkg/grants"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/protocols"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
	"github.com/Mindburn-Labs/dwn-core/pkg/schema"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// errBadRequest marks structural problems found after schema validation.
var errBadRequest = errors.New("dwn: bad request")

// Status is the outcome of processing one message. Codes follow HTTP.
type Status struct {
	Code   int
	Detail string
}

// Reply is what ProcessMessage returns. Only the fields relevant to the
// message kind are set.
type Reply struct {
	Status Status
	// Reason is the denial reason of a 401 caused by authorization, or of
	// a 400 caused by a protocol constraint.
	Reason decision.DenialReason

	// Entries holds query and MessagesGet results.
	Entries []*message.Message
	Cursor  string

	// Record is the latest write of a read record; InitialWrite is set
	// when it differs.
	Record       *message.Message
	InitialWrite *message.Message
	Data         []byte

	Events       []store.Event
	Subscription *events.Subscription
}

// DeniedError carries an authorization denial through the handler path.
type DeniedError struct {
	Decision decision.Decision
}

func (e *DeniedError) Error() string { return e.Decision.String() }

// InvalidError carries a failed protocol constraint of a write. It maps to
// 400 with the constraint's reason.
type InvalidError struct {
	Decision decision.Decision
}

func (e *InvalidError) Error() string { return e.Decision.String() }

func ok(code int) Reply {
	return Reply{Status: Status{Code: code, Detail: http.StatusText(code)}}
}

func errorReply(err error) Reply {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return Reply{
			Status: Status{Code: http.StatusUnauthorized, Detail: err.Error()},
			Reason: denied.Decision.Reason,
		}
	}
	var invalid *InvalidError
	if errors.As(err, &invalid) {
		return Reply{
			Status: Status{Code: http.StatusBadRequest, Detail: err.Error()},
			Reason: invalid.Decision.Reason,
		}
	}
	return Reply{Status: Status{Code: statusCode(err), Detail: err.Error()}}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalid),
		errors.Is(err, errBadRequest),
		errors.Is(err, records.ErrInitialWriteRequired),
		errors.Is(err, records.ErrImmutableProperty),
		errors.Is(err, protocols.ErrInvalidDefinition),
		errors.Is(err, grants.ErrInvalidGrant):
		return http.StatusBadRequest
	case errors.Is(err, crypto.ErrAuthentication),
		errors.Is(err, grants.ErrNotGrantor):
		return http.StatusUnauthorized
	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, grants.ErrGrantNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrConflict),
		errors.Is(err, grants.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
