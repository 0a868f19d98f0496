package message

// Kind is the closed set of message types a node understands. Handlers and
// the authorization facade switch on it exhaustively.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecordsWrite
	KindRecordsRead
	KindRecordsQuery
	KindRecordsSubscribe
	KindRecordsDelete
	KindProtocolsConfigure
	KindProtocolsQuery
	KindPermissionsGrant
	KindPermissionsRevoke
	KindMessagesGet
	KindMessagesQuery
)

var kinds = map[Interface]map[Method]Kind{
	InterfaceRecords: {
		MethodWrite:     KindRecordsWrite,
		MethodRead:      KindRecordsRead,
		MethodQuery:     KindRecordsQuery,
		MethodSubscribe: KindRecordsSubscribe,
		MethodDelete:    KindRecordsDelete,
	},
	InterfaceProtocols: {
		MethodConfigure: KindProtocolsConfigure,
		MethodQuery:     KindProtocolsQuery,
	},
	InterfacePermissions: {
		MethodGrant:  KindPermissionsGrant,
		MethodRevoke: KindPermissionsRevoke,
	},
	InterfaceMessages: {
		MethodGet:   KindMessagesGet,
		MethodQuery: KindMessagesQuery,
	},
}

// KindOf maps an interface/method pair to its Kind.
func KindOf(i Interface, m Method) Kind {
	return kinds[i][m]
}

// Kind returns the message's Kind.
func (m *Message) Kind() Kind {
	return KindOf(m.Descriptor.Interface, m.Descriptor.Method)
}

func (k Kind) String() string {
	switch k {
	case KindRecordsWrite:
		return "RecordsWrite"
	case KindRecordsRead:
		return "RecordsRead"
	case KindRecordsQuery:
		return "RecordsQuery"
	case KindRecordsSubscribe:
		return "RecordsSubscribe"
	case KindRecordsDelete:
		return "RecordsDelete"
	case KindProtocolsConfigure:
		return "ProtocolsConfigure"
	case KindProtocolsQuery:
		return "ProtocolsQuery"
	case KindPermissionsGrant:
		return "PermissionsGrant"
	case KindPermissionsRevoke:
		return "PermissionsRevoke"
	case KindMessagesGet:
		return "MessagesGet"
	case KindMessagesQuery:
		return "MessagesQuery"
	default:
		return "Unknown"
	}
}
