package message

// Index names maintained alongside every stored message.
const (
	IndexInterface          = "interface"
	IndexMethod             = "method"
	IndexMessageTimestamp   = "messageTimestamp"
	IndexAuthor             = "author"
	IndexRecordID           = "recordId"
	IndexContextID          = "contextId"
	IndexProtocol           = "protocol"
	IndexProtocolPath       = "protocolPath"
	IndexSchema             = "schema"
	IndexParentID           = "parentId"
	IndexRecipient          = "recipient"
	IndexDataCID            = "dataCid"
	IndexDataFormat         = "dataFormat"
	IndexDateCreated        = "dateCreated"
	IndexPublished          = "published"
	IndexGrantedTo          = "grantedTo"
	IndexGrantedFor         = "grantedFor"
	IndexPermissionsGrantID = "permissionsGrantId"
	IndexIsLatestBaseState  = "isLatestBaseState"
)

// Indexes extracts the queryable fields of m. The isLatestBaseState flag is
// owned by record state resolution and is not set here.
func Indexes(m *Message) (map[string]any, error) {
	d := m.Descriptor
	idx := map[string]any{
		IndexInterface:        string(d.Interface),
		IndexMethod:           string(d.Method),
		IndexMessageTimestamp: d.MessageTimestamp,
	}
	author, err := Author(m)
	if err != nil {
		return nil, err
	}
	idx[IndexAuthor] = author

	put := func(key, value string) {
		if value != "" {
			idx[key] = value
		}
	}

	switch m.Kind() {
	case KindRecordsWrite:
		put(IndexRecordID, m.RecordID)
		put(IndexContextID, m.ContextID)
		// Flat records index an empty protocol so filters can exclude
		// protocol records.
		idx[IndexProtocol] = d.Protocol
		put(IndexProtocolPath, d.ProtocolPath)
		put(IndexSchema, d.Schema)
		put(IndexParentID, d.ParentID)
		put(IndexRecipient, d.Recipient)
		put(IndexDataCID, d.DataCID)
		put(IndexDataFormat, d.DataFormat)
		put(IndexDateCreated, d.DateCreated)
		idx[IndexPublished] = d.Published
		for k, v := range d.Tags {
			idx["tag."+k] = v
		}
	case KindRecordsDelete:
		put(IndexRecordID, d.RecordID)
	case KindProtocolsConfigure:
		put(IndexProtocol, d.Protocol)
		idx[IndexPublished] = d.Published
	case KindPermissionsGrant:
		put(IndexGrantedTo, d.GrantedTo)
		put(IndexGrantedFor, d.GrantedFor)
		if d.Scope != nil {
			put(IndexProtocol, d.Scope.Protocol)
		}
	case KindPermissionsRevoke:
		put(IndexPermissionsGrantID, d.PermissionsGrantID)
	}

	// Messages invoking a grant are indexed by it so a revocation can find them.
	if m.Kind() != KindPermissionsRevoke {
		put(IndexPermissionsGrantID, GrantID(m))
	}
	return idx, nil
}
